package consul

import (
	"context"
	"encoding/json"

	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// Decode unmarshals a JSON body into v.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &FormatError{Msg: "decode response", Err: err}
	}
	return nil
}

// Encode marshals v into a JSON body.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &FormatError{Msg: "encode request", Err: err}
	}
	return b, nil
}

// GetJSON issues a GET and decodes the body into a Response. On error the
// Response is zero.
func GetJSON[T any](ctx context.Context, c *Client, path string, set kw.Set) (Response[T], error) {
	body, meta, err := c.Get(ctx, path, set)
	if err != nil {
		return Response[T]{}, err
	}
	var data T
	if err := Decode(body, &data); err != nil {
		return Response[T]{}, err
	}
	return Response[T]{Data: data, Meta: meta}, nil
}

// PutJSON issues a PUT with in encoded as the body (nil for no body) and
// decodes the answer into out (nil to ignore it).
func PutJSON(ctx context.Context, c *Client, path string, set kw.Set, in, out any) error {
	var body []byte
	if in != nil {
		b, err := Encode(in)
		if err != nil {
			return err
		}
		body = b
	}
	resp, err := c.Put(ctx, path, set, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	return Decode(resp, out)
}
