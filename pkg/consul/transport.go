package consul

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 64 << 20

// Reply is the raw outcome of one HTTP exchange.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport carries requests to the agent. Implementations must honour ctx
// cancellation and report timeouts as errors matching ErrRequestTimedOut.
type Transport interface {
	Get(ctx context.Context, path, query string, header http.Header) (*Reply, error)
	Put(ctx context.Context, path, query string, body []byte, header http.Header) (*Reply, error)
	Delete(ctx context.Context, path, query string, header http.Header) (*Reply, error)
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPTransport returns a transport sending requests to base.
func NewHTTPTransport(base *url.URL, hc *http.Client) *HTTPTransport {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPTransport{base: base, client: hc}
}

func (t *HTTPTransport) Get(ctx context.Context, path, query string, header http.Header) (*Reply, error) {
	return t.do(ctx, http.MethodGet, path, query, nil, header)
}

func (t *HTTPTransport) Put(ctx context.Context, path, query string, body []byte, header http.Header) (*Reply, error) {
	return t.do(ctx, http.MethodPut, path, query, body, header)
}

func (t *HTTPTransport) Delete(ctx context.Context, path, query string, header http.Header) (*Reply, error) {
	return t.do(ctx, http.MethodDelete, path, query, nil, header)
}

// CloseIdleConnections releases pooled keep-alive connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

func (t *HTTPTransport) do(ctx context.Context, method, path, query string, body []byte, header http.Header) (*Reply, error) {
	target := t.base.String() + path
	if query != "" {
		target += "?" + query
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportError(method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError(method, path, err)
	}
	return &Reply{Status: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func transportError(method, path string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s %s: %v", ErrRequestTimedOut, method, path, err)
	}
	return fmt.Errorf("%s %s: %w", method, path, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
