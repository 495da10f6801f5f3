// Package kv wraps the key/value store endpoints (/v1/kv and /v1/txn).
package kv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// Keywords accepted by writes.
var (
	// Flags is the opaque 64-bit value stored next to a key.
	Flags = kw.New[uint64]("flags", kw.Uint[uint64])
)

// Query keywords built by the facade itself.
var (
	recurse   = kw.New[bool]("recurse", kw.Flag)
	keysOnly  = kw.New[bool]("keys", kw.Flag)
	separator = kw.New[string]("separator", kw.String)
	cas       = kw.New[uint64]("cas", kw.Uint[uint64])
	acquire   = kw.New[string]("acquire", kw.String)
	release   = kw.New[string]("release", kw.String)
)

var (
	readGroup  = consul.GroupQuery
	writeGroup = consul.GroupDC.With(Flags)
)

// KeyValue is one stored entry. The zero value is the invalid entry
// returned for missing keys.
type KeyValue struct {
	Key         string
	Value       string
	Flags       uint64
	Session     string
	CreateIndex uint64
	ModifyIndex uint64
	LockIndex   uint64
}

// Valid reports whether the entry exists.
func (v KeyValue) Valid() bool { return v.ModifyIndex != 0 }

// wireKeyValue is the JSON form. Value arrives base64 encoded, which
// encoding/json decodes into a []byte.
type wireKeyValue struct {
	Key         string `json:"Key"`
	Value       []byte `json:"Value"`
	Flags       uint64 `json:"Flags"`
	Session     string `json:"Session,omitempty"`
	CreateIndex uint64 `json:"CreateIndex"`
	ModifyIndex uint64 `json:"ModifyIndex"`
	LockIndex   uint64 `json:"LockIndex"`
}

func (w wireKeyValue) keyValue() KeyValue {
	return KeyValue{
		Key:         w.Key,
		Value:       string(w.Value),
		Flags:       w.Flags,
		Session:     w.Session,
		CreateIndex: w.CreateIndex,
		ModifyIndex: w.ModifyIndex,
		LockIndex:   w.LockIndex,
	}
}

// KV is the key/value store facade.
type KV struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates a KV facade. defaults apply to every call that accepts them.
func New(c *consul.Client, defaults ...kw.Arg) *KV {
	return &KV{c: c, defaults: defaults}
}

func (s *KV) bind(group kw.Group, args []kw.Arg) (kw.Set, error) {
	return s.c.Bind(group, s.defaults, args...)
}

func keyPath(key string) string { return consul.Path("kv", key) }

// Count returns 1 when key exists and 0 otherwise.
func (s *KV) Count(ctx context.Context, key string, args ...kw.Arg) (int, error) {
	item, err := s.Item(ctx, key, args...)
	if err != nil {
		return 0, err
	}
	if item.Valid() {
		return 1, nil
	}
	return 0, nil
}

// Size returns the number of keys in the store.
func (s *KV) Size(ctx context.Context, args ...kw.Arg) (int, error) {
	keys, err := s.Keys(ctx, "", args...)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Empty reports whether the store holds no keys.
func (s *KV) Empty(ctx context.Context, args ...kw.Arg) (bool, error) {
	n, err := s.Size(ctx, args...)
	return n == 0, err
}

// Erase deletes key. Deleting a missing key succeeds.
func (s *KV) Erase(ctx context.Context, key string, args ...kw.Arg) error {
	set, err := s.bind(consul.GroupDC, args)
	if err != nil {
		return err
	}
	_, err = s.c.Delete(ctx, keyPath(key), set)
	return err
}

// EraseAll deletes every key starting with prefix ("" clears the store).
func (s *KV) EraseAll(ctx context.Context, prefix string, args ...kw.Arg) error {
	set, err := s.bind(consul.GroupDC, args)
	if err != nil {
		return err
	}
	_, err = s.c.Delete(ctx, keyPath(prefix), set.With(recurse.Set(true)))
	return err
}

// Get returns the value of key, or def when the key does not exist.
func (s *KV) Get(ctx context.Context, key, def string, args ...kw.Arg) (string, error) {
	item, err := s.Item(ctx, key, args...)
	if err != nil {
		return "", err
	}
	if !item.Valid() {
		return def, nil
	}
	return item.Value, nil
}

// Item returns the entry for key. A missing key yields an invalid entry,
// not an error.
func (s *KV) Item(ctx context.Context, key string, args ...kw.Arg) (KeyValue, error) {
	r, err := s.ItemResponse(ctx, key, args...)
	return r.Data, err
}

// ItemResponse is Item with the response metadata, for blocking reads. The
// metadata of a missing key is kept so that a watch can block on it.
func (s *KV) ItemResponse(ctx context.Context, key string, args ...kw.Arg) (consul.Response[KeyValue], error) {
	var r consul.Response[KeyValue]
	set, err := s.bind(readGroup, args)
	if err != nil {
		return r, err
	}
	body, meta, err := s.c.Get(ctx, keyPath(key), set)
	r.Meta = meta
	if consul.IsNotFound(err) {
		return r, nil
	}
	if err != nil {
		return r, err
	}
	var wire []wireKeyValue
	if err := consul.Decode(body, &wire); err != nil {
		return consul.Response[KeyValue]{}, err
	}
	if len(wire) > 0 {
		r.Data = wire[0].keyValue()
	}
	return r, nil
}

// Items returns every entry whose key starts with prefix.
func (s *KV) Items(ctx context.Context, prefix string, args ...kw.Arg) ([]KeyValue, error) {
	r, err := s.ItemsResponse(ctx, prefix, args...)
	return r.Data, err
}

// ItemsResponse is Items with the response metadata.
func (s *KV) ItemsResponse(ctx context.Context, prefix string, args ...kw.Arg) (consul.Response[[]KeyValue], error) {
	var r consul.Response[[]KeyValue]
	set, err := s.bind(readGroup, args)
	if err != nil {
		return r, err
	}
	body, meta, err := s.c.Get(ctx, keyPath(prefix), set.With(recurse.Set(true)))
	r.Meta = meta
	if consul.IsNotFound(err) {
		r.Data = []KeyValue{}
		return r, nil
	}
	if err != nil {
		return r, err
	}
	var wire []wireKeyValue
	if err := consul.Decode(body, &wire); err != nil {
		return consul.Response[[]KeyValue]{}, err
	}
	r.Data = make([]KeyValue, 0, len(wire))
	for _, w := range wire {
		r.Data = append(r.Data, w.keyValue())
	}
	return r, nil
}

// Keys returns every key starting with prefix.
func (s *KV) Keys(ctx context.Context, prefix string, args ...kw.Arg) ([]string, error) {
	r, err := s.keys(ctx, prefix, "", args)
	return r.Data, err
}

// SubKeys returns the keys one level below prefix: keys are truncated
// after the first sep that follows prefix, and duplicates collapse.
func (s *KV) SubKeys(ctx context.Context, prefix, sep string, args ...kw.Arg) ([]string, error) {
	r, err := s.keys(ctx, prefix, sep, args)
	return r.Data, err
}

// KeysResponse is Keys with the response metadata.
func (s *KV) KeysResponse(ctx context.Context, prefix string, args ...kw.Arg) (consul.Response[[]string], error) {
	return s.keys(ctx, prefix, "", args)
}

func (s *KV) keys(ctx context.Context, prefix, sep string, args []kw.Arg) (consul.Response[[]string], error) {
	var r consul.Response[[]string]
	set, err := s.bind(readGroup, args)
	if err != nil {
		return r, err
	}
	set = set.With(keysOnly.Set(true), separator.Set(sep))
	body, meta, err := s.c.Get(ctx, keyPath(prefix), set)
	r.Meta = meta
	if consul.IsNotFound(err) {
		r.Data = []string{}
		return r, nil
	}
	if err != nil {
		return r, err
	}
	if err := consul.Decode(body, &r.Data); err != nil {
		return consul.Response[[]string]{}, err
	}
	if r.Data == nil {
		r.Data = []string{}
	}
	return r, nil
}

// Set stores value under key. A refused write is an *consul.UpdateError.
func (s *KV) Set(ctx context.Context, key, value string, args ...kw.Arg) error {
	ok, err := s.put(ctx, key, value, args)
	if err != nil {
		return err
	}
	if !ok {
		return &consul.UpdateError{Key: key, Op: "set"}
	}
	return nil
}

// CompareSet stores value only if the key's ModifyIndex equals index. Index
// 0 means "only if the key does not exist".
func (s *KV) CompareSet(ctx context.Context, key string, index uint64, value string, args ...kw.Arg) (bool, error) {
	return s.put(ctx, key, value, args, cas.Set(index))
}

// Lock stores value and acquires key for session. It reports whether the
// lock was taken.
func (s *KV) Lock(ctx context.Context, key, session, value string, args ...kw.Arg) (bool, error) {
	return s.put(ctx, key, value, args, acquire.Set(session))
}

// Unlock stores value and releases key held by session.
func (s *KV) Unlock(ctx context.Context, key, session, value string, args ...kw.Arg) (bool, error) {
	return s.put(ctx, key, value, args, release.Set(session))
}

func (s *KV) put(ctx context.Context, key, value string, args []kw.Arg, extra ...kw.Arg) (bool, error) {
	set, err := s.bind(writeGroup, args)
	if err != nil {
		return false, err
	}
	set = set.With(extra...)
	body, err := s.c.Put(ctx, keyPath(key), set, []byte(value))
	if err != nil {
		return false, err
	}
	return parseBool(body)
}

func parseBool(body []byte) (bool, error) {
	ok, err := strconv.ParseBool(strings.TrimSpace(string(body)))
	if err != nil {
		return false, &consul.FormatError{Msg: fmt.Sprintf("expected true or false, got %q", body), Err: err}
	}
	return ok, nil
}

// Commit runs ops as one transaction. It returns the entries produced by
// get-style and write operations. A rolled back transaction is a
// *TxnError.
func (s *KV) Commit(ctx context.Context, ops []TxnOp, args ...kw.Arg) ([]KeyValue, error) {
	set, err := s.bind(consul.GroupDC, args)
	if err != nil {
		return nil, err
	}

	wire := make([]wireTxnOp, 0, len(ops))
	for _, op := range ops {
		wire = append(wire, op.wire())
	}
	body, err := consul.Encode(wire)
	if err != nil {
		return nil, err
	}

	resp, err := s.c.Put(ctx, consul.Path("txn"), set, body)
	var bs *consul.BadStatusError
	if errors.As(err, &bs) && bs.Status == http.StatusConflict {
		resp, err = bs.Body, nil
	}
	if err != nil {
		return nil, err
	}

	var result wireTxnResult
	if err := consul.Decode(resp, &result); err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		return nil, &TxnError{Errors: result.Errors}
	}
	out := make([]KeyValue, 0, len(result.Results))
	for _, r := range result.Results {
		if r.KV != nil {
			out = append(out, r.KV.keyValue())
		}
	}
	return out, nil
}
