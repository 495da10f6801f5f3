package consul

import (
	"net/http"
	"strconv"
	"time"
)

const (
	headerIndex       = "X-Consul-Index"
	headerKnownLeader = "X-Consul-Knownleader"
	headerLastContact = "X-Consul-Lastcontact"
	headerToken       = "X-Consul-Token"
)

// ResponseMeta is the consistency metadata attached to read responses.
type ResponseMeta struct {
	// Index is the resource's consistency index. 0 means absent and is
	// never a meaningful blocking baseline.
	Index uint64

	// KnownLeader reports whether the answering server knew of a leader.
	KnownLeader bool

	// LastContact is how stale a non-leader answer may be.
	LastContact time.Duration
}

// Response pairs a decoded payload with its metadata.
type Response[T any] struct {
	Data T
	Meta ResponseMeta
}

// parseMeta reads ResponseMeta from agent headers. Missing headers leave
// the zero value; malformed ones fail.
func parseMeta(h http.Header) (ResponseMeta, error) {
	var m ResponseMeta

	if v := h.Get(headerIndex); v != "" {
		idx, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return ResponseMeta{}, &FormatError{Msg: "parse " + headerIndex, Err: err}
		}
		m.Index = idx
	}
	if v := h.Get(headerKnownLeader); v != "" {
		known, err := strconv.ParseBool(v)
		if err != nil {
			return ResponseMeta{}, &FormatError{Msg: "parse " + headerKnownLeader, Err: err}
		}
		m.KnownLeader = known
	}
	if v := h.Get(headerLastContact); v != "" {
		ms, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return ResponseMeta{}, &FormatError{Msg: "parse " + headerLastContact, Err: err}
		}
		m.LastContact = time.Duration(ms) * time.Millisecond
	}
	return m, nil
}
