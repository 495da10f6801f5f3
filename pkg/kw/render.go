package kw

import (
	"strconv"
	"strings"
	"time"
)

type signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Token formats a single query token, escaping value.
func Token(name, value string) string {
	return name + "=" + Escape(value)
}

// String renders name=value, or nothing when value is empty.
func String(name, v string) []string {
	if v == "" {
		return nil
	}
	return []string{Token(name, v)}
}

// Flag renders name=1 when v is true and nothing otherwise.
func Flag(name string, v bool) []string {
	if !v {
		return nil
	}
	return []string{name + "=1"}
}

// Bool always renders name=1 or name=0.
func Bool(name string, v bool) []string {
	if v {
		return []string{name + "=1"}
	}
	return []string{name + "=0"}
}

// Int renders a signed integer in decimal.
func Int[T signed](name string, v T) []string {
	return []string{name + "=" + strconv.FormatInt(int64(v), 10)}
}

// Uint renders an unsigned integer in decimal.
func Uint[T unsigned](name string, v T) []string {
	return []string{name + "=" + strconv.FormatUint(uint64(v), 10)}
}

// Seconds renders a duration as whole seconds with an "s" suffix.
func Seconds(name string, d time.Duration) []string {
	return []string{name + "=" + FormatSeconds(d)}
}

// FormatSeconds formats d as "<n>s". A sub-second remainder rounds up so
// that a positive duration never renders as "0s"; negative durations render
// as "0s".
func FormatSeconds(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return strconv.FormatInt(int64(secs), 10) + "s"
}

// Strings renders one name=value token per non-empty element.
func Strings(name string, vs []string) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, String(name, v)...)
	}
	return out
}

// Query renders s as a query string without the leading "?". Keywords are
// visited in name order; tokens of one keyword keep their renderer's order.
func (s Set) Query() string {
	var tokens []string
	for _, a := range s.Args() {
		tokens = append(tokens, a.Tokens()...)
	}
	return strings.Join(tokens, "&")
}

// BuildURL appends the rendered query of s to path. The "?" is omitted when
// nothing renders.
func BuildURL(path string, s Set) string {
	q := s.Query()
	if q == "" {
		return path
	}
	return path + "?" + q
}
