package consul

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultAddress is the local agent's HTTP address.
	DefaultAddress = "127.0.0.1:8500"

	// APIVersion is the path prefix of every endpoint.
	APIVersion = "v1"
)

// ParseAddress parses an agent address. Accepted forms are "host:port",
// "host" and "scheme://host[:port][/prefix]". defaultScheme is used when
// addr carries none; an empty addr means DefaultAddress.
func ParseAddress(addr, defaultScheme string) (*url.URL, error) {
	if addr == "" {
		addr = DefaultAddress
	}
	if !strings.Contains(addr, "://") {
		addr = defaultScheme + "://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: expected http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in address %q", addr)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("address %q must not carry a query or fragment", addr)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u, nil
}

// Path builds an endpoint path under the API version prefix. Each segment
// is percent-encoded except for '/', so KV keys keep their hierarchy.
//
//	Path("kv", "app/config") == "/v1/kv/app/config"
func Path(segments ...string) string {
	var b strings.Builder
	b.WriteString("/" + APIVersion)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(escapePath(s))
	}
	return b.String()
}

func escapePath(s string) string {
	parts := strings.Split(s, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
