package consul_test

import (
	"testing"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
)

func TestParseAddress_valid(t *testing.T) {
	cases := []struct {
		input  string
		scheme string
		want   string
	}{
		{"", "http", "http://127.0.0.1:8500"},
		{"localhost:8500", "http", "http://localhost:8500"},
		{"consul.service", "https", "https://consul.service"},
		{"https://consul.example.com:8501/", "http", "https://consul.example.com:8501"},
		{"http://10.0.0.1:8500/proxy/consul/", "http", "http://10.0.0.1:8500/proxy/consul"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			u, err := consul.ParseAddress(tc.input, tc.scheme)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.String() != tc.want {
				t.Errorf("got %q, want %q", u.String(), tc.want)
			}
		})
	}
}

func TestParseAddress_invalid(t *testing.T) {
	cases := []string{
		"ftp://consul:8500",            // wrong scheme
		"http://",                      // missing host
		"http://consul:8500/?dc=dc1",   // query not allowed
		"http://consul:8500/#fragment", // fragment not allowed
		"http://[::1",                  // unparsable
	}

	for _, input := range cases {
		input := input
		t.Run(input, func(t *testing.T) {
			if _, err := consul.ParseAddress(input, "http"); err == nil {
				t.Errorf("expected error for %q", input)
			}
		})
	}
}

func TestPath(t *testing.T) {
	cases := []struct {
		segments []string
		want     string
	}{
		{[]string{"status", "leader"}, "/v1/status/leader"},
		{[]string{"kv", "app/config"}, "/v1/kv/app/config"},
		{[]string{"kv", ""}, "/v1/kv/"},
		{[]string{"kv", "a b/c?d"}, "/v1/kv/a%20b/c%3Fd"},
		{[]string{"catalog", "service", "web:v1"}, "/v1/catalog/service/web:v1"},
	}
	for _, tc := range cases {
		if got := consul.Path(tc.segments...); got != tc.want {
			t.Errorf("Path(%q): got %q, want %q", tc.segments, got, tc.want)
		}
	}
}
