package consul

import (
	"fmt"
	"net/http"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding the TLS and timeout
// options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTransport replaces the HTTP transport entirely.
func WithTransport(t Transport) Option {
	return func(c *Client) error {
		c.transport = t
		return nil
	}
}

// WithTLS configures HTTPS. Addresses without a scheme default to https.
// Repeated TLS options merge: non-empty fields replace earlier ones and
// InsecureSkipVerify stays set once any option sets it. Files are loaded by
// New.
func WithTLS(cfg TLSConfig) Option {
	return func(c *Client) error {
		if c.tls == nil {
			c.tls = &TLSConfig{}
		}
		c.tls.merge(cfg)
		return nil
	}
}

// WithTLSFromDir loads cert.pem, key.pem and (optionally) ca.pem from dir.
func WithTLSFromDir(dir string) Option {
	return WithTLS(TLSConfigFromDir(dir))
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated CA.
func WithInsecureSkipVerify() Option {
	return WithTLS(TLSConfig{InsecureSkipVerify: true})
}

// WithRequestTimeout bounds each request, including the time an agent holds
// a blocking query. 0 means no limit.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.requestTimeout = d
		return nil
	}
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.connectTimeout = d
		return nil
	}
}

// WithDatacenter sets the default datacenter for endpoints that accept one.
func WithDatacenter(dc string) Option {
	return WithDefaults(DC.Set(dc))
}

// WithToken sets the default ACL token.
func WithToken(token string) Option {
	return WithDefaults(Token.Set(token))
}

// WithDefaults adds arguments applied to every call whose keyword group
// accepts them. Call arguments override them.
func WithDefaults(args ...kw.Arg) Option {
	return func(c *Client) error {
		c.defaults = append(c.defaults, args...)
		return nil
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
		return nil
	}
}

// WithRateLimit caps the client at rps requests per second with the given
// burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rate limit: rps and burst must be positive")
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithMetrics registers request counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		c.metricsReg = reg
		return nil
	}
}
