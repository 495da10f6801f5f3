package consul

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultConnectTimeout bounds connection establishment unless
// WithConnectTimeout says otherwise.
const DefaultConnectTimeout = 10 * time.Second

// Client is the entry point to an agent's HTTP API. It is safe for
// concurrent use.
type Client struct {
	base      *url.URL
	transport Transport
	defaults  []kw.Arg
	logger    *zap.Logger
	limiter   *rate.Limiter
	metrics   *clientMetrics

	// transport construction inputs
	httpClient     *http.Client
	tls            *TLSConfig
	tlsConfig      *tls.Config
	requestTimeout time.Duration
	connectTimeout time.Duration
	metricsReg     prometheus.Registerer

	// abortCtx is cancelled by Stop; every request watches it.
	abortCtx context.Context
	abort    context.CancelFunc
}

// New creates a Client for the agent at addr ("" means DefaultAddress).
//
//	c, err := consul.New("127.0.0.1:8500",
//	    consul.WithToken(os.Getenv("CONSUL_HTTP_TOKEN")),
//	    consul.WithRequestTimeout(time.Minute),
//	)
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:         zap.NewNop(),
		connectTimeout: DefaultConnectTimeout,
	}
	c.abortCtx, c.abort = context.WithCancel(context.Background())

	for _, o := range opts {
		if err := o(c); err != nil {
			c.abort()
			return nil, err
		}
	}

	scheme := "http"
	if c.tls != nil {
		tlsCfg, err := c.tls.Build()
		if err != nil {
			c.abort()
			return nil, fmt.Errorf("tls config: %w", err)
		}
		c.tlsConfig = tlsCfg
		scheme = "https"
	}
	base, err := ParseAddress(addr, scheme)
	if err != nil {
		c.abort()
		return nil, err
	}
	c.base = base

	if c.metricsReg != nil {
		m, err := newClientMetrics(c.metricsReg)
		if err != nil {
			c.abort()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		c.metrics = m
	}

	if c.transport == nil {
		hc := c.httpClient
		if hc == nil {
			hc = c.newHTTPClient()
		}
		c.transport = NewHTTPTransport(base, hc)
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(addr string, opts ...Option) *Client {
	c, err := New(addr, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Client) newHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: c.connectTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSClientConfig:     c.tlsConfig,
			TLSHandshakeTimeout: c.connectTimeout,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: c.requestTimeout,
	}
}

// Address returns the agent base URL.
func (c *Client) Address() string { return c.base.String() }

// Logger returns the client's logger.
func (c *Client) Logger() *zap.Logger { return c.logger }

// Stop aborts every in-flight request with ErrOperationAborted and makes
// later requests fail the same way. It is safe to call more than once.
func (c *Client) Stop() { c.abort() }

// Stopped reports whether Stop has been called.
func (c *Client) Stopped() bool { return c.abortCtx.Err() != nil }

// Close stops the client and releases idle connections.
func (c *Client) Close() {
	c.Stop()
	if ic, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		ic.CloseIdleConnections()
	}
}

// Bind validates args against allowed and resolves them on top of the
// client defaults and the caller's defaults. Defaults outside allowed are
// skipped; args are never filtered.
func (c *Client) Bind(allowed kw.Group, defaults []kw.Arg, args ...kw.Arg) (kw.Set, error) {
	if err := kw.Validate(allowed, args...); err != nil {
		return kw.Set{}, err
	}
	all := make([]kw.Arg, 0, len(c.defaults)+len(defaults)+len(args))
	all = appendAllowed(all, allowed, c.defaults)
	all = appendAllowed(all, allowed, defaults)
	all = append(all, args...)
	return kw.Resolve(all...), nil
}

func appendAllowed(dst []kw.Arg, allowed kw.Group, args []kw.Arg) []kw.Arg {
	for _, a := range args {
		if allowed.Contains(a) {
			dst = append(dst, a)
		}
	}
	return dst
}

// Get issues a GET. The metadata is returned alongside a *BadStatusError
// when the agent sent it, so blocking reads of missing resources keep
// their index.
func (c *Client) Get(ctx context.Context, path string, set kw.Set) ([]byte, ResponseMeta, error) {
	reply, err := c.do(ctx, http.MethodGet, path, set, nil)
	if err != nil {
		return nil, ResponseMeta{}, err
	}
	meta, metaErr := parseMeta(reply.Header)
	if err := checkStatus(reply); err != nil {
		return nil, meta, err
	}
	if metaErr != nil {
		return nil, ResponseMeta{}, metaErr
	}
	return reply.Body, meta, nil
}

// Put issues a PUT with body (nil for none).
func (c *Client) Put(ctx context.Context, path string, set kw.Set, body []byte) ([]byte, error) {
	reply, err := c.do(ctx, http.MethodPut, path, set, body)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(reply); err != nil {
		return nil, err
	}
	return reply.Body, nil
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, set kw.Set) ([]byte, error) {
	reply, err := c.do(ctx, http.MethodDelete, path, set, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(reply); err != nil {
		return nil, err
	}
	return reply.Body, nil
}

// do executes one request, routing the token into a header and mapping
// transport failures onto ErrRequestTimedOut and ErrOperationAborted.
func (c *Client) do(ctx context.Context, method, path string, set kw.Set, body []byte) (*Reply, error) {
	if c.Stopped() {
		return nil, fmt.Errorf("%w: %s %s", ErrOperationAborted, method, path)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.abortCtx, cancel)
	defer stop()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.requestError(method, path, err)
		}
	}

	header := make(http.Header)
	if token := Token.GetOr(set, ""); token != "" {
		header.Set(headerToken, token)
	}
	query := set.Query()

	start := time.Now()
	var (
		reply *Reply
		err   error
	)
	switch method {
	case http.MethodGet:
		reply, err = c.transport.Get(ctx, path, query, header)
	case http.MethodPut:
		reply, err = c.transport.Put(ctx, path, query, body, header)
	case http.MethodDelete:
		reply, err = c.transport.Delete(ctx, path, query, header)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	elapsed := time.Since(start)

	if err != nil {
		err = c.requestError(method, path, err)
		c.metrics.observe(method, path, outcomeLabel(err), elapsed)
		c.logger.Debug("consul request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	c.metrics.observe(method, path, strconv.Itoa(reply.Status), elapsed)
	c.logger.Debug("consul request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("query", query),
		zap.Int("status", reply.Status),
		zap.Duration("latency", elapsed),
	)
	return reply, nil
}

func (c *Client) requestError(method, path string, err error) error {
	if c.Stopped() {
		return fmt.Errorf("%w: %s %s", ErrOperationAborted, method, path)
	}
	if errors.Is(err, ErrRequestTimedOut) {
		return err
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %s %s: %v", ErrRequestTimedOut, method, path, err)
	}
	return err
}

func checkStatus(r *Reply) error {
	if r.Status >= 200 && r.Status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(r.Body))
	if msg == "" {
		msg = http.StatusText(r.Status)
	}
	return &BadStatusError{Status: r.Status, Message: msg, Body: r.Body}
}
