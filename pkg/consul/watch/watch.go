// Package watch turns blocking queries into change notifications. A
// Watcher keeps one blocking query outstanding, calls its handler each time
// the consistency index moves, and backs off on failures.
package watch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/health"
	"github.com/oliora/ppconsul-sub000/pkg/consul/kv"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"go.uber.org/zap"
)

// DefaultWait is how long each blocking query may be held by the agent.
const DefaultWait = 5 * time.Minute

// Fetch runs one blocking read for q.
type Fetch[T any] func(ctx context.Context, q consul.BlockingQuery) (consul.Response[T], error)

// Handler receives the data each time it changes.
type Handler[T any] func(data T, meta consul.ResponseMeta)

type config struct {
	wait        time.Duration
	backoff     Backoff
	maxFailures int
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*config)

// WithWait sets the blocking wait of each query.
func WithWait(d time.Duration) Option {
	return func(c *config) { c.wait = d }
}

// WithBackoff sets the retry backoff.
func WithBackoff(b Backoff) Option {
	return func(c *config) { c.backoff = b }
}

// WithMaxFailures stops the watch after n consecutive failures. 0 retries
// forever.
func WithMaxFailures(n int) Option {
	return func(c *config) { c.maxFailures = n }
}

// WithLogger sets the logger for retries and index resets.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Watcher repeatedly runs a blocking query.
type Watcher[T any] struct {
	fetch   Fetch[T]
	handler Handler[T]
	cfg     config
}

// New creates a Watcher. It does nothing until Run.
func New[T any](fetch Fetch[T], handler Handler[T], opts ...Option) *Watcher[T] {
	cfg := config{
		wait:    DefaultWait,
		backoff: DefaultBackoff(),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.backoff = cfg.backoff.normalize()
	return &Watcher[T]{fetch: fetch, handler: handler, cfg: cfg}
}

// Run watches until ctx is done, the client is stopped, or a failure that
// retrying cannot fix. It returns the error that ended the watch.
func (w *Watcher[T]) Run(ctx context.Context) error {
	var (
		index    uint64
		failures int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, err := w.fetch(ctx, consul.BlockingQuery{Wait: w.cfg.wait, Index: index})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !retryable(err) {
				return err
			}
			failures++
			if w.cfg.maxFailures > 0 && failures >= w.cfg.maxFailures {
				return err
			}
			d := w.cfg.backoff.delay(failures)
			w.cfg.logger.Warn("watch fetch failed, retrying",
				zap.Int("failures", failures),
				zap.Duration("backoff", d),
				zap.Error(err),
			)
			if err := sleep(ctx, d); err != nil {
				return err
			}
			continue
		}
		failures = 0

		next := r.Meta.Index
		switch {
		case next == 0:
			// No index to block on: deliver and poll after a pause.
			w.handler(r.Data, r.Meta)
			if err := sleep(ctx, w.cfg.backoff.InitialDelay); err != nil {
				return err
			}
		case next < index:
			w.cfg.logger.Debug("watch index went backwards, resetting",
				zap.Uint64("index", index),
				zap.Uint64("next", next),
			)
			index = 0
		case next > index:
			index = next
			w.handler(r.Data, r.Meta)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryable reports whether err may go away on its own. Aborts, bad
// arguments and client errors other than rate limiting do not.
func retryable(err error) bool {
	switch {
	case errors.Is(err, consul.ErrOperationAborted),
		errors.Is(err, kw.ErrMissingParameter),
		errors.Is(err, kw.ErrUnsupportedParameter):
		return false
	}
	var bs *consul.BadStatusError
	if errors.As(err, &bs) {
		return bs.Status >= 500 || bs.Status == http.StatusTooManyRequests
	}
	return true
}

// Key watches one key. The handler receives an invalid KeyValue while the
// key does not exist.
func Key(store *kv.KV, key string, handler Handler[kv.KeyValue], opts ...Option) *Watcher[kv.KeyValue] {
	fetch := func(ctx context.Context, q consul.BlockingQuery) (consul.Response[kv.KeyValue], error) {
		return store.ItemResponse(ctx, key, consul.BlockFor.Set(q))
	}
	return New(fetch, handler, opts...)
}

// Prefix watches every key under prefix.
func Prefix(store *kv.KV, prefix string, handler Handler[[]kv.KeyValue], opts ...Option) *Watcher[[]kv.KeyValue] {
	fetch := func(ctx context.Context, q consul.BlockingQuery) (consul.Response[[]kv.KeyValue], error) {
		return store.ItemsResponse(ctx, prefix, consul.BlockFor.Set(q))
	}
	return New(fetch, handler, opts...)
}

// Service watches the instances of a service and their health. args are
// passed to every query, e.g. health.Passing.Set(true).
func Service(h *health.Health, name string, handler Handler[[]health.ServiceEntry], args []kw.Arg, opts ...Option) *Watcher[[]health.ServiceEntry] {
	fetch := func(ctx context.Context, q consul.BlockingQuery) (consul.Response[[]health.ServiceEntry], error) {
		return h.ServiceResponse(ctx, name, append(append([]kw.Arg(nil), args...), consul.BlockFor.Set(q))...)
	}
	return New(fetch, handler, opts...)
}
