package watch_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/oliora/ppconsul-sub000/internal/consultest"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/kv"
	"github.com/oliora/ppconsul-sub000/pkg/consul/watch"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type step struct {
	index uint64
	data  string
	err   error
}

// script replays steps, then cancels the watch.
type script struct {
	mu      sync.Mutex
	steps   []step
	queries []consul.BlockingQuery
	cancel  context.CancelFunc
}

func (s *script) fetch(ctx context.Context, q consul.BlockingQuery) (consul.Response[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if len(s.steps) == 0 {
		s.cancel()
		return consul.Response[string]{}, ctx.Err()
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.err != nil {
		return consul.Response[string]{}, st.err
	}
	return consul.Response[string]{Data: st.data, Meta: consul.ResponseMeta{Index: st.index}}, nil
}

func (s *script) indexes() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, q.Index)
	}
	return out
}

func fastBackoff() watch.Option {
	return watch.WithBackoff(watch.Backoff{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2})
}

func run(t *testing.T, steps []step, opts ...watch.Option) ([]string, *script, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &script{steps: steps, cancel: cancel}
	var got []string
	w := watch.New(s.fetch, func(data string, _ consul.ResponseMeta) { got = append(got, data) }, opts...)
	err := w.Run(ctx)
	return got, s, err
}

func TestRun_indexProgression(t *testing.T) {
	got, s, err := run(t, []step{
		{index: 5, data: "a"},
		{index: 5, data: "a"}, // wait elapsed, nothing changed
		{index: 7, data: "b"},
		{index: 3, data: "stale"}, // went backwards
		{index: 8, data: "c"},
	}, fastBackoff())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []uint64{0, 5, 5, 7, 0, 8}, s.indexes())
}

func TestRun_passesWait(t *testing.T) {
	_, s, _ := run(t, []step{{index: 1, data: "x"}}, watch.WithWait(42*time.Second))
	for _, q := range s.queries {
		assert.Equal(t, 42*time.Second, q.Wait)
	}
}

func TestRun_zeroIndexPolls(t *testing.T) {
	got, s, err := run(t, []step{
		{index: 0, data: "a"},
		{index: 0, data: "b"},
	}, fastBackoff())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []uint64{0, 0, 0}, s.indexes(), "0 is never used as a baseline")
}

func TestRun_retriesTransientErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	unavailable := &consul.BadStatusError{Status: http.StatusServiceUnavailable, Message: "No cluster leader"}

	got, _, err := run(t, []step{
		{err: unavailable},
		{err: consul.ErrRequestTimedOut},
		{index: 3, data: "ok"},
	}, fastBackoff(), watch.WithLogger(zap.New(core)))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"ok"}, got)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "watch fetch failed, retrying", logs.All()[0].Message)
	assert.Equal(t, int64(2), logs.All()[1].ContextMap()["failures"])
}

func TestRun_stopsOnPermanentErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"aborted", consul.ErrOperationAborted},
		{"forbidden", &consul.BadStatusError{Status: http.StatusForbidden, Message: "Permission denied"}},
		{"bad argument", &kw.UnsupportedParameterError{Names: []string{"tag"}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, s, err := run(t, []step{{err: tc.err}, {index: 1}}, fastBackoff())
			assert.ErrorIs(t, err, tc.err)
			assert.Len(t, s.queries, 1)
		})
	}
}

func TestRun_maxFailures(t *testing.T) {
	boom := errors.New("connection refused")
	_, s, err := run(t, []step{{err: boom}, {err: boom}, {err: boom}, {index: 1}},
		fastBackoff(), watch.WithMaxFailures(3))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.queries, 3)
}

func TestKey_againstAgent(t *testing.T) {
	fake := consultest.New(t)
	store := kv.New(fake.Client(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan kv.KeyValue, 8)
	w := watch.Key(store, "cfg/mode", func(v kv.KeyValue, _ consul.ResponseMeta) { updates <- v },
		watch.WithWait(5*time.Second))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	first := <-updates
	assert.False(t, first.Valid(), "missing key is delivered as invalid")

	fake.SetKey("cfg/mode", "blue")
	select {
	case v := <-updates:
		assert.Equal(t, "blue", v.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the write")
	}

	fake.SetKey("cfg/other", "x")
	fake.SetKey("cfg/mode", "green")
	select {
	case v := <-updates:
		assert.Equal(t, "green", v.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the second write")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestKey_clientStop(t *testing.T) {
	fake := consultest.New(t)
	c := fake.Client(t)
	fake.SetKey("k", "v")

	w := watch.Key(kv.New(c), "k", func(kv.KeyValue, consul.ResponseMeta) {})
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	c.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, consul.ErrOperationAborted)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after Client.Stop")
	}
}
