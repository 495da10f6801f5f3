package consul_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport answers every request with a canned reply and keeps
// what it was asked.
type recordingTransport struct {
	mu    sync.Mutex
	calls []recordedCall
	reply consul.Reply
	err   error
}

type recordedCall struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func (r *recordingTransport) record(method, path, query string, body []byte, header http.Header) (*consul.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{method, path, query, header, body})
	if r.err != nil {
		return nil, r.err
	}
	reply := r.reply
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	if reply.Header == nil {
		reply.Header = http.Header{}
	}
	return &reply, nil
}

func (r *recordingTransport) Get(_ context.Context, path, query string, h http.Header) (*consul.Reply, error) {
	return r.record(http.MethodGet, path, query, nil, h)
}

func (r *recordingTransport) Put(_ context.Context, path, query string, body []byte, h http.Header) (*consul.Reply, error) {
	return r.record(http.MethodPut, path, query, body, h)
}

func (r *recordingTransport) Delete(_ context.Context, path, query string, h http.Header) (*consul.Reply, error) {
	return r.record(http.MethodDelete, path, query, nil, h)
}

func (r *recordingTransport) last() recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

// blockingServer holds every request until the client gives up or the test
// ends.
func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func TestNew_defaults(t *testing.T) {
	c, err := consul.New("")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "http://127.0.0.1:8500", c.Address())
	assert.NotNil(t, c.Logger())
	assert.False(t, c.Stopped())
}

func TestNew_invalidAddress(t *testing.T) {
	_, err := consul.New("ftp://consul:8500")
	assert.Error(t, err)
}

func TestNew_invalidRateLimit(t *testing.T) {
	_, err := consul.New("", consul.WithRateLimit(0, 1))
	assert.Error(t, err)
}

func TestNew_tlsDefaultsToHTTPS(t *testing.T) {
	c, err := consul.New("consul.local:8501", consul.WithInsecureSkipVerify())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "https://consul.local:8501", c.Address())
}

func TestMustNew_panicsOnError(t *testing.T) {
	assert.Panics(t, func() { consul.MustNew("http://") })
}

func TestGet_parsesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/app", r.URL.Path)
		assert.Equal(t, "dc=east", r.URL.RawQuery)
		w.Header().Set("X-Consul-Index", "42")
		w.Header().Set("X-Consul-Knownleader", "true")
		w.Header().Set("X-Consul-Lastcontact", "15")
		_, _ = io.WriteString(w, `["a","b"]`)
	}))
	defer srv.Close()

	c := consul.MustNew(srv.URL)
	defer c.Close()

	resp, err := consul.GetJSON[[]string](context.Background(), c, "/v1/kv/app", kw.Resolve(consul.DC.Set("east")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, resp.Data)
	assert.Equal(t, uint64(42), resp.Meta.Index)
	assert.True(t, resp.Meta.KnownLeader)
	assert.Equal(t, 15*time.Millisecond, resp.Meta.LastContact)
}

func TestGet_malformedMetadata(t *testing.T) {
	rt := &recordingTransport{reply: consul.Reply{Header: http.Header{"X-Consul-Index": {"not-a-number"}}}}
	c := consul.MustNew("", consul.WithTransport(rt))

	_, _, err := c.Get(context.Background(), "/v1/status/leader", kw.Set{})
	require.Error(t, err)
	assert.ErrorIs(t, err, consul.ErrFormat)
}

func TestGet_malformedBody(t *testing.T) {
	rt := &recordingTransport{reply: consul.Reply{Body: []byte("{")}}
	c := consul.MustNew("", consul.WithTransport(rt))

	_, err := consul.GetJSON[map[string]string](context.Background(), c, "/v1/agent/self", kw.Set{})
	var fe *consul.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestGetJSON_partialDecodeReturnsZeroResponse(t *testing.T) {
	rt := &recordingTransport{reply: consul.Reply{
		Header: http.Header{"X-Consul-Index": {"42"}},
		Body:   []byte(`["dc1", 2, "dc3"]`),
	}}
	c := consul.MustNew("", consul.WithTransport(rt))

	resp, err := consul.GetJSON[[]string](context.Background(), c, "/v1/catalog/datacenters", kw.Set{})
	require.Error(t, err)
	assert.ErrorIs(t, err, consul.ErrFormat)
	assert.Nil(t, resp.Data)
	assert.Zero(t, resp.Meta)
}

func TestGet_notFoundKeepsMeta(t *testing.T) {
	rt := &recordingTransport{reply: consul.Reply{
		Status: http.StatusNotFound,
		Header: http.Header{"X-Consul-Index": {"7"}},
	}}
	c := consul.MustNew("", consul.WithTransport(rt))

	_, meta, err := c.Get(context.Background(), "/v1/kv/missing", kw.Set{})
	require.Error(t, err)
	assert.True(t, consul.IsNotFound(err))
	assert.ErrorIs(t, err, consul.ErrBadStatus)
	assert.Equal(t, uint64(7), meta.Index)

	var bs *consul.BadStatusError
	require.ErrorAs(t, err, &bs)
	assert.Equal(t, http.StatusNotFound, bs.Status)
	assert.Equal(t, "Not Found", bs.Message)
}

func TestPut_badStatusCarriesMessage(t *testing.T) {
	rt := &recordingTransport{reply: consul.Reply{
		Status: http.StatusInternalServerError,
		Body:   []byte("Missing node registration\n"),
	}}
	c := consul.MustNew("", consul.WithTransport(rt))

	_, err := c.Put(context.Background(), "/v1/agent/service/register", kw.Set{}, []byte("{}"))
	require.Error(t, err)
	assert.False(t, consul.IsNotFound(err))

	var bs *consul.BadStatusError
	require.ErrorAs(t, err, &bs)
	assert.Equal(t, "Missing node registration", bs.Message)
	assert.Equal(t, "{}", string(rt.last().Body))
}

func TestPutJSON_encodesAndDecodes(t *testing.T) {
	rt := &recordingTransport{reply: consul.Reply{Body: []byte(`{"ID":"abc"}`)}}
	c := consul.MustNew("", consul.WithTransport(rt))

	var out struct{ ID string }
	err := consul.PutJSON(context.Background(), c, "/v1/session/create", kw.Set{}, map[string]string{"Name": "lock"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.ID)
	assert.JSONEq(t, `{"Name":"lock"}`, string(rt.last().Body))
}

func TestPutJSON_unencodable(t *testing.T) {
	c := consul.MustNew("", consul.WithTransport(&recordingTransport{}))
	err := consul.PutJSON(context.Background(), c, "/v1/kv/x", kw.Set{}, func() {}, nil)
	assert.ErrorIs(t, err, consul.ErrFormat)
}

func TestToken_sentAsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Consul-Token"))
		assert.Empty(t, r.URL.Query().Get("token"))
		_, _ = io.WriteString(w, `"10.0.0.1:8300"`)
	}))
	defer srv.Close()

	c := consul.MustNew(srv.URL, consul.WithToken("secret"))
	defer c.Close()

	set, err := c.Bind(consul.GroupAuth, nil)
	require.NoError(t, err)
	resp, err := consul.GetJSON[string](context.Background(), c, "/v1/status/leader", set)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8300", resp.Data)
}

func TestBind_layering(t *testing.T) {
	c := consul.MustNew("", consul.WithDatacenter("dc1"), consul.WithToken("client"))

	set, err := c.Bind(consul.GroupQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, "dc1", consul.DC.GetOr(set, ""))
	assert.Equal(t, "client", consul.Token.GetOr(set, ""))

	set, err = c.Bind(consul.GroupQuery, []kw.Arg{consul.DC.Set("dc2")})
	require.NoError(t, err)
	assert.Equal(t, "dc2", consul.DC.GetOr(set, ""), "facade default beats client default")

	set, err = c.Bind(consul.GroupQuery, []kw.Arg{consul.DC.Set("dc2")}, consul.DC.Set("dc3"))
	require.NoError(t, err)
	assert.Equal(t, "dc3", consul.DC.GetOr(set, ""), "call argument beats every default")

	set, err = c.Bind(consul.GroupAuth, nil)
	require.NoError(t, err)
	assert.False(t, set.Has(consul.DC), "defaults outside the group are skipped")
}

func TestBind_rejectsUnsupported(t *testing.T) {
	c := consul.MustNew("")
	_, err := c.Bind(consul.GroupAuth, nil, consul.DC.Set("dc1"), consul.Tag.Set("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, kw.ErrUnsupportedParameter)

	var ue *kw.UnsupportedParameterError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"dc", "tag"}, ue.Names)
}

func TestRequestTimeout(t *testing.T) {
	srv := blockingServer(t)
	c := consul.MustNew(srv.URL, consul.WithRequestTimeout(10*time.Millisecond))
	defer c.Close()

	start := time.Now()
	_, _, err := c.Get(context.Background(), "/v1/kv/key", kw.Resolve(consul.Block(5*time.Second, 7)))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, consul.ErrRequestTimedOut)
	assert.False(t, errors.Is(err, consul.ErrOperationAborted))
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestContextDeadline(t *testing.T) {
	srv := blockingServer(t)
	c := consul.MustNew(srv.URL)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := c.Get(ctx, "/v1/kv/key", kw.Set{})
	assert.ErrorIs(t, err, consul.ErrRequestTimedOut)
}

func TestStop_abortsBlockingCall(t *testing.T) {
	srv := blockingServer(t)
	c := consul.MustNew(srv.URL)

	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Stop()
	}()

	start := time.Now()
	body, _, err := c.Get(context.Background(), "/v1/kv/key", kw.Resolve(consul.Block(10*time.Minute, 1)))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, consul.ErrOperationAborted)
	assert.Nil(t, body)
	assert.Less(t, elapsed, time.Second)
}

func TestStop_failsLaterCalls(t *testing.T) {
	rt := &recordingTransport{}
	c := consul.MustNew("", consul.WithTransport(rt))
	c.Stop()
	c.Stop()

	assert.True(t, c.Stopped())
	_, err := c.Put(context.Background(), "/v1/kv/x", kw.Set{}, nil)
	assert.ErrorIs(t, err, consul.ErrOperationAborted)
	_, err = c.Delete(context.Background(), "/v1/kv/x", kw.Set{})
	assert.ErrorIs(t, err, consul.ErrOperationAborted)
	assert.Empty(t, rt.calls, "nothing reaches the transport after Stop")
}

func TestRateLimit_waitsForToken(t *testing.T) {
	rt := &recordingTransport{}
	c := consul.MustNew("", consul.WithTransport(rt), consul.WithRateLimit(1, 1))

	_, _, err := c.Get(context.Background(), "/v1/status/leader", kw.Set{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = c.Get(ctx, "/v1/status/leader", kw.Set{})
	require.Error(t, err, "second call cannot get a token within the deadline")
	assert.Len(t, rt.calls, 1)
}

func TestMetrics_recordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := &recordingTransport{}
	c := consul.MustNew("", consul.WithTransport(rt), consul.WithMetrics(reg))

	_, _, err := c.Get(context.Background(), "/v1/kv/a/b/c", kw.Set{})
	require.NoError(t, err)

	rt.reply.Status = http.StatusNotFound
	_, _, err = c.Get(context.Background(), "/v1/kv/other", kw.Set{})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "ppconsul_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per status")

	n, err = testutil.GatherAndCount(reg, "ppconsul_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "keys never become label values")

	// A second client on the same registry reuses the collectors.
	_, err = consul.New("", consul.WithTransport(rt), consul.WithMetrics(reg))
	assert.NoError(t, err)
}

func TestTransport_recordsRequest(t *testing.T) {
	rt := &recordingTransport{}
	c := consul.MustNew("", consul.WithTransport(rt))

	set := kw.Resolve(consul.DC.Set("dc1"), consul.Consistency.Set(consul.Stale), consul.Token.Set("t"))
	_, err := c.Delete(context.Background(), consul.Path("kv", "app/x"), set)
	require.NoError(t, err)

	call := rt.last()
	assert.Equal(t, http.MethodDelete, call.Method)
	assert.Equal(t, "/v1/kv/app/x", call.Path)
	assert.Equal(t, "consistency=stale&dc=dc1", call.Query)
	assert.Equal(t, "t", call.Header.Get("X-Consul-Token"))
}
