// Package consultest runs an in-process fake Consul agent for tests. It
// keeps real state (keys, sessions, catalog, checks) and honours blocking
// queries, so client code can be exercised end to end without a cluster.
package consultest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
)

// Request is what the agent saw of one call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// Agent is a fake Consul agent listening on a local port.
type Agent struct {
	srv *httptest.Server

	datacenter string
	nodeName   string
	nodeID     string
	aclToken   string
	maxWait    time.Duration

	mu       sync.Mutex
	closed   bool
	index    uint64        // last write index across every resource
	kvIndex  uint64        // last write index of the key/value store
	changed  chan struct{} // closed and replaced on every write
	leader   string
	peers    []string
	kv       map[string]kvEntry
	sessions map[string]session
	nodes    map[string]*catalogNode
	joined   []string
	requests []Request
}

// Option configures an Agent.
type Option func(*Agent)

// WithDatacenter sets the agent's datacenter (default "dc1").
func WithDatacenter(dc string) Option { return func(a *Agent) { a.datacenter = dc } }

// WithNodeName sets the agent's node name (default "node1").
func WithNodeName(name string) Option { return func(a *Agent) { a.nodeName = name } }

// WithACLToken makes every endpoint require token in X-Consul-Token.
func WithACLToken(token string) Option { return func(a *Agent) { a.aclToken = token } }

// WithMaxWait caps how long a blocking query is held (default 10m).
func WithMaxWait(d time.Duration) Option { return func(a *Agent) { a.maxWait = d } }

// New starts an agent and stops it when the test ends.
func New(t testing.TB, opts ...Option) *Agent {
	t.Helper()
	a := NewAgent(opts...)
	t.Cleanup(a.Close)
	return a
}

// NewAgent starts an agent. The caller must Close it.
func NewAgent(opts ...Option) *Agent {
	a := &Agent{
		datacenter: "dc1",
		nodeName:   "node1",
		nodeID:     uuid.NewString(),
		maxWait:    10 * time.Minute,
		index:      1,
		kvIndex:    1,
		changed:    make(chan struct{}),
		leader:     "127.0.0.1:8300",
		peers:      []string{"127.0.0.1:8300"},
		kv:         make(map[string]kvEntry),
		sessions:   make(map[string]session),
		nodes:      make(map[string]*catalogNode),
	}
	for _, o := range opts {
		o(a)
	}
	a.nodes[a.nodeName] = &catalogNode{
		Node: consul.Node{
			ID:         a.nodeID,
			Name:       a.nodeName,
			Address:    "127.0.0.1",
			Datacenter: a.datacenter,
			TaggedAddresses: map[string]string{
				"lan": "127.0.0.1",
				"wan": "127.0.0.1",
			},
			Meta: map[string]string{},
		},
		Services: make(map[string]consul.ServiceInfo),
		Checks:   make(map[string]consul.CheckInfo),
	}
	a.srv = httptest.NewServer(a.Handler())
	return a
}

// Handler returns the agent's router.
func (a *Agent) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), a.record(), a.requireToken(), a.checkDatacenter())

	v1 := r.Group("/v1")
	a.registerKV(v1)
	a.registerAgent(v1)
	a.registerCatalog(v1)
	a.registerHealth(v1)
	a.registerSessions(v1)
	a.registerStatus(v1)
	a.registerCoordinates(v1)
	return r
}

// URL returns the agent's base URL.
func (a *Agent) URL() string { return a.srv.URL }

// Datacenter returns the agent's datacenter.
func (a *Agent) Datacenter() string { return a.datacenter }

// NodeName returns the agent's node name.
func (a *Agent) NodeName() string { return a.nodeName }

// Close stops the server. Held blocking queries are released.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.notifyLocked()
	a.mu.Unlock()
	a.srv.CloseClientConnections()
	a.srv.Close()
}

// Client returns a client for the agent. It is stopped when the test ends.
func (a *Agent) Client(t testing.TB, opts ...consul.Option) *consul.Client {
	t.Helper()
	c, err := consul.New(a.URL(), opts...)
	if err != nil {
		t.Fatalf("consultest: new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// SetLeader sets the address reported by /v1/status/leader. "" means no
// leader is elected.
func (a *Agent) SetLeader(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leader = addr
}

// SetPeers sets the addresses reported by /v1/status/peers.
func (a *Agent) SetPeers(peers ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers = append([]string(nil), peers...)
}

// Requests returns every request seen so far.
func (a *Agent) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// LastRequest returns the most recent request.
func (a *Agent) LastRequest() Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return Request{}
	}
	return a.requests[len(a.requests)-1]
}

// Joined returns the addresses passed to /v1/agent/join.
func (a *Agent) Joined() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.joined...)
}

// Index returns the agent's current write index.
func (a *Agent) Index() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index
}

// bumpLocked advances the write index and wakes blocked readers.
func (a *Agent) bumpLocked() uint64 {
	a.index++
	a.notifyLocked()
	return a.index
}

func (a *Agent) notifyLocked() {
	close(a.changed)
	a.changed = make(chan struct{})
}

func (a *Agent) record() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := Request{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.Query(),
			Header: c.Request.Header.Clone(),
		}
		a.mu.Lock()
		a.requests = append(a.requests, req)
		a.mu.Unlock()
		c.Next()
	}
}

func (a *Agent) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.aclToken != "" && c.GetHeader("X-Consul-Token") != a.aclToken {
			c.String(http.StatusForbidden, "Permission denied")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *Agent) checkDatacenter() gin.HandlerFunc {
	return func(c *gin.Context) {
		if dc := c.Query("dc"); dc != "" && dc != a.datacenter {
			c.String(http.StatusInternalServerError, "No path to datacenter")
			c.Abort()
			return
		}
		c.Next()
	}
}

// block holds a read until current() moves past the caller's index, the
// wait elapses, or the client goes away. It then writes the index headers
// and returns with a.mu held so the handler reads a consistent state.
func (a *Agent) block(c *gin.Context, current func() uint64) {
	want, _ := strconv.ParseUint(c.Query("index"), 10, 64)
	wait := a.maxWait
	if s := c.Query("wait"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d < wait {
			wait = d
		}
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	a.mu.Lock()
	for want > 0 && !a.closed && current() <= want {
		changed := a.changed
		a.mu.Unlock()
		select {
		case <-changed:
		case <-deadline.C:
			a.mu.Lock()
			a.writeMeta(c, current())
			return
		case <-c.Request.Context().Done():
			a.mu.Lock()
			a.writeMeta(c, current())
			return
		}
		a.mu.Lock()
	}
	a.writeMeta(c, current())
}

func (a *Agent) writeMeta(c *gin.Context, index uint64) {
	c.Header("X-Consul-Index", strconv.FormatUint(index, 10))
	c.Header("X-Consul-Knownleader", strconv.FormatBool(a.leader != ""))
	c.Header("X-Consul-Lastcontact", "0")
}

// globalIndex is the blocking index of resources without finer tracking.
func (a *Agent) globalIndex() uint64 { return a.index }
