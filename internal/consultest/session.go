package consultest

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type session struct {
	ID          string        `json:"ID"`
	Name        string        `json:"Name"`
	Node        string        `json:"Node"`
	LockDelay   time.Duration `json:"LockDelay"`
	Behavior    string        `json:"Behavior"`
	TTL         string        `json:"TTL"`
	Checks      []string      `json:"Checks"`
	CreateIndex uint64        `json:"CreateIndex"`
	ModifyIndex uint64        `json:"ModifyIndex"`
}

func (a *Agent) registerSessions(rg *gin.RouterGroup) {
	s := rg.Group("/session")
	{
		s.PUT("/create", a.createSession)
		s.PUT("/destroy/:id", a.destroySession)
		s.PUT("/renew/:id", a.renewSession)
		s.GET("/info/:id", a.sessionInfo)
		s.GET("/list", a.listSessions)
		s.GET("/node/:node", a.nodeSessions)
	}
}

// SessionCount returns the number of live sessions.
func (a *Agent) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *Agent) createSession(c *gin.Context) {
	var req struct {
		Name      string          `json:"Name"`
		Node      string          `json:"Node"`
		LockDelay json.RawMessage `json:"LockDelay"`
		Behavior  string          `json:"Behavior"`
		TTL       string          `json:"TTL"`
		Checks    []string        `json:"Checks"`
	}
	if c.Request.ContentLength != 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.String(http.StatusBadRequest, "request decode failed: %v", err)
			return
		}
	}

	s := session{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Node:      req.Node,
		LockDelay: 15 * time.Second,
		Behavior:  req.Behavior,
		TTL:       req.TTL,
		Checks:    req.Checks,
	}
	if s.Node == "" {
		s.Node = a.nodeName
	}
	if s.Behavior == "" {
		s.Behavior = "release"
	}
	if s.Behavior != "release" && s.Behavior != "delete" {
		c.String(http.StatusBadRequest, "Invalid Behavior setting %q", s.Behavior)
		return
	}
	if len(req.LockDelay) > 0 {
		d, err := parseLockDelay(req.LockDelay)
		if err != nil {
			c.String(http.StatusBadRequest, "Request decode failed: %v", err)
			return
		}
		s.LockDelay = d
	}
	if s.TTL != "" {
		if _, err := time.ParseDuration(s.TTL); err != nil {
			c.String(http.StatusBadRequest, "Request decode failed: %v", err)
			return
		}
	}
	if s.Checks == nil {
		s.Checks = []string{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.nodes[s.Node]; !ok {
		c.String(http.StatusInternalServerError, "Missing node registration")
		return
	}
	idx := a.bumpLocked()
	s.CreateIndex, s.ModifyIndex = idx, idx
	a.sessions[s.ID] = s
	c.JSON(http.StatusOK, gin.H{"ID": s.ID})
}

func parseLockDelay(raw json.RawMessage) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.ParseDuration(s)
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

func (a *Agent) destroySession(c *gin.Context) {
	id := c.Param("id")

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if ok {
		delete(a.sessions, id)
		idx := a.bumpLocked()
		for k, e := range a.kv {
			if e.Session != id {
				continue
			}
			if s.Behavior == "delete" {
				delete(a.kv, k)
				continue
			}
			e.Session = ""
			e.ModifyIndex = idx
			a.kv[k] = e
		}
		a.kvIndex = idx
	}
	c.JSON(http.StatusOK, true)
}

func (a *Agent) renewSession(c *gin.Context) {
	id := c.Param("id")

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		c.String(http.StatusNotFound, "Session id '%s' not found", id)
		return
	}
	c.JSON(http.StatusOK, []session{s})
}

func (a *Agent) sessionInfo(c *gin.Context) {
	id := c.Param("id")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	s, ok := a.sessions[id]
	if !ok {
		c.JSON(http.StatusOK, []session{})
		return
	}
	c.JSON(http.StatusOK, []session{s})
}

func (a *Agent) listSessions(c *gin.Context) {
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()
	c.JSON(http.StatusOK, a.sessionsWhere(func(session) bool { return true }))
}

func (a *Agent) nodeSessions(c *gin.Context) {
	node := c.Param("node")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()
	c.JSON(http.StatusOK, a.sessionsWhere(func(s session) bool { return s.Node == node }))
}

func (a *Agent) sessionsWhere(keep func(session) bool) []session {
	out := []session{}
	for _, s := range a.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateIndex < out[j].CreateIndex })
	return out
}
