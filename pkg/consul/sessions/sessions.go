// Package sessions wraps the session endpoints (/v1/session). Sessions
// own the locks taken through the kv package.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// InvalidationBehavior is what happens to held locks when a session is
// invalidated.
type InvalidationBehavior string

const (
	// Release releases the locks and keeps the keys.
	Release InvalidationBehavior = "release"
	// Delete deletes the locked keys.
	Delete InvalidationBehavior = "delete"
)

// Create keywords. They are sent in the request body.
var (
	Name      = kw.New[string]("name", nil)
	Node      = kw.New[string]("node", nil)
	LockDelay = kw.New[time.Duration]("lock_delay", nil)
	Behavior  = kw.New[InvalidationBehavior]("behavior", nil)
	TTL       = kw.New[time.Duration]("ttl", nil)
	Checks    = kw.New[[]string]("checks", nil)
)

var createGroup = consul.GroupDC.With(Name, Node, LockDelay, Behavior, TTL, Checks)

// Session is a live session.
type Session struct {
	ID          string
	Name        string
	Node        string
	LockDelay   time.Duration
	Behavior    InvalidationBehavior
	TTL         time.Duration
	Checks      []string
	CreateIndex uint64
	ModifyIndex uint64
}

type wireSession struct {
	ID          string               `json:"ID"`
	Name        string               `json:"Name"`
	Node        string               `json:"Node"`
	LockDelay   time.Duration        `json:"LockDelay"`
	Behavior    InvalidationBehavior `json:"Behavior"`
	TTL         string               `json:"TTL"`
	Checks      []string             `json:"Checks"`
	CreateIndex uint64               `json:"CreateIndex"`
	ModifyIndex uint64               `json:"ModifyIndex"`
}

func (w wireSession) session() (Session, error) {
	if _, err := uuid.Parse(w.ID); err != nil {
		return Session{}, &consul.FormatError{Msg: fmt.Sprintf("session id %q", w.ID), Err: err}
	}
	s := Session{
		ID:          w.ID,
		Name:        w.Name,
		Node:        w.Node,
		LockDelay:   w.LockDelay,
		Behavior:    w.Behavior,
		Checks:      w.Checks,
		CreateIndex: w.CreateIndex,
		ModifyIndex: w.ModifyIndex,
	}
	if w.TTL != "" {
		ttl, err := time.ParseDuration(w.TTL)
		if err != nil {
			return Session{}, &consul.FormatError{Msg: "session TTL", Err: err}
		}
		s.TTL = ttl
	}
	return s, nil
}

func decodeSessions(body []byte) ([]Session, error) {
	var wire []wireSession
	if err := consul.Decode(body, &wire); err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(wire))
	for _, w := range wire {
		s, err := w.session()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id %q: %w", id, err)
	}
	return nil
}

// Sessions is the session facade.
type Sessions struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates a Sessions facade. defaults apply to every call that accepts
// them.
func New(c *consul.Client, defaults ...kw.Arg) *Sessions {
	return &Sessions{c: c, defaults: defaults}
}

type createBody struct {
	Name      string               `json:"Name,omitempty"`
	Node      string               `json:"Node,omitempty"`
	LockDelay string               `json:"LockDelay,omitempty"`
	Behavior  InvalidationBehavior `json:"Behavior,omitempty"`
	TTL       string               `json:"TTL,omitempty"`
	Checks    []string             `json:"Checks,omitempty"`
}

// Create starts a session and returns its id. Every keyword is optional;
// the agent defaults to its own node, a 15s lock delay and Release.
func (s *Sessions) Create(ctx context.Context, args ...kw.Arg) (string, error) {
	set, err := s.c.Bind(createGroup, s.defaults, args...)
	if err != nil {
		return "", err
	}
	body := createBody{
		Name:     Name.GetOr(set, ""),
		Node:     Node.GetOr(set, ""),
		Behavior: Behavior.GetOr(set, ""),
		Checks:   Checks.GetOr(set, nil),
	}
	if LockDelay.In(set) {
		body.LockDelay = kw.FormatSeconds(LockDelay.GetOr(set, 0))
	}
	if ttl := TTL.GetOr(set, 0); ttl > 0 {
		body.TTL = kw.FormatSeconds(ttl)
	}

	var out struct {
		ID string `json:"ID"`
	}
	if err := consul.PutJSON(ctx, s.c, consul.Path("session", "create"), set, body, &out); err != nil {
		return "", err
	}
	if _, err := uuid.Parse(out.ID); err != nil {
		return "", &consul.FormatError{Msg: fmt.Sprintf("session id %q", out.ID), Err: err}
	}
	return out.ID, nil
}

// Destroy invalidates a session, applying its behavior to held locks.
func (s *Sessions) Destroy(ctx context.Context, id string, args ...kw.Arg) error {
	if err := checkID(id); err != nil {
		return err
	}
	set, err := s.c.Bind(consul.GroupDC, s.defaults, args...)
	if err != nil {
		return err
	}
	_, err = s.c.Put(ctx, consul.Path("session", "destroy", id), set, nil)
	return err
}

// Renew resets a session's TTL and returns the session.
func (s *Sessions) Renew(ctx context.Context, id string, args ...kw.Arg) (Session, error) {
	if err := checkID(id); err != nil {
		return Session{}, err
	}
	set, err := s.c.Bind(consul.GroupDC, s.defaults, args...)
	if err != nil {
		return Session{}, err
	}
	body, err := s.c.Put(ctx, consul.Path("session", "renew", id), set, nil)
	if err != nil {
		return Session{}, err
	}
	list, err := decodeSessions(body)
	if err != nil {
		return Session{}, err
	}
	if len(list) == 0 {
		return Session{}, &consul.FormatError{Msg: "renew returned no session"}
	}
	return list[0], nil
}

// Info returns a session. ok is false when the session does not exist.
func (s *Sessions) Info(ctx context.Context, id string, args ...kw.Arg) (sess Session, ok bool, err error) {
	if err := checkID(id); err != nil {
		return Session{}, false, err
	}
	set, err := s.c.Bind(consul.GroupQuery, s.defaults, args...)
	if err != nil {
		return Session{}, false, err
	}
	body, _, err := s.c.Get(ctx, consul.Path("session", "info", id), set)
	if consul.IsNotFound(err) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	list, err := decodeSessions(body)
	if err != nil || len(list) == 0 {
		return Session{}, false, err
	}
	return list[0], true, nil
}

// List returns every session of a datacenter.
func (s *Sessions) List(ctx context.Context, args ...kw.Arg) ([]Session, error) {
	return s.list(ctx, consul.Path("session", "list"), args)
}

// Node returns the sessions belonging to node.
func (s *Sessions) Node(ctx context.Context, node string, args ...kw.Arg) ([]Session, error) {
	return s.list(ctx, consul.Path("session", "node", node), args)
}

func (s *Sessions) list(ctx context.Context, path string, args []kw.Arg) ([]Session, error) {
	set, err := s.c.Bind(consul.GroupQuery, s.defaults, args...)
	if err != nil {
		return nil, err
	}
	body, _, err := s.c.Get(ctx, path, set)
	if err != nil {
		return nil, err
	}
	return decodeSessions(body)
}
