// Package status wraps the Raft status endpoints (/v1/status).
package status

import (
	"context"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// Status is the status facade.
type Status struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates a Status facade.
func New(c *consul.Client, defaults ...kw.Arg) *Status {
	return &Status{c: c, defaults: defaults}
}

// Leader returns the Raft leader address, or "" when none is elected.
func (s *Status) Leader(ctx context.Context, args ...kw.Arg) (string, error) {
	set, err := s.c.Bind(consul.GroupDC, s.defaults, args...)
	if err != nil {
		return "", err
	}
	r, err := consul.GetJSON[string](ctx, s.c, consul.Path("status", "leader"), set)
	return r.Data, err
}

// IsLeaderElected reports whether the cluster has a leader.
func (s *Status) IsLeaderElected(ctx context.Context, args ...kw.Arg) (bool, error) {
	leader, err := s.Leader(ctx, args...)
	return leader != "", err
}

// Peers returns the Raft peer addresses.
func (s *Status) Peers(ctx context.Context, args ...kw.Arg) ([]string, error) {
	set, err := s.c.Bind(consul.GroupDC, s.defaults, args...)
	if err != nil {
		return nil, err
	}
	r, err := consul.GetJSON[[]string](ctx, s.c, consul.Path("status", "peers"), set)
	return r.Data, err
}
