// Package health wraps the health endpoints (/v1/health).
package health

import (
	"context"
	"fmt"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// Passing limits Service to instances whose checks all pass.
var Passing = kw.New[bool]("passing", kw.Flag)

// Any matches every check in State.
const Any consul.CheckStatus = "any"

var (
	checksGroup  = consul.GroupQuery.With(consul.Near, consul.NodeMeta, consul.Filter)
	serviceGroup = consul.GroupQuery.With(consul.Tag, Passing, consul.Near, consul.NodeMeta, consul.Filter)
)

// ServiceEntry is one instance of a service with the checks that affect
// it: its own and its node's.
type ServiceEntry struct {
	Node    consul.Node        `json:"Node"`
	Service consul.ServiceInfo `json:"Service"`
	Checks  []consul.CheckInfo `json:"Checks"`
}

// Status folds the checks into one status: critical beats warning beats
// passing.
func (e ServiceEntry) Status() consul.CheckStatus {
	status := consul.StatusPassing
	for _, ch := range e.Checks {
		switch ch.Status {
		case consul.StatusCritical:
			return consul.StatusCritical
		case consul.StatusWarning:
			status = consul.StatusWarning
		}
	}
	return status
}

// Health is the health facade.
type Health struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates a Health facade. defaults apply to every call that accepts
// them.
func New(c *consul.Client, defaults ...kw.Arg) *Health {
	return &Health{c: c, defaults: defaults}
}

func read[T any](ctx context.Context, h *Health, group kw.Group, path string, args []kw.Arg) (consul.Response[T], error) {
	set, err := h.c.Bind(group, h.defaults, args...)
	if err != nil {
		return consul.Response[T]{}, err
	}
	return consul.GetJSON[T](ctx, h.c, path, set)
}

// Node returns the checks of a node.
func (h *Health) Node(ctx context.Context, name string, args ...kw.Arg) ([]consul.CheckInfo, error) {
	r, err := h.NodeResponse(ctx, name, args...)
	return r.Data, err
}

// NodeResponse is Node with the response metadata.
func (h *Health) NodeResponse(ctx context.Context, name string, args ...kw.Arg) (consul.Response[[]consul.CheckInfo], error) {
	return read[[]consul.CheckInfo](ctx, h, consul.GroupQuery, consul.Path("health", "node", name), args)
}

// Checks returns the checks of every instance of a service.
func (h *Health) Checks(ctx context.Context, service string, args ...kw.Arg) ([]consul.CheckInfo, error) {
	r, err := h.ChecksResponse(ctx, service, args...)
	return r.Data, err
}

// ChecksResponse is Checks with the response metadata.
func (h *Health) ChecksResponse(ctx context.Context, service string, args ...kw.Arg) (consul.Response[[]consul.CheckInfo], error) {
	return read[[]consul.CheckInfo](ctx, h, checksGroup, consul.Path("health", "checks", service), args)
}

// Service returns the instances of a service with their checks.
func (h *Health) Service(ctx context.Context, name string, args ...kw.Arg) ([]ServiceEntry, error) {
	r, err := h.ServiceResponse(ctx, name, args...)
	return r.Data, err
}

// ServiceResponse is Service with the response metadata.
func (h *Health) ServiceResponse(ctx context.Context, name string, args ...kw.Arg) (consul.Response[[]ServiceEntry], error) {
	return read[[]ServiceEntry](ctx, h, serviceGroup, consul.Path("health", "service", name), args)
}

// State returns the checks in state, or every check for Any.
func (h *Health) State(ctx context.Context, state consul.CheckStatus, args ...kw.Arg) ([]consul.CheckInfo, error) {
	r, err := h.StateResponse(ctx, state, args...)
	return r.Data, err
}

// StateResponse is State with the response metadata.
func (h *Health) StateResponse(ctx context.Context, state consul.CheckStatus, args ...kw.Arg) (consul.Response[[]consul.CheckInfo], error) {
	switch state {
	case Any, consul.StatusPassing, consul.StatusWarning, consul.StatusCritical:
	default:
		return consul.Response[[]consul.CheckInfo]{}, fmt.Errorf("health state: invalid state %q", state)
	}
	return read[[]consul.CheckInfo](ctx, h, checksGroup, consul.Path("health", "state", string(state)), args)
}
