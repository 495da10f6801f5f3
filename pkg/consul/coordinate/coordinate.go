// Package coordinate wraps the network coordinate endpoints
// (/v1/coordinate).
package coordinate

import (
	"context"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

var nodesGroup = consul.GroupQuery.With(consul.NodeMeta)

// Coordinate is a Vivaldi network coordinate.
type Coordinate struct {
	Vec        []float64 `json:"Vec"`
	Error      float64   `json:"Error"`
	Adjustment float64   `json:"Adjustment"`
	Height     float64   `json:"Height"`
}

// Node is the coordinate of one node.
type Node struct {
	Node    string     `json:"Node"`
	Segment string     `json:"Segment"`
	Coord   Coordinate `json:"Coord"`
}

// Datacenter is the WAN coordinates of the servers of one datacenter.
type Datacenter struct {
	Datacenter  string `json:"Datacenter"`
	AreaID      string `json:"AreaID"`
	Coordinates []Node `json:"Coordinates"`
}

// Coordinates is the coordinate facade.
type Coordinates struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates a Coordinates facade.
func New(c *consul.Client, defaults ...kw.Arg) *Coordinates {
	return &Coordinates{c: c, defaults: defaults}
}

func read[T any](ctx context.Context, co *Coordinates, group kw.Group, path string, args []kw.Arg) (consul.Response[T], error) {
	set, err := co.c.Bind(group, co.defaults, args...)
	if err != nil {
		return consul.Response[T]{}, err
	}
	return consul.GetJSON[T](ctx, co.c, path, set)
}

// Datacenters returns the WAN coordinates of every known datacenter.
func (co *Coordinates) Datacenters(ctx context.Context, args ...kw.Arg) ([]Datacenter, error) {
	r, err := read[[]Datacenter](ctx, co, consul.GroupAuth, consul.Path("coordinate", "datacenters"), args)
	return r.Data, err
}

// Nodes returns the LAN coordinates of the nodes of a datacenter.
func (co *Coordinates) Nodes(ctx context.Context, args ...kw.Arg) ([]Node, error) {
	r, err := co.NodesResponse(ctx, args...)
	return r.Data, err
}

// NodesResponse is Nodes with the response metadata.
func (co *Coordinates) NodesResponse(ctx context.Context, args ...kw.Arg) (consul.Response[[]Node], error) {
	return read[[]Node](ctx, co, nodesGroup, consul.Path("coordinate", "nodes"), args)
}

// Node returns the LAN coordinates of one node, one per network segment.
func (co *Coordinates) Node(ctx context.Context, name string, args ...kw.Arg) ([]Node, error) {
	r, err := co.NodeResponse(ctx, name, args...)
	return r.Data, err
}

// NodeResponse is Node with the response metadata.
func (co *Coordinates) NodeResponse(ctx context.Context, name string, args ...kw.Arg) (consul.Response[[]Node], error) {
	return read[[]Node](ctx, co, consul.GroupQuery, consul.Path("coordinate", "node", name), args)
}
