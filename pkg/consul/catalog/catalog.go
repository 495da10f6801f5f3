// Package catalog wraps the cluster catalog endpoints (/v1/catalog).
package catalog

import (
	"context"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

var (
	nodesGroup    = consul.GroupQuery.With(consul.Near, consul.NodeMeta, consul.Filter)
	servicesGroup = consul.GroupQuery.With(consul.NodeMeta)
	serviceGroup  = consul.GroupQuery.With(consul.Tag, consul.Near, consul.NodeMeta, consul.Filter)
)

// NodeServices is a node and the services it runs. The zero value is
// returned for unknown nodes.
type NodeServices struct {
	Node     consul.Node                   `json:"Node"`
	Services map[string]consul.ServiceInfo `json:"Services"`
}

// Valid reports whether the node exists.
func (n NodeServices) Valid() bool { return n.Node.Name != "" }

// Registration is the body of a catalog registration. Service and Check
// are optional; a registration with neither only records the node.
type Registration struct {
	Node    consul.Node
	Service *consul.ServiceInfo
	Check   *consul.CheckInfo
}

// catalogService is the flat JSON shape of /v1/catalog/service entries.
type catalogService struct {
	ID                       string            `json:"ID"`
	Node                     string            `json:"Node"`
	Address                  string            `json:"Address"`
	Datacenter               string            `json:"Datacenter"`
	TaggedAddresses          map[string]string `json:"TaggedAddresses"`
	NodeMeta                 map[string]string `json:"NodeMeta"`
	ServiceID                string            `json:"ServiceID"`
	ServiceName              string            `json:"ServiceName"`
	ServiceTags              []string          `json:"ServiceTags"`
	ServiceAddress           string            `json:"ServiceAddress"`
	ServicePort              int               `json:"ServicePort"`
	ServiceMeta              map[string]string `json:"ServiceMeta"`
	ServiceEnableTagOverride bool              `json:"ServiceEnableTagOverride"`
}

func (s catalogService) nodeService() consul.NodeService {
	return consul.NodeService{
		Node: consul.Node{
			ID:              s.ID,
			Name:            s.Node,
			Address:         s.Address,
			Datacenter:      s.Datacenter,
			TaggedAddresses: s.TaggedAddresses,
			Meta:            s.NodeMeta,
		},
		Service: consul.ServiceInfo{
			ID:                s.ServiceID,
			Name:              s.ServiceName,
			Tags:              s.ServiceTags,
			Address:           s.ServiceAddress,
			Port:              s.ServicePort,
			Meta:              s.ServiceMeta,
			EnableTagOverride: s.ServiceEnableTagOverride,
		},
	}
}

// Catalog is the catalog facade.
type Catalog struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates a Catalog facade. defaults apply to every call that accepts
// them.
func New(c *consul.Client, defaults ...kw.Arg) *Catalog {
	return &Catalog{c: c, defaults: defaults}
}

func read[T any](ctx context.Context, cat *Catalog, group kw.Group, path string, args []kw.Arg) (consul.Response[T], error) {
	set, err := cat.c.Bind(group, cat.defaults, args...)
	if err != nil {
		return consul.Response[T]{}, err
	}
	return consul.GetJSON[T](ctx, cat.c, path, set)
}

// Datacenters lists the known datacenters, nearest first.
func (cat *Catalog) Datacenters(ctx context.Context, args ...kw.Arg) ([]string, error) {
	r, err := read[[]string](ctx, cat, consul.GroupAuth, consul.Path("catalog", "datacenters"), args)
	return r.Data, err
}

// Nodes lists the nodes of a datacenter.
func (cat *Catalog) Nodes(ctx context.Context, args ...kw.Arg) ([]consul.Node, error) {
	r, err := cat.NodesResponse(ctx, args...)
	return r.Data, err
}

// NodesResponse is Nodes with the response metadata.
func (cat *Catalog) NodesResponse(ctx context.Context, args ...kw.Arg) (consul.Response[[]consul.Node], error) {
	return read[[]consul.Node](ctx, cat, nodesGroup, consul.Path("catalog", "nodes"), args)
}

// Services lists service names with the union of their tags.
func (cat *Catalog) Services(ctx context.Context, args ...kw.Arg) (map[string][]string, error) {
	r, err := cat.ServicesResponse(ctx, args...)
	return r.Data, err
}

// ServicesResponse is Services with the response metadata.
func (cat *Catalog) ServicesResponse(ctx context.Context, args ...kw.Arg) (consul.Response[map[string][]string], error) {
	return read[map[string][]string](ctx, cat, servicesGroup, consul.Path("catalog", "services"), args)
}

// Service lists the instances of a service.
func (cat *Catalog) Service(ctx context.Context, name string, args ...kw.Arg) ([]consul.NodeService, error) {
	r, err := cat.ServiceResponse(ctx, name, args...)
	return r.Data, err
}

// ServiceResponse is Service with the response metadata.
func (cat *Catalog) ServiceResponse(ctx context.Context, name string, args ...kw.Arg) (consul.Response[[]consul.NodeService], error) {
	raw, err := read[[]catalogService](ctx, cat, serviceGroup, consul.Path("catalog", "service", name), args)
	if err != nil {
		return consul.Response[[]consul.NodeService]{}, err
	}
	out := consul.Response[[]consul.NodeService]{Data: make([]consul.NodeService, 0, len(raw.Data)), Meta: raw.Meta}
	for _, s := range raw.Data {
		out.Data = append(out.Data, s.nodeService())
	}
	return out, nil
}

// Node returns a node and its services. An unknown node yields an invalid
// NodeServices, not an error.
func (cat *Catalog) Node(ctx context.Context, name string, args ...kw.Arg) (NodeServices, error) {
	r, err := cat.NodeResponse(ctx, name, args...)
	return r.Data, err
}

// NodeResponse is Node with the response metadata.
func (cat *Catalog) NodeResponse(ctx context.Context, name string, args ...kw.Arg) (consul.Response[NodeServices], error) {
	set, err := cat.c.Bind(consul.GroupQuery, cat.defaults, args...)
	if err != nil {
		return consul.Response[NodeServices]{}, err
	}
	body, meta, err := cat.c.Get(ctx, consul.Path("catalog", "node", name), set)
	if consul.IsNotFound(err) {
		return consul.Response[NodeServices]{Meta: meta}, nil
	}
	if err != nil {
		return consul.Response[NodeServices]{}, err
	}
	// Unknown nodes come back as a JSON null.
	var data *NodeServices
	if err := consul.Decode(body, &data); err != nil {
		return consul.Response[NodeServices]{}, err
	}
	out := consul.Response[NodeServices]{Meta: meta}
	if data != nil {
		out.Data = *data
	}
	return out, nil
}

type registerBody struct {
	ID              string              `json:"ID,omitempty"`
	Node            string              `json:"Node"`
	Address         string              `json:"Address"`
	Datacenter      string              `json:"Datacenter,omitempty"`
	TaggedAddresses map[string]string   `json:"TaggedAddresses,omitempty"`
	NodeMeta        map[string]string   `json:"NodeMeta,omitempty"`
	Service         *consul.ServiceInfo `json:"Service,omitempty"`
	Check           *consul.CheckInfo   `json:"Check,omitempty"`
}

// Register records a node, and optionally a service and a check, in the
// catalog.
func (cat *Catalog) Register(ctx context.Context, reg Registration, args ...kw.Arg) error {
	set, err := cat.c.Bind(consul.GroupDC, cat.defaults, args...)
	if err != nil {
		return err
	}
	body := registerBody{
		ID:              reg.Node.ID,
		Node:            reg.Node.Name,
		Address:         reg.Node.Address,
		Datacenter:      consul.DC.GetOr(set, ""),
		TaggedAddresses: reg.Node.TaggedAddresses,
		NodeMeta:        reg.Node.Meta,
		Service:         reg.Service,
		Check:           reg.Check,
	}
	return consul.PutJSON(ctx, cat.c, consul.Path("catalog", "register"), set, body, nil)
}

// Deregister removes a service (serviceID set), a check (checkID set) or
// the whole node (both empty) from the catalog.
func (cat *Catalog) Deregister(ctx context.Context, node, serviceID, checkID string, args ...kw.Arg) error {
	set, err := cat.c.Bind(consul.GroupDC, cat.defaults, args...)
	if err != nil {
		return err
	}
	body := struct {
		Node       string `json:"Node"`
		Datacenter string `json:"Datacenter,omitempty"`
		ServiceID  string `json:"ServiceID,omitempty"`
		CheckID    string `json:"CheckID,omitempty"`
	}{node, consul.DC.GetOr(set, ""), serviceID, checkID}
	return consul.PutJSON(ctx, cat.c, consul.Path("catalog", "deregister"), set, body, nil)
}
