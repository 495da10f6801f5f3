// Package agent wraps the local agent endpoints (/v1/agent): membership,
// and registration of the services and checks the agent runs.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// Registration keywords. They are sent in the request body.
var (
	Name                           = kw.New[string]("name", nil)
	ID                             = kw.New[string]("id", nil)
	Notes                          = kw.New[string]("notes", nil)
	ServiceID                      = kw.New[string]("service_id", nil)
	Check                          = kw.New[CheckParams]("check", nil)
	DeregisterCriticalServiceAfter = kw.New[time.Duration]("deregister_critical_service_after", nil)
	Port                           = kw.New[int]("port", nil)
	Address                        = kw.New[string]("address", nil)
	Tags                           = kw.New[[]string]("tags", nil)
	Meta                           = kw.New[map[string]string]("meta", nil)
	EnableTagOverride              = kw.New[bool]("enable_tag_override", nil)
)

var (
	wan    = kw.New[bool]("wan", kw.Flag)
	note   = kw.New[string]("note", kw.String)
	enable = kw.New[bool]("enable", kw.Bool)
	reason = kw.New[string]("reason", kw.String)
)

var (
	checkGroup = consul.GroupAuth.With(Name, ID, Notes, ServiceID, Check, DeregisterCriticalServiceAfter)

	serviceGroup = consul.GroupAuth.With(Name, ID, Port, Address, Tags, Meta, EnableTagOverride,
		Check, Notes, DeregisterCriticalServiceAfter)
)

// Pool selects the gossip pool of a membership call.
type Pool int

const (
	Lan Pool = iota
	Wan
)

func (p Pool) String() string {
	if p == Wan {
		return "wan"
	}
	return "lan"
}

// MemberStatus is the gossip state of a member.
type MemberStatus int

const (
	MemberNone MemberStatus = iota
	MemberAlive
	MemberLeaving
	MemberLeft
	MemberFailed
)

func (s MemberStatus) String() string {
	switch s {
	case MemberAlive:
		return "alive"
	case MemberLeaving:
		return "leaving"
	case MemberLeft:
		return "left"
	case MemberFailed:
		return "failed"
	default:
		return "none"
	}
}

// Member is a gossip pool member.
type Member struct {
	Name        string            `json:"Name"`
	Address     string            `json:"Addr"`
	Port        uint16            `json:"Port"`
	Tags        map[string]string `json:"Tags"`
	Status      MemberStatus      `json:"Status"`
	ProtocolMin int               `json:"ProtocolMin"`
	ProtocolMax int               `json:"ProtocolMax"`
	ProtocolCur int               `json:"ProtocolCur"`
	DelegateMin int               `json:"DelegateMin"`
	DelegateMax int               `json:"DelegateMax"`
	DelegateCur int               `json:"DelegateCur"`
}

// Config is the part of the agent configuration reported by Self.
type Config struct {
	Datacenter string `json:"Datacenter"`
	NodeName   string `json:"NodeName"`
	NodeID     string `json:"NodeID"`
	Server     bool   `json:"Server"`
	Revision   string `json:"Revision"`
	Version    string `json:"Version"`
}

// SelfInfo describes the agent answering the request.
type SelfInfo struct {
	Config Config `json:"Config"`
	Member Member `json:"Member"`
}

// Agent is the local agent facade.
type Agent struct {
	c        *consul.Client
	defaults []kw.Arg
}

// New creates an Agent facade. defaults apply to every call that accepts
// them.
func New(c *consul.Client, defaults ...kw.Arg) *Agent {
	return &Agent{c: c, defaults: defaults}
}

func (a *Agent) bind(group kw.Group, args []kw.Arg) (kw.Set, error) {
	return a.c.Bind(group, a.defaults, args...)
}

func (a *Agent) get(ctx context.Context, path string, out any, args []kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	body, _, err := a.c.Get(ctx, path, set)
	if err != nil {
		return err
	}
	return consul.Decode(body, out)
}

func (a *Agent) put(ctx context.Context, path string, set kw.Set, in any) error {
	return consul.PutJSON(ctx, a.c, path, set, in, nil)
}

// Self returns the agent's configuration and membership.
func (a *Agent) Self(ctx context.Context, args ...kw.Arg) (SelfInfo, error) {
	var out SelfInfo
	err := a.get(ctx, consul.Path("agent", "self"), &out, args)
	return out, err
}

// Members returns the members of pool as seen by the agent.
func (a *Agent) Members(ctx context.Context, pool Pool, args ...kw.Arg) ([]Member, error) {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return nil, err
	}
	body, _, err := a.c.Get(ctx, consul.Path("agent", "members"), set.With(wan.Set(pool == Wan)))
	if err != nil {
		return nil, err
	}
	var out []Member
	if err := consul.Decode(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Join asks the agent to join the cluster through the member at addr.
func (a *Agent) Join(ctx context.Context, addr string, pool Pool, args ...kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, consul.Path("agent", "join", addr), set.With(wan.Set(pool == Wan)), nil)
}

// ForceLeave moves a failed node to the left state.
func (a *Agent) ForceLeave(ctx context.Context, node string, args ...kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, consul.Path("agent", "force-leave", node), set, nil)
}

// Leave makes the agent leave the cluster gracefully and shut down.
func (a *Agent) Leave(ctx context.Context, args ...kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, consul.Path("agent", "leave"), set, nil)
}

// Checks returns the checks registered with the agent, by id.
func (a *Agent) Checks(ctx context.Context, args ...kw.Arg) (map[string]consul.CheckInfo, error) {
	out := map[string]consul.CheckInfo{}
	err := a.get(ctx, consul.Path("agent", "checks"), &out, args)
	return out, err
}

// Services returns the services registered with the agent, by id.
func (a *Agent) Services(ctx context.Context, args ...kw.Arg) (map[string]consul.ServiceInfo, error) {
	out := map[string]consul.ServiceInfo{}
	err := a.get(ctx, consul.Path("agent", "services"), &out, args)
	return out, err
}

// RegisterCheck registers a check. Name and Check are required; ID
// defaults to Name on the agent.
//
//	err := a.RegisterCheck(ctx,
//	    agent.Name.Set("web-alive"),
//	    agent.Check.Set(agent.TTLCheck{TTL: 10 * time.Second}),
//	)
func (a *Agent) RegisterCheck(ctx context.Context, args ...kw.Arg) error {
	set, err := a.bind(checkGroup, args)
	if err != nil {
		return err
	}
	body, err := checkBodyFrom(set, true)
	if err != nil {
		return err
	}
	body.ID = ID.GetOr(set, "")
	body.ServiceID = ServiceID.GetOr(set, "")
	return a.put(ctx, consul.Path("agent", "check", "register"), set, body)
}

func checkBodyFrom(set kw.Set, named bool) (*checkBody, error) {
	params, err := Check.Get(set)
	if err != nil {
		return nil, err
	}
	b := &checkBody{Notes: Notes.GetOr(set, "")}
	if named {
		if b.Name, err = Name.Get(set); err != nil {
			return nil, err
		}
	}
	if err := encodeCheck(b, params); err != nil {
		return nil, err
	}
	b.DeregisterCriticalServiceAfter = duration(DeregisterCriticalServiceAfter.GetOr(set, 0))
	return b, nil
}

// DeregisterCheck removes a check.
func (a *Agent) DeregisterCheck(ctx context.Context, id string, args ...kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, consul.Path("agent", "check", "deregister", id), set, nil)
}

// Pass marks a TTL check as passing and resets its timer.
func (a *Agent) Pass(ctx context.Context, id, note string, args ...kw.Arg) error {
	return a.ttl(ctx, "pass", id, note, args)
}

// Warn marks a TTL check as warning and resets its timer.
func (a *Agent) Warn(ctx context.Context, id, note string, args ...kw.Arg) error {
	return a.ttl(ctx, "warn", id, note, args)
}

// Fail marks a TTL check as critical and resets its timer.
func (a *Agent) Fail(ctx context.Context, id, note string, args ...kw.Arg) error {
	return a.ttl(ctx, "fail", id, note, args)
}

func (a *Agent) ttl(ctx context.Context, verb, id, text string, args []kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, consul.Path("agent", "check", verb, id), set.With(note.Set(text)), nil)
}

// Update sets a TTL check's status and output in one call.
func (a *Agent) Update(ctx context.Context, id string, status consul.CheckStatus, output string, args ...kw.Arg) error {
	switch status {
	case consul.StatusPassing, consul.StatusWarning, consul.StatusCritical:
	default:
		return fmt.Errorf("update check %q: invalid status %q", id, status)
	}
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	body := struct {
		Status consul.CheckStatus `json:"Status"`
		Output string             `json:"Output,omitempty"`
	}{status, output}
	return a.put(ctx, consul.Path("agent", "check", "update", id), set, body)
}

type serviceBody struct {
	ID                string            `json:"ID,omitempty"`
	Name              string            `json:"Name"`
	Tags              []string          `json:"Tags,omitempty"`
	Address           string            `json:"Address,omitempty"`
	Port              int               `json:"Port,omitempty"`
	Meta              map[string]string `json:"Meta,omitempty"`
	EnableTagOverride bool              `json:"EnableTagOverride,omitempty"`
	Check             *checkBody        `json:"Check,omitempty"`
}

// RegisterService registers a service with the agent. Name is required; a
// Check, when given, is registered along with it.
func (a *Agent) RegisterService(ctx context.Context, args ...kw.Arg) error {
	set, err := a.bind(serviceGroup, args)
	if err != nil {
		return err
	}
	name, err := Name.Get(set)
	if err != nil {
		return err
	}
	body := serviceBody{
		ID:                ID.GetOr(set, ""),
		Name:              name,
		Tags:              Tags.GetOr(set, nil),
		Address:           Address.GetOr(set, ""),
		Port:              Port.GetOr(set, 0),
		Meta:              Meta.GetOr(set, nil),
		EnableTagOverride: EnableTagOverride.GetOr(set, false),
	}
	if Check.In(set) {
		if body.Check, err = checkBodyFrom(set, false); err != nil {
			return err
		}
	}
	return a.put(ctx, consul.Path("agent", "service", "register"), set, body)
}

// DeregisterService removes a service and its checks.
func (a *Agent) DeregisterService(ctx context.Context, id string, args ...kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, consul.Path("agent", "service", "deregister", id), set, nil)
}

// EnableServiceMaintenance puts a service into maintenance mode, which
// fails its health with a critical check carrying reason.
func (a *Agent) EnableServiceMaintenance(ctx context.Context, id, why string, args ...kw.Arg) error {
	return a.maintenance(ctx, consul.Path("agent", "service", "maintenance", id), true, why, args)
}

// DisableServiceMaintenance takes a service out of maintenance mode.
func (a *Agent) DisableServiceMaintenance(ctx context.Context, id string, args ...kw.Arg) error {
	return a.maintenance(ctx, consul.Path("agent", "service", "maintenance", id), false, "", args)
}

// EnableNodeMaintenance puts the whole node into maintenance mode.
func (a *Agent) EnableNodeMaintenance(ctx context.Context, why string, args ...kw.Arg) error {
	return a.maintenance(ctx, consul.Path("agent", "maintenance"), true, why, args)
}

// DisableNodeMaintenance takes the node out of maintenance mode.
func (a *Agent) DisableNodeMaintenance(ctx context.Context, args ...kw.Arg) error {
	return a.maintenance(ctx, consul.Path("agent", "maintenance"), false, "", args)
}

func (a *Agent) maintenance(ctx context.Context, path string, on bool, why string, args []kw.Arg) error {
	set, err := a.bind(consul.GroupAuth, args)
	if err != nil {
		return err
	}
	return a.put(ctx, path, set.With(enable.Set(on), reason.Set(why)), nil)
}
