package consultest

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
)

type catalogNode struct {
	Node     consul.Node
	Services map[string]consul.ServiceInfo
	Checks   map[string]consul.CheckInfo
}

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

type serviceEntry struct {
	Node    consul.Node        `json:"Node"`
	Service consul.ServiceInfo `json:"Service"`
	Checks  []consul.CheckInfo `json:"Checks"`
}

type coordinate struct {
	Vec        []float64 `json:"Vec"`
	Error      float64   `json:"Error"`
	Adjustment float64   `json:"Adjustment"`
	Height     float64   `json:"Height"`
}

type nodeCoordinate struct {
	Node    string     `json:"Node"`
	Segment string     `json:"Segment"`
	Coord   coordinate `json:"Coord"`
}

func (a *Agent) registerCatalog(rg *gin.RouterGroup) {
	cat := rg.Group("/catalog")
	{
		cat.GET("/datacenters", a.catalogDatacenters)
		cat.GET("/nodes", a.catalogNodes)
		cat.GET("/services", a.catalogServices)
		cat.GET("/service/:name", a.catalogService)
		cat.GET("/node/:name", a.catalogNode)
		cat.PUT("/register", a.catalogRegister)
		cat.PUT("/deregister", a.catalogDeregister)
	}
}

func (a *Agent) registerHealth(rg *gin.RouterGroup) {
	h := rg.Group("/health")
	{
		h.GET("/node/:name", a.healthNode)
		h.GET("/checks/:service", a.healthChecks)
		h.GET("/service/:name", a.healthService)
		h.GET("/state/:state", a.healthState)
	}
}

func (a *Agent) registerCoordinates(rg *gin.RouterGroup) {
	co := rg.Group("/coordinate")
	{
		co.GET("/datacenters", a.coordinateDatacenters)
		co.GET("/nodes", a.coordinateNodes)
		co.GET("/node/:name", a.coordinateNode)
	}
}

// sortedNodes returns the catalog nodes matching every node-meta filter.
func (a *Agent) sortedNodes(c *gin.Context) []*catalogNode {
	filters := c.QueryArray("node-meta")
	var out []*catalogNode
	for _, n := range a.nodes {
		if matchMeta(n.Node.Meta, filters) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node.Name < out[j].Node.Name })
	return out
}

func matchMeta(meta map[string]string, filters []string) bool {
	for _, f := range filters {
		k, v, _ := strings.Cut(f, ":")
		if meta[k] != v {
			return false
		}
	}
	return true
}

func hasTag(tags []string, tag string) bool {
	if tag == "" {
		return true
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sortedServices(n *catalogNode) []consul.ServiceInfo {
	out := make([]consul.ServiceInfo, 0, len(n.Services))
	for _, s := range n.Services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedChecks(n *catalogNode, keep func(consul.CheckInfo) bool) []consul.CheckInfo {
	out := []consul.CheckInfo{}
	for _, ch := range n.Checks {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Agent) catalogDatacenters(c *gin.Context) {
	c.JSON(http.StatusOK, []string{a.datacenter})
}

func (a *Agent) catalogNodes(c *gin.Context) {
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := []consul.Node{}
	for _, n := range a.sortedNodes(c) {
		out = append(out, n.Node)
	}
	c.JSON(http.StatusOK, out)
}

func (a *Agent) catalogServices(c *gin.Context) {
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := map[string][]string{}
	for _, n := range a.sortedNodes(c) {
		for _, s := range n.Services {
			tags := out[s.Name]
			if tags == nil {
				tags = []string{}
			}
			for _, t := range s.Tags {
				if !hasTag(tags, t) {
					tags = append(tags, t)
				}
			}
			sort.Strings(tags)
			out[s.Name] = tags
		}
	}
	c.JSON(http.StatusOK, out)
}

func (a *Agent) catalogService(c *gin.Context) {
	name, tag := c.Param("name"), c.Query("tag")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := []catalogService{}
	for _, n := range a.sortedNodes(c) {
		for _, s := range sortedServices(n) {
			if s.Name != name || !hasTag(s.Tags, tag) {
				continue
			}
			out = append(out, catalogService{
				ID:                       n.Node.ID,
				Node:                     n.Node.Name,
				Address:                  n.Node.Address,
				Datacenter:               a.datacenter,
				TaggedAddresses:          n.Node.TaggedAddresses,
				NodeMeta:                 n.Node.Meta,
				ServiceID:                s.ID,
				ServiceName:              s.Name,
				ServiceTags:              s.Tags,
				ServiceAddress:           s.Address,
				ServicePort:              s.Port,
				ServiceMeta:              s.Meta,
				ServiceEnableTagOverride: s.EnableTagOverride,
			})
		}
	}
	c.JSON(http.StatusOK, out)
}

func (a *Agent) catalogNode(c *gin.Context) {
	name := c.Param("name")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	n, ok := a.nodes[name]
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"Node": n.Node, "Services": n.Services})
}

func (a *Agent) catalogRegister(c *gin.Context) {
	var req struct {
		ID              string              `json:"ID"`
		Node            string              `json:"Node"`
		Address         string              `json:"Address"`
		TaggedAddresses map[string]string   `json:"TaggedAddresses"`
		NodeMeta        map[string]string   `json:"NodeMeta"`
		Service         *consul.ServiceInfo `json:"Service"`
		Check           *consul.CheckInfo   `json:"Check"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.String(http.StatusBadRequest, "Request decode failed: %v", err)
		return
	}
	if req.Node == "" || req.Address == "" {
		c.String(http.StatusBadRequest, "Must provide node and address")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[req.Node]
	if !ok {
		n = &catalogNode{
			Services: make(map[string]consul.ServiceInfo),
			Checks:   make(map[string]consul.CheckInfo),
		}
		a.nodes[req.Node] = n
	}
	n.Node = consul.Node{
		ID:              req.ID,
		Name:            req.Node,
		Address:         req.Address,
		Datacenter:      a.datacenter,
		TaggedAddresses: req.TaggedAddresses,
		Meta:            req.NodeMeta,
	}
	if n.Node.Meta == nil {
		n.Node.Meta = map[string]string{}
	}
	if s := req.Service; s != nil {
		if s.ID == "" {
			s.ID = s.Name
		}
		if s.Tags == nil {
			s.Tags = []string{}
		}
		n.Services[s.ID] = *s
	}
	if ch := req.Check; ch != nil {
		ch.Node = req.Node
		if ch.ID == "" {
			ch.ID = ch.Name
		}
		if ch.Status == "" {
			ch.Status = consul.StatusCritical
		}
		if s, ok := n.Services[ch.ServiceID]; ok {
			ch.ServiceName = s.Name
		}
		n.Checks[ch.ID] = *ch
	}
	a.bumpLocked()
	c.JSON(http.StatusOK, true)
}

func (a *Agent) catalogDeregister(c *gin.Context) {
	var req struct {
		Node      string `json:"Node"`
		ServiceID string `json:"ServiceID"`
		CheckID   string `json:"CheckID"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.String(http.StatusBadRequest, "Request decode failed: %v", err)
		return
	}
	if req.Node == "" {
		c.String(http.StatusBadRequest, "Must provide node")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[req.Node]
	if ok {
		switch {
		case req.ServiceID != "":
			removeService(n, req.ServiceID)
		case req.CheckID != "":
			delete(n.Checks, req.CheckID)
		default:
			delete(a.nodes, req.Node)
		}
		a.bumpLocked()
	}
	c.JSON(http.StatusOK, true)
}

func removeService(n *catalogNode, id string) {
	delete(n.Services, id)
	for cid, ch := range n.Checks {
		if ch.ServiceID == id {
			delete(n.Checks, cid)
		}
	}
}

func (a *Agent) healthNode(c *gin.Context) {
	name := c.Param("name")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	n, ok := a.nodes[name]
	if !ok {
		c.JSON(http.StatusOK, []consul.CheckInfo{})
		return
	}
	c.JSON(http.StatusOK, sortedChecks(n, func(consul.CheckInfo) bool { return true }))
}

func (a *Agent) healthChecks(c *gin.Context) {
	service := c.Param("service")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := []consul.CheckInfo{}
	for _, n := range a.sortedNodes(c) {
		out = append(out, sortedChecks(n, func(ch consul.CheckInfo) bool { return ch.ServiceName == service })...)
	}
	c.JSON(http.StatusOK, out)
}

func (a *Agent) healthService(c *gin.Context) {
	name, tag := c.Param("name"), c.Query("tag")
	passing := hasQuery(c, "passing")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := []serviceEntry{}
	for _, n := range a.sortedNodes(c) {
		for _, s := range sortedServices(n) {
			if s.Name != name || !hasTag(s.Tags, tag) {
				continue
			}
			checks := sortedChecks(n, func(ch consul.CheckInfo) bool {
				return ch.ServiceID == "" || ch.ServiceID == s.ID
			})
			if passing && !allPassing(checks) {
				continue
			}
			out = append(out, serviceEntry{Node: n.Node, Service: s, Checks: checks})
		}
	}
	c.JSON(http.StatusOK, out)
}

func allPassing(checks []consul.CheckInfo) bool {
	for _, ch := range checks {
		if ch.Status != consul.StatusPassing {
			return false
		}
	}
	return true
}

func (a *Agent) healthState(c *gin.Context) {
	state := consul.CheckStatus(c.Param("state"))
	switch state {
	case "any", consul.StatusPassing, consul.StatusWarning, consul.StatusCritical:
	default:
		c.String(http.StatusBadRequest, "Invalid check state %q", state)
		return
	}
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := []consul.CheckInfo{}
	for _, n := range a.sortedNodes(c) {
		out = append(out, sortedChecks(n, func(ch consul.CheckInfo) bool {
			return state == "any" || ch.Status == state
		})...)
	}
	c.JSON(http.StatusOK, out)
}

func fakeCoordinate(i int) coordinate {
	vec := make([]float64, 8)
	vec[0] = float64(i) * 0.001
	return coordinate{Vec: vec, Error: 1.5, Height: 1e-5}
}

func (a *Agent) coordinateDatacenters(c *gin.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.JSON(http.StatusOK, []gin.H{{
		"Datacenter": a.datacenter,
		"AreaID":     "wan",
		"Coordinates": []nodeCoordinate{{
			Node:  a.nodeName + "." + a.datacenter,
			Coord: fakeCoordinate(0),
		}},
	}})
}

func (a *Agent) coordinateNodes(c *gin.Context) {
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	out := []nodeCoordinate{}
	for i, n := range a.sortedNodes(c) {
		out = append(out, nodeCoordinate{Node: n.Node.Name, Coord: fakeCoordinate(i)})
	}
	c.JSON(http.StatusOK, out)
}

func (a *Agent) coordinateNode(c *gin.Context) {
	name := c.Param("name")
	a.block(c, a.globalIndex)
	defer a.mu.Unlock()

	for i, n := range a.sortedNodes(c) {
		if n.Node.Name == name {
			c.JSON(http.StatusOK, []nodeCoordinate{{Node: name, Coord: fakeCoordinate(i)}})
			return
		}
	}
	c.Status(http.StatusNotFound)
}
