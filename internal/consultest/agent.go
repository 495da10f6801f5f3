package consultest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
)

type member struct {
	Name        string            `json:"Name"`
	Addr        string            `json:"Addr"`
	Port        int               `json:"Port"`
	Tags        map[string]string `json:"Tags"`
	Status      int               `json:"Status"`
	ProtocolMin int               `json:"ProtocolMin"`
	ProtocolMax int               `json:"ProtocolMax"`
	ProtocolCur int               `json:"ProtocolCur"`
	DelegateMin int               `json:"DelegateMin"`
	DelegateMax int               `json:"DelegateMax"`
	DelegateCur int               `json:"DelegateCur"`
}

// checkDefinition is the body of /v1/agent/check/register, and the Check
// field of a service registration.
type checkDefinition struct {
	ID                             string   `json:"ID"`
	CheckID                        string   `json:"CheckID"`
	Name                           string   `json:"Name"`
	Notes                          string   `json:"Notes"`
	ServiceID                      string   `json:"ServiceID"`
	Status                         string   `json:"Status"`
	TTL                            string   `json:"TTL"`
	Args                           []string `json:"Args"`
	HTTP                           string   `json:"HTTP"`
	TCP                            string   `json:"TCP"`
	DockerContainerID              string   `json:"DockerContainerID"`
	Shell                          string   `json:"Shell"`
	Interval                       string   `json:"Interval"`
	Timeout                        string   `json:"Timeout"`
	DeregisterCriticalServiceAfter string   `json:"DeregisterCriticalServiceAfter"`
}

// validate enforces that exactly one check type is set, and that every
// non-TTL check runs on an interval.
func (d checkDefinition) validate() string {
	kinds := 0
	for _, set := range []bool{d.TTL != "", len(d.Args) > 0 && d.DockerContainerID == "", d.HTTP != "", d.TCP != "", d.DockerContainerID != ""} {
		if set {
			kinds++
		}
	}
	switch {
	case kinds != 1:
		return "Check must be exactly one of TTL, Script, HTTP, TCP or Docker"
	case d.TTL == "" && d.Interval == "":
		return "Interval must be set for non-TTL checks"
	}
	return ""
}

type serviceDefinition struct {
	ID                string            `json:"ID"`
	Name              string            `json:"Name"`
	Tags              []string          `json:"Tags"`
	Address           string            `json:"Address"`
	Port              int               `json:"Port"`
	Meta              map[string]string `json:"Meta"`
	EnableTagOverride bool              `json:"EnableTagOverride"`
	Check             *checkDefinition  `json:"Check"`
}

func (a *Agent) registerAgent(rg *gin.RouterGroup) {
	ag := rg.Group("/agent")
	{
		ag.GET("/self", a.agentSelf)
		ag.GET("/members", a.agentMembers)
		ag.PUT("/join/:address", a.agentJoin)
		ag.PUT("/force-leave/:node", a.agentForceLeave)
		ag.PUT("/leave", a.agentLeave)
		ag.PUT("/maintenance", a.nodeMaintenance)

		ag.GET("/checks", a.agentChecks)
		ag.PUT("/check/register", a.registerCheck)
		ag.PUT("/check/deregister/:id", a.deregisterCheck)
		ag.PUT("/check/pass/:id", a.ttlUpdate(consul.StatusPassing))
		ag.PUT("/check/warn/:id", a.ttlUpdate(consul.StatusWarning))
		ag.PUT("/check/fail/:id", a.ttlUpdate(consul.StatusCritical))
		ag.PUT("/check/update/:id", a.checkUpdate)

		ag.GET("/services", a.agentServices)
		ag.PUT("/service/register", a.registerService)
		ag.PUT("/service/deregister/:id", a.deregisterService)
		ag.PUT("/service/maintenance/:id", a.serviceMaintenance)
	}
}

// Check returns a check registered on the agent's node.
func (a *Agent) Check(id string) (consul.CheckInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.local().Checks[id]
	return ch, ok
}

// Service returns a service registered on the agent's node.
func (a *Agent) Service(id string) (consul.ServiceInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.local().Services[id]
	return s, ok
}

// SetCheckStatus changes a check's status, as its runner would.
func (a *Agent) SetCheckStatus(id string, status consul.CheckStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.local().Checks[id]; ok {
		ch.Status = status
		a.local().Checks[id] = ch
		a.bumpLocked()
	}
}

func (a *Agent) local() *catalogNode { return a.nodes[a.nodeName] }

func (a *Agent) member(wan bool) member {
	m := member{
		Name:        a.nodeName,
		Addr:        "127.0.0.1",
		Port:        8301,
		Tags:        map[string]string{"dc": a.datacenter, "role": "consul"},
		Status:      1,
		ProtocolMin: 1,
		ProtocolMax: 5,
		ProtocolCur: 2,
		DelegateMin: 2,
		DelegateMax: 5,
		DelegateCur: 4,
	}
	if wan {
		m.Name += "." + a.datacenter
		m.Port = 8302
	}
	return m
}

func (a *Agent) agentSelf(c *gin.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"Config": gin.H{
			"Datacenter": a.datacenter,
			"NodeName":   a.nodeName,
			"NodeID":     a.nodeID,
			"Server":     true,
			"Revision":   "consultest",
			"Version":    "1.17.0",
		},
		"Member": a.member(false),
	})
}

func (a *Agent) agentMembers(c *gin.Context) {
	c.JSON(http.StatusOK, []member{a.member(hasQuery(c, "wan"))})
}

func (a *Agent) agentJoin(c *gin.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joined = append(a.joined, c.Param("address"))
	c.Status(http.StatusOK)
}

func (a *Agent) agentForceLeave(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (a *Agent) agentLeave(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (a *Agent) agentChecks(c *gin.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.JSON(http.StatusOK, a.local().Checks)
}

func (a *Agent) agentServices(c *gin.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.JSON(http.StatusOK, a.local().Services)
}

func (a *Agent) registerCheck(c *gin.Context) {
	var def checkDefinition
	if err := json.NewDecoder(c.Request.Body).Decode(&def); err != nil {
		c.String(http.StatusBadRequest, "Request decode failed: %v", err)
		return
	}
	if def.Name == "" {
		c.String(http.StatusBadRequest, "Missing check name")
		return
	}
	if msg := def.validate(); msg != "" {
		c.String(http.StatusBadRequest, msg)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	ch := consul.CheckInfo{
		Node:      a.nodeName,
		ID:        def.ID,
		Name:      def.Name,
		Status:    consul.CheckStatus(def.Status),
		Notes:     def.Notes,
		ServiceID: def.ServiceID,
	}
	if ch.ID == "" {
		ch.ID = def.Name
	}
	if ch.Status == "" {
		ch.Status = consul.StatusCritical
	}
	if def.ServiceID != "" {
		s, ok := a.local().Services[def.ServiceID]
		if !ok {
			c.String(http.StatusInternalServerError, "ServiceID %q does not exist", def.ServiceID)
			return
		}
		ch.ServiceName = s.Name
	}
	a.local().Checks[ch.ID] = ch
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func (a *Agent) deregisterCheck(c *gin.Context) {
	id := c.Param("id")
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.local().Checks[id]; !ok {
		c.String(http.StatusNotFound, "Unknown check ID %q", id)
		return
	}
	delete(a.local().Checks, id)
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func (a *Agent) ttlUpdate(status consul.CheckStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.setCheck(c, c.Param("id"), status, c.Query("note"))
	}
}

func (a *Agent) checkUpdate(c *gin.Context) {
	var req struct {
		Status string `json:"Status"`
		Output string `json:"Output"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.String(http.StatusBadRequest, "Request decode failed: %v", err)
		return
	}
	status := consul.CheckStatus(req.Status)
	switch status {
	case consul.StatusPassing, consul.StatusWarning, consul.StatusCritical:
	default:
		c.String(http.StatusBadRequest, "Invalid check status: %q", req.Status)
		return
	}
	a.setCheck(c, c.Param("id"), status, req.Output)
}

func (a *Agent) setCheck(c *gin.Context, id string, status consul.CheckStatus, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.local().Checks[id]
	if !ok {
		c.String(http.StatusNotFound, "Unknown check ID %q", id)
		return
	}
	ch.Status = status
	ch.Output = output
	a.local().Checks[id] = ch
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func (a *Agent) registerService(c *gin.Context) {
	var def serviceDefinition
	if err := json.NewDecoder(c.Request.Body).Decode(&def); err != nil {
		c.String(http.StatusBadRequest, "Request decode failed: %v", err)
		return
	}
	if def.Name == "" {
		c.String(http.StatusBadRequest, "Missing service name")
		return
	}
	if def.Check != nil {
		if msg := def.Check.validate(); msg != "" {
			c.String(http.StatusBadRequest, msg)
			return
		}
	}

	s := consul.ServiceInfo{
		ID:                def.ID,
		Name:              def.Name,
		Tags:              def.Tags,
		Address:           def.Address,
		Port:              def.Port,
		Meta:              def.Meta,
		EnableTagOverride: def.EnableTagOverride,
	}
	if s.ID == "" {
		s.ID = s.Name
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.local().Services[s.ID] = s
	if def.Check != nil {
		id := def.Check.CheckID
		if id == "" {
			id = "service:" + s.ID
		}
		name := def.Check.Name
		if name == "" {
			name = "Service '" + s.Name + "' check"
		}
		status := consul.CheckStatus(def.Check.Status)
		if status == "" {
			status = consul.StatusCritical
		}
		a.local().Checks[id] = consul.CheckInfo{
			Node:        a.nodeName,
			ID:          id,
			Name:        name,
			Status:      status,
			Notes:       def.Check.Notes,
			ServiceID:   s.ID,
			ServiceName: s.Name,
		}
	}
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func (a *Agent) deregisterService(c *gin.Context) {
	id := c.Param("id")
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.local().Services[id]; !ok {
		c.String(http.StatusNotFound, "Unknown service ID %q", id)
		return
	}
	removeService(a.local(), id)
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func parseEnable(c *gin.Context) (bool, bool) {
	v, ok := c.GetQuery("enable")
	if !ok {
		c.String(http.StatusBadRequest, "Missing value for enable")
		return false, false
	}
	enable, err := strconv.ParseBool(v)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid value for enable: %q", v)
		return false, false
	}
	return enable, true
}

func (a *Agent) serviceMaintenance(c *gin.Context) {
	id := c.Param("id")
	enable, ok := parseEnable(c)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.local().Services[id]
	if !ok {
		c.String(http.StatusNotFound, "Unknown service ID %q", id)
		return
	}
	checkID := "_service_maintenance:" + id
	if enable {
		a.local().Checks[checkID] = consul.CheckInfo{
			Node:        a.nodeName,
			ID:          checkID,
			Name:        "Service Maintenance Mode",
			Status:      consul.StatusCritical,
			Notes:       maintenanceReason(c, "Maintenance mode is enabled for this service"),
			ServiceID:   id,
			ServiceName: s.Name,
		}
	} else {
		delete(a.local().Checks, checkID)
	}
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func (a *Agent) nodeMaintenance(c *gin.Context) {
	enable, ok := parseEnable(c)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	const checkID = "_node_maintenance"
	if enable {
		a.local().Checks[checkID] = consul.CheckInfo{
			Node:   a.nodeName,
			ID:     checkID,
			Name:   "Node Maintenance Mode",
			Status: consul.StatusCritical,
			Notes:  maintenanceReason(c, "Maintenance mode is enabled for this node"),
		}
	} else {
		delete(a.local().Checks, checkID)
	}
	a.bumpLocked()
	c.Status(http.StatusOK)
}

func maintenanceReason(c *gin.Context, def string) string {
	if r := c.Query("reason"); r != "" {
		return r
	}
	return def
}
