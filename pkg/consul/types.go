package consul

// CheckStatus is the state of a health check.
type CheckStatus string

const (
	StatusPassing  CheckStatus = "passing"
	StatusWarning  CheckStatus = "warning"
	StatusCritical CheckStatus = "critical"
)

// Node is a catalog node.
type Node struct {
	ID              string            `json:"ID,omitempty"`
	Name            string            `json:"Node"`
	Address         string            `json:"Address"`
	Datacenter      string            `json:"Datacenter,omitempty"`
	TaggedAddresses map[string]string `json:"TaggedAddresses,omitempty"`
	Meta            map[string]string `json:"Meta,omitempty"`
}

// ServiceInfo is a service instance as the agent and catalog report it.
type ServiceInfo struct {
	ID                string            `json:"ID"`
	Name              string            `json:"Service"`
	Tags              []string          `json:"Tags"`
	Address           string            `json:"Address"`
	Port              int               `json:"Port"`
	Meta              map[string]string `json:"Meta,omitempty"`
	EnableTagOverride bool              `json:"EnableTagOverride,omitempty"`
}

// CheckInfo is a registered health check and its last result.
type CheckInfo struct {
	Node        string      `json:"Node"`
	ID          string      `json:"CheckID"`
	Name        string      `json:"Name"`
	Status      CheckStatus `json:"Status"`
	Notes       string      `json:"Notes"`
	Output      string      `json:"Output"`
	ServiceID   string      `json:"ServiceID"`
	ServiceName string      `json:"ServiceName"`
}

// NodeService pairs a node with one service instance it runs.
type NodeService struct {
	Node    Node
	Service ServiceInfo
}
