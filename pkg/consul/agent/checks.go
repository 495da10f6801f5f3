package agent

import (
	"fmt"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
)

// CheckParams configures how a check is run. It is one of TTLCheck,
// ScriptCheck, HTTPCheck, TCPCheck or DockerCheck.
type CheckParams interface {
	checkParams()
}

// TTLCheck passes while the application keeps reporting within TTL.
type TTLCheck struct {
	TTL time.Duration
}

// ScriptCheck runs Args on the agent every Interval.
type ScriptCheck struct {
	Args     []string
	Interval time.Duration
	Timeout  time.Duration
}

// HTTPCheck issues a GET to URL every Interval; 2xx passes, 429 warns.
type HTTPCheck struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// TCPCheck connects to Address ("host:port") every Interval.
type TCPCheck struct {
	Address  string
	Interval time.Duration
	Timeout  time.Duration
}

// DockerCheck runs Args inside ContainerID with Shell every Interval.
type DockerCheck struct {
	ContainerID string
	Shell       string
	Args        []string
	Interval    time.Duration
}

func (TTLCheck) checkParams()    {}
func (ScriptCheck) checkParams() {}
func (HTTPCheck) checkParams()   {}
func (TCPCheck) checkParams()    {}
func (DockerCheck) checkParams() {}

// checkBody is the wire form shared by check registration and the Check
// field of a service registration.
type checkBody struct {
	ID                             string   `json:"ID,omitempty"`
	Name                           string   `json:"Name,omitempty"`
	Notes                          string   `json:"Notes,omitempty"`
	ServiceID                      string   `json:"ServiceID,omitempty"`
	TTL                            string   `json:"TTL,omitempty"`
	Args                           []string `json:"Args,omitempty"`
	HTTP                           string   `json:"HTTP,omitempty"`
	TCP                            string   `json:"TCP,omitempty"`
	DockerContainerID              string   `json:"DockerContainerID,omitempty"`
	Shell                          string   `json:"Shell,omitempty"`
	Interval                       string   `json:"Interval,omitempty"`
	Timeout                        string   `json:"Timeout,omitempty"`
	DeregisterCriticalServiceAfter string   `json:"DeregisterCriticalServiceAfter,omitempty"`
}

func duration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

// encodeCheck fills the run configuration of p into b. Invalid settings
// are reported as *consul.FormatError.
func encodeCheck(b *checkBody, p CheckParams) error {
	if err := fillCheck(b, p); err != nil {
		return &consul.FormatError{Msg: "encode check", Err: err}
	}
	return nil
}

func fillCheck(b *checkBody, p CheckParams) error {
	switch p := p.(type) {
	case TTLCheck:
		if p.TTL <= 0 {
			return fmt.Errorf("ttl check: TTL must be positive")
		}
		b.TTL = duration(p.TTL)
	case ScriptCheck:
		if len(p.Args) == 0 {
			return fmt.Errorf("script check: Args must not be empty")
		}
		b.Args = p.Args
		b.Interval = duration(p.Interval)
		b.Timeout = duration(p.Timeout)
	case HTTPCheck:
		if p.URL == "" {
			return fmt.Errorf("http check: URL must be set")
		}
		b.HTTP = p.URL
		b.Interval = duration(p.Interval)
		b.Timeout = duration(p.Timeout)
	case TCPCheck:
		if p.Address == "" {
			return fmt.Errorf("tcp check: Address must be set")
		}
		b.TCP = p.Address
		b.Interval = duration(p.Interval)
		b.Timeout = duration(p.Timeout)
	case DockerCheck:
		if p.ContainerID == "" {
			return fmt.Errorf("docker check: ContainerID must be set")
		}
		b.DockerContainerID = p.ContainerID
		b.Shell = p.Shell
		b.Args = p.Args
		b.Interval = duration(p.Interval)
	case nil:
		return fmt.Errorf("check parameters must be set")
	default:
		return fmt.Errorf("unsupported check parameters %T", p)
	}
	if _, ttl := p.(TTLCheck); !ttl && b.Interval == "" {
		return fmt.Errorf("%T: Interval must be positive", p)
	}
	return nil
}
