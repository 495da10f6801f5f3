package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul/agent"
	"github.com/oliora/ppconsul-sub000/pkg/consul/sessions"
	"github.com/oliora/ppconsul-sub000/pkg/consul/status"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/spf13/cobra"
)

// ── agent ────────────────────────────────────────────────────────────────────

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect the local agent",
}

var agentWan bool

func init() {
	agentCmd.AddCommand(agentMembersCmd, agentServicesCmd, agentChecksCmd)
	agentMembersCmd.Flags().BoolVar(&agentWan, "wan", false, "list the WAN pool instead of the LAN pool")
}

var agentMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List gossip pool members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		a := agent.New(c)
		pool := agent.Lan
		if agentWan {
			pool = agent.Wan
		}
		members, err := a.Members(cmd.Context(), pool)
		if err != nil {
			return fmt.Errorf("list %s members: %w", pool, err)
		}
		return p.print(members, func(w io.Writer) {
			rows := make([][]any, 0, len(members))
			for _, m := range members {
				rows = append(rows, []any{m.Name, fmt.Sprintf("%s:%d", m.Address, m.Port), m.Status, m.Tags["role"], m.Tags["dc"]})
			}
			table(w, "NODE\tADDRESS\tSTATUS\tROLE\tDC", rows)
		})
	},
}

var agentServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List services registered with the local agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		a := agent.New(c)
		services, err := a.Services(cmd.Context())
		if err != nil {
			return fmt.Errorf("list agent services: %w", err)
		}
		return p.print(services, func(w io.Writer) {
			ids := sortedKeys(services)
			rows := make([][]any, 0, len(ids))
			for _, id := range ids {
				s := services[id]
				rows = append(rows, []any{id, s.Name, fmt.Sprintf("%s:%d", s.Address, s.Port), strings.Join(s.Tags, ",")})
			}
			table(w, "ID\tSERVICE\tADDRESS\tTAGS", rows)
		})
	},
}

var agentChecksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List checks registered with the local agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		a := agent.New(c)
		checks, err := a.Checks(cmd.Context())
		if err != nil {
			return fmt.Errorf("list agent checks: %w", err)
		}
		return p.print(checks, func(w io.Writer) {
			ids := sortedKeys(checks)
			rows := make([][]any, 0, len(ids))
			for _, id := range ids {
				chk := checks[id]
				rows = append(rows, []any{id, chk.Name, chk.Status, chk.ServiceID, chk.Output})
			}
			table(w, "CHECK\tNAME\tSTATUS\tSERVICE\tOUTPUT", rows)
		})
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Raft leader and peers",
}

func init() {
	statusCmd.AddCommand(statusLeaderCmd, statusPeersCmd)
}

var statusLeaderCmd = &cobra.Command{
	Use:   "leader",
	Short: "Print the Raft leader address, empty when none is elected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		s := status.New(c)
		leader, err := s.Leader(cmd.Context())
		if err != nil {
			return fmt.Errorf("get leader: %w", err)
		}
		return p.print(leader, func(w io.Writer) { fmt.Fprintln(w, leader) })
	},
}

var statusPeersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List Raft peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		s := status.New(c)
		peers, err := s.Peers(cmd.Context())
		if err != nil {
			return fmt.Errorf("get peers: %w", err)
		}
		return p.print(peers, func(w io.Writer) {
			for _, peer := range peers {
				fmt.Fprintln(w, peer)
			}
		})
	},
}

// ── session ──────────────────────────────────────────────────────────────────

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, list and destroy sessions",
}

var (
	sessionName      string
	sessionNode      string
	sessionTTL       time.Duration
	sessionLockDelay time.Duration
	sessionDelete    bool
	sessionChecks    []string
)

func init() {
	sessionCmd.AddCommand(sessionCreateCmd, sessionDestroyCmd, sessionListCmd)

	f := sessionCreateCmd.Flags()
	f.StringVar(&sessionName, "name", "", "human readable session name")
	f.StringVar(&sessionNode, "node", "", "node to attach to (default: the agent's node)")
	f.DurationVar(&sessionTTL, "ttl", 0, "invalidate unless renewed within this period (10s to 86400s)")
	f.DurationVar(&sessionLockDelay, "lock-delay", 0, "delay before a released lock can be reacquired")
	f.BoolVar(&sessionDelete, "delete", false, "delete held keys on invalidation instead of releasing them")
	f.StringSliceVar(&sessionChecks, "check", nil, "health check bound to the session (repeatable)")
}

// sessionArgs turns the create flags into keyword arguments.
func sessionArgs(cmd *cobra.Command) []kw.Arg {
	var args []kw.Arg
	if sessionName != "" {
		args = append(args, sessions.Name.Set(sessionName))
	}
	if sessionNode != "" {
		args = append(args, sessions.Node.Set(sessionNode))
	}
	if sessionTTL > 0 {
		args = append(args, sessions.TTL.Set(sessionTTL))
	}
	if cmd.Flags().Changed("lock-delay") {
		args = append(args, sessions.LockDelay.Set(sessionLockDelay))
	}
	if sessionDelete {
		args = append(args, sessions.Behavior.Set(sessions.Delete))
	}
	if cmd.Flags().Changed("check") {
		args = append(args, sessions.Checks.Set(sessionChecks))
	}
	return args
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and print its ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		s := sessions.New(c)
		id, err := s.Create(cmd.Context(), sessionArgs(cmd)...)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var sessionDestroyCmd = &cobra.Command{
	Use:   "destroy <id>",
	Short: "Destroy a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		s := sessions.New(c)
		if err := s.Destroy(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("destroy session %s: %w", args[0], err)
		}
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list [node]",
	Short: "List sessions, optionally only those of one node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		s := sessions.New(c)
		var list []sessions.Session
		if len(args) == 1 {
			list, err = s.Node(cmd.Context(), args[0])
		} else {
			list, err = s.List(cmd.Context())
		}
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		return p.print(list, func(w io.Writer) { printSessions(w, list) })
	},
}

func printSessions(w io.Writer, list []sessions.Session) {
	rows := make([][]any, 0, len(list))
	for _, s := range list {
		ttl := "-"
		if s.TTL > 0 {
			ttl = s.TTL.String()
		}
		rows = append(rows, []any{s.ID, s.Name, s.Node, s.Behavior, ttl})
	}
	table(w, "ID\tNAME\tNODE\tBEHAVIOR\tTTL", rows)
}
