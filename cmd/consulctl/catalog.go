package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/catalog"
	"github.com/oliora/ppconsul-sub000/pkg/consul/health"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/spf13/cobra"
)

// ── catalog ──────────────────────────────────────────────────────────────────

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Query the service catalog",
}

var (
	catalogTag    string
	catalogNear   string
	catalogMeta   []string
	catalogFilter string
	healthPassing bool
)

func init() {
	catalogCmd.AddCommand(catalogServicesCmd, catalogNodesCmd, catalogServiceCmd)
	healthCmd.AddCommand(healthServiceCmd, healthStateCmd)

	catalogServiceCmd.Flags().StringVar(&catalogTag, "tag", "", "only instances carrying this tag")
	catalogNodesCmd.Flags().StringVar(&catalogNear, "near", "", "sort by round trip time from this node")
	catalogServiceCmd.Flags().StringVar(&catalogNear, "near", "", "sort by round trip time from this node")
	for _, c := range []*cobra.Command{catalogNodesCmd, catalogServicesCmd, catalogServiceCmd} {
		c.Flags().StringSliceVar(&catalogMeta, "node-meta", nil, "node metadata filter as key:value (repeatable)")
	}
	healthServiceCmd.Flags().StringVar(&catalogTag, "tag", "", "only instances carrying this tag")
	healthServiceCmd.Flags().StringSliceVar(&catalogMeta, "node-meta", nil, "node metadata filter as key:value (repeatable)")
	for _, c := range []*cobra.Command{catalogNodesCmd, catalogServiceCmd, healthServiceCmd} {
		c.Flags().StringVar(&catalogFilter, "filter", "", "server-side filter expression")
	}
	healthServiceCmd.Flags().BoolVar(&healthPassing, "passing", false, "only instances with all checks passing")
}

// catalogArgs turns the filter flags into keyword arguments.
func catalogArgs() ([]kw.Arg, error) {
	var args []kw.Arg
	if catalogTag != "" {
		args = append(args, consul.Tag.Set(catalogTag))
	}
	if catalogNear != "" {
		args = append(args, consul.Near.Set(catalogNear))
	}
	if catalogFilter != "" {
		args = append(args, consul.Filter.Set(catalogFilter))
	}
	if len(catalogMeta) > 0 {
		meta, err := parseMeta(catalogMeta)
		if err != nil {
			return nil, err
		}
		args = append(args, consul.NodeMeta.Set(meta))
	}
	return args, nil
}

func parseMeta(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, ":")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid node-meta %q: expected key:value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

var catalogServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List registered services and their tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		args, err := catalogArgs()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		cat := catalog.New(c)
		services, err := cat.Services(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		return p.print(services, func(w io.Writer) {
			names := make([]string, 0, len(services))
			for name := range services {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([][]any, 0, len(names))
			for _, name := range names {
				rows = append(rows, []any{name, strings.Join(services[name], ",")})
			}
			table(w, "SERVICE\tTAGS", rows)
		})
	},
}

var catalogNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List catalog nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		args, err := catalogArgs()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		cat := catalog.New(c)
		nodes, err := cat.Nodes(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		return p.print(nodes, func(w io.Writer) {
			rows := make([][]any, 0, len(nodes))
			for _, n := range nodes {
				rows = append(rows, []any{n.Name, n.Address, n.Datacenter})
			}
			table(w, "NODE\tADDRESS\tDC", rows)
		})
	},
}

var catalogServiceCmd = &cobra.Command{
	Use:   "service <name>",
	Short: "List the instances of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, a []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		args, err := catalogArgs()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		cat := catalog.New(c)
		instances, err := cat.Service(cmd.Context(), a[0], args...)
		if err != nil {
			return fmt.Errorf("service %q: %w", a[0], err)
		}
		return p.print(instances, func(w io.Writer) {
			rows := make([][]any, 0, len(instances))
			for _, ns := range instances {
				rows = append(rows, []any{ns.Node.Name, ns.Service.ID, serviceAddr(ns.Node, ns.Service), strings.Join(ns.Service.Tags, ",")})
			}
			table(w, "NODE\tID\tADDRESS\tTAGS", rows)
		})
	},
}

// serviceAddr is the address a client should dial: the service address
// when set, the node's otherwise.
func serviceAddr(n consul.Node, s consul.ServiceInfo) string {
	host := s.Address
	if host == "" {
		host = n.Address
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}

// ── health ───────────────────────────────────────────────────────────────────

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query service and check health",
}

var healthServiceCmd = &cobra.Command{
	Use:   "service <name>",
	Short: "List the instances of a service with their aggregate status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, a []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		args, err := catalogArgs()
		if err != nil {
			return err
		}
		if healthPassing {
			args = append(args, health.Passing.Set(true))
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		h := health.New(c)
		entries, err := h.Service(cmd.Context(), a[0], args...)
		if err != nil {
			return fmt.Errorf("health of %q: %w", a[0], err)
		}
		return p.print(entries, func(w io.Writer) { printEntries(w, entries) })
	},
}

func printEntries(w io.Writer, entries []health.ServiceEntry) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.Node.Name, e.Service.ID, serviceAddr(e.Node, e.Service), e.Status(), len(e.Checks)})
	}
	table(w, "NODE\tID\tADDRESS\tSTATUS\tCHECKS", rows)
}

var healthStateCmd = &cobra.Command{
	Use:   "state <passing|warning|critical|any>",
	Short: "List checks in a given state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, a []string) error {
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		h := health.New(c)
		checks, err := h.State(cmd.Context(), consul.CheckStatus(a[0]))
		if err != nil {
			return fmt.Errorf("checks in state %q: %w", a[0], err)
		}
		return p.print(checks, func(w io.Writer) { printChecks(w, checks) })
	},
}

func printChecks(w io.Writer, checks []consul.CheckInfo) {
	rows := make([][]any, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []any{c.Node, c.ID, c.Name, c.Status, c.ServiceName})
	}
	table(w, "NODE\tCHECK\tNAME\tSTATUS\tSERVICE", rows)
}
