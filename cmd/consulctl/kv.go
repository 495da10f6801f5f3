package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/kv"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/spf13/cobra"
)

// ── kv ───────────────────────────────────────────────────────────────────────

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Read and write the key/value store",
}

var (
	kvFlags     uint64
	kvDefault   string
	kvSeparator string
	kvRecurse   bool
	kvValues    bool
)

func init() {
	kvCmd.AddCommand(kvGetCmd, kvPutCmd, kvDeleteCmd, kvListCmd, kvCasCmd)

	kvGetCmd.Flags().StringVar(&kvDefault, "default", "", "value printed when the key does not exist")
	kvPutCmd.Flags().Uint64Var(&kvFlags, "flags", 0, "opaque flags stored with the value")
	kvCasCmd.Flags().Uint64Var(&kvFlags, "flags", 0, "opaque flags stored with the value")
	kvDeleteCmd.Flags().BoolVar(&kvRecurse, "recurse", false, "delete every key under the prefix")
	kvListCmd.Flags().StringVar(&kvSeparator, "separator", "", "list keys only up to the first separator")
	kvListCmd.Flags().BoolVar(&kvValues, "values", false, "print values along with keys")
}

var kvGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a key",
	Args:  cobra.ExactArgs(1),
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
		store := kv.New(c)
		item, err := store.Item(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get %q: %w", args[0], err)
		}
		if !item.Valid() {
			if !cmd.Flags().Changed("default") {
				return fmt.Errorf("get %q: %w", args[0], consul.ErrNotFound)
			}
			item = kv.KeyValue{Key: args[0], Value: kvDefault}
		}
		return p.print(item, func(w io.Writer) { fmt.Fprintln(w, item.Value) })
	},
}

var kvPutCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Set the value of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		store := kv.New(c)
		var extra []kw.Arg
		if kvFlags != 0 {
			extra = append(extra, kv.Flags.Set(kvFlags))
		}
		if err := store.Set(cmd.Context(), args[0], args[1], extra...); err != nil {
			return fmt.Errorf("put %q: %w", args[0], err)
		}
		logger.Debug("key written")
		return nil
	},
}

var kvCasCmd = &cobra.Command{
	Use:   "cas <key> <index> <value>",
	Short: "Set a key only if its modify index still matches",
	Long: `cas writes value only if the key's ModifyIndex equals index. An index of
0 writes only if the key does not exist yet. Exits non-zero when the write
was refused.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[1], err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		store := kv.New(c)
		var extra []kw.Arg
		if kvFlags != 0 {
			extra = append(extra, kv.Flags.Set(kvFlags))
		}
		ok, err := store.CompareSet(cmd.Context(), args[0], index, args[2], extra...)
		if err != nil {
			return fmt.Errorf("cas %q: %w", args[0], err)
		}
		if !ok {
			return &consul.UpdateError{Key: args[0], Op: "cas"}
		}
		return nil
	},
}

var kvDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key, or a whole prefix with --recurse",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		store := kv.New(c)
		if kvRecurse {
			err = store.EraseAll(cmd.Context(), args[0])
		} else {
			err = store.Erase(cmd.Context(), args[0])
		}
		if err != nil {
			return fmt.Errorf("delete %q: %w", args[0], err)
		}
		return nil
	},
}

var kvListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List keys under a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var prefix string
		if len(args) == 1 {
			prefix = args[0]
		}
		p, err := out(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		store := kv.New(c)
		if kvValues {
			return listValues(cmd.Context(), p, store, prefix)
		}

		var keys []string
		if kvSeparator != "" {
			keys, err = store.SubKeys(cmd.Context(), prefix, kvSeparator)
		} else {
			keys, err = store.Keys(cmd.Context(), prefix)
		}
		if err != nil {
			return fmt.Errorf("list %q: %w", prefix, err)
		}
		return p.print(keys, func(w io.Writer) {
			for _, k := range keys {
				fmt.Fprintln(w, k)
			}
		})
	},
}

func listValues(ctx context.Context, p *printer, store *kv.KV, prefix string) error {
	items, err := store.Items(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", prefix, err)
	}
	return p.print(items, func(w io.Writer) { printItems(w, items) })
}

func printItems(w io.Writer, items []kv.KeyValue) {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{it.Key, it.Value, it.Flags, it.ModifyIndex, it.Session})
	}
	table(w, "KEY\tVALUE\tFLAGS\tINDEX\tSESSION", rows)
}
