package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/kv"
	"github.com/oliora/ppconsul-sub000/pkg/consul/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ── watch ────────────────────────────────────────────────────────────────────

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes as they happen",
}

var (
	watchWait        time.Duration
	watchMaxFailures int
)

func init() {
	watchCmd.AddCommand(watchKeyCmd)
	watchCmd.PersistentFlags().DurationVar(&watchWait, "wait", watch.DefaultWait, "blocking wait of each query")
	watchCmd.PersistentFlags().IntVar(&watchMaxFailures, "max-failures", 0, "give up after this many consecutive failures, 0 never")
}

// keyEvent is one observed value of a watched key.
type keyEvent struct {
	Key    string `json:"key" yaml:"key"`
	Value  string `json:"value" yaml:"value"`
	Exists bool   `json:"exists" yaml:"exists"`
	Index  uint64 `json:"index" yaml:"index"`
}

var watchKeyCmd = &cobra.Command{
	Use:   "key <key> [key...]",
	Short: "Watch one or more keys, printing each new value",
	Long: `key keeps one blocking query per key open and prints every value change
until interrupted. A missing key is reported with exists=false.`,
	Args: cobra.MinimumNArgs(1),
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

		err = watchKeys(cmd.Context(), kv.New(c), p, args)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// watchKeys runs one watcher per key until ctx is done or one of them fails.
func watchKeys(ctx context.Context, store *kv.KV, p *printer, keys []string) error {
	var mu sync.Mutex
	emit := func(ev keyEvent) {
		mu.Lock()
		defer mu.Unlock()
		if err := p.print(ev, func(w io.Writer) { printEvent(w, ev) }); err != nil {
			logger.Warn("print event", zap.String("key", ev.Key), zap.Error(err))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		w := watch.Key(store, key, func(v kv.KeyValue, meta consul.ResponseMeta) {
			emit(keyEvent{Key: key, Value: v.Value, Exists: v.Valid(), Index: meta.Index})
		},
			watch.WithWait(watchWait),
			watch.WithMaxFailures(watchMaxFailures),
			watch.WithLogger(logger.With(zap.String("key", key))),
		)
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("watch %q: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func printEvent(w io.Writer, ev keyEvent) {
	if !ev.Exists {
		fmt.Fprintf(w, "%s\t(missing)\t%d\n", ev.Key, ev.Index)
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%d\n", ev.Key, ev.Value, ev.Index)
}
