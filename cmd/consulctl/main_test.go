package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/oliora/ppconsul-sub000/internal/consultest"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/kv"
	"github.com/oliora/ppconsul-sub000/pkg/consul/sessions"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// resetFlags restores every flag to its default so that consecutive
// Execute calls do not leak state into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, fake *consultest.Agent, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--address", fake.URL()}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestPrinter(t *testing.T) {
	v := map[string]int{"a": 1}
	text := func(w io.Writer) { table(w, "NAME\tCOUNT", [][]any{{"a", 1}, {"long-name", 22}}) }

	cases := []struct {
		format string
		want   string
	}{
		{"text", "NAME       COUNT\na          1\nlong-name  22\n"},
		{"", "NAME       COUNT\na          1\nlong-name  22\n"},
		{"json", "{\n  \"a\": 1\n}\n"},
		{"yaml", "a: 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			p, err := newPrinter(&buf, tc.format)
			require.NoError(t, err)
			require.NoError(t, p.print(v, text))
			assert.Equal(t, tc.want, buf.String())
		})
	}

	_, err := newPrinter(io.Discard, "xml")
	assert.Error(t, err)
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"rack:r1", "zone:eu:1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rack": "r1", "zone": "eu:1"}, meta)

	_, err = parseMeta([]string{"norack"})
	assert.Error(t, err)
	_, err = parseMeta([]string{":r1"})
	assert.Error(t, err)
}

func TestKVCommands(t *testing.T) {
	fake := consultest.New(t)

	_, err := run(t, fake, "kv", "put", "app/a", "1")
	require.NoError(t, err)
	_, err = run(t, fake, "kv", "put", "--flags", "7", "app/b/c", "2")
	require.NoError(t, err)

	got, err := run(t, fake, "kv", "get", "app/a")
	require.NoError(t, err)
	assert.Equal(t, "1\n", got)

	got, err = run(t, fake, "--format", "json", "kv", "get", "app/b/c")
	require.NoError(t, err)
	var item kv.KeyValue
	require.NoError(t, json.Unmarshal([]byte(got), &item))
	assert.Equal(t, "2", item.Value)
	assert.Equal(t, uint64(7), item.Flags)

	got, err = run(t, fake, "kv", "list", "app/")
	require.NoError(t, err)
	assert.Equal(t, "app/a\napp/b/c\n", got)

	got, err = run(t, fake, "kv", "list", "--separator", "/", "app/")
	require.NoError(t, err)
	assert.Equal(t, "app/a\napp/b/\n", got)

	_, err = run(t, fake, "kv", "cas", "app/a", "0", "x")
	assert.ErrorIs(t, err, consul.ErrUpdate)
	value, _ := fake.Key("app/a")
	assert.Equal(t, "1", value)

	_, err = run(t, fake, "kv", "delete", "--recurse", "app/")
	require.NoError(t, err)

	_, err = run(t, fake, "kv", "get", "app/a")
	assert.ErrorIs(t, err, consul.ErrNotFound)

	got, err = run(t, fake, "kv", "get", "--default", "none", "app/a")
	require.NoError(t, err)
	assert.Equal(t, "none\n", got)
}

func TestStatusCommands(t *testing.T) {
	fake := consultest.New(t)
	fake.SetLeader("10.0.0.1:8300")
	fake.SetPeers("10.0.0.1:8300", "10.0.0.2:8300")

	got, err := run(t, fake, "status", "leader")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8300\n", got)

	got, err = run(t, fake, "--format", "yaml", "status", "peers")
	require.NoError(t, err)
	var peers []string
	require.NoError(t, yaml.Unmarshal([]byte(got), &peers))
	assert.Equal(t, []string{"10.0.0.1:8300", "10.0.0.2:8300"}, peers)
}

func TestSessionCommands(t *testing.T) {
	fake := consultest.New(t)

	got, err := run(t, fake, "session", "create", "--name", "deploy", "--ttl", "30s", "--delete")
	require.NoError(t, err)
	id := strings.TrimSpace(got)
	require.NotEmpty(t, id)

	got, err = run(t, fake, "--format", "json", "session", "list")
	require.NoError(t, err)
	var list []sessions.Session
	require.NoError(t, json.Unmarshal([]byte(got), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "deploy", list[0].Name)
	assert.Equal(t, sessions.Delete, list[0].Behavior)
	assert.Equal(t, 30*time.Second, list[0].TTL)

	_, err = run(t, fake, "session", "destroy", id)
	require.NoError(t, err)

	got, err = run(t, fake, "--format", "json", "session", "list")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", got)
}

func TestCommandsCloseClient(t *testing.T) {
	fake := consultest.New(t)
	fake.SetLeader("10.0.0.1:8300")

	var clients []*consul.Client
	newClient = func() (*consul.Client, error) {
		c, err := dialClient()
		if err == nil {
			clients = append(clients, c)
		}
		return c, err
	}
	t.Cleanup(func() { newClient = dialClient })

	commands := [][]string{
		{"kv", "put", "app/a", "1"},
		{"kv", "get", "app/a"},
		{"kv", "get", "app/missing"},
		{"kv", "list", "--values", "app/"},
		{"kv", "cas", "app/a", "0", "x"},
		{"kv", "delete", "app/a"},
		{"catalog", "services"},
		{"catalog", "nodes"},
		{"catalog", "service", "web"},
		{"health", "service", "web"},
		{"health", "state", "any"},
		{"agent", "members"},
		{"agent", "services"},
		{"agent", "checks"},
		{"status", "leader"},
		{"status", "peers"},
		{"session", "create", "--name", "deploy"},
		{"session", "list"},
	}
	for _, args := range commands {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			clients = nil
			_, _ = run(t, fake, args...)
			require.Len(t, clients, 1)
			assert.True(t, clients[0].Stopped(), "client left open")
		})
	}
}

func TestUnknownFormat(t *testing.T) {
	fake := consultest.New(t)
	_, err := run(t, fake, "--format", "xml", "status", "leader")
	assert.ErrorContains(t, err, "unknown format")
}

// lineWriter forwards each write as one event.
type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestWatchKeys(t *testing.T) {
	fake := consultest.New(t)
	fake.SetKey("a", "1")

	events := make(lineWriter, 16)
	p, err := newPrinter(events, "json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchWait = 5 * time.Second
	done := make(chan error, 1)
	go func() { done <- watchKeys(ctx, kv.New(fake.Client(t)), p, []string{"a", "b"}) }()

	next := func() keyEvent {
		t.Helper()
		select {
		case s := <-events:
			var ev keyEvent
			require.NoError(t, json.Unmarshal([]byte(s), &ev))
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return keyEvent{}
		}
	}

	initial := map[string]keyEvent{}
	for i := 0; i < 2; i++ {
		ev := next()
		initial[ev.Key] = ev
	}
	assert.Equal(t, "1", initial["a"].Value)
	assert.True(t, initial["a"].Exists)
	assert.False(t, initial["b"].Exists)

	fake.SetKey("b", "2")
	ev := next()
	assert.Equal(t, keyEvent{Key: "b", Value: "2", Exists: true, Index: ev.Index}, ev)
	assert.Greater(t, ev.Index, initial["b"].Index)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
