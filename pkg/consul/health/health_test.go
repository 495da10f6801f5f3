package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/oliora/ppconsul-sub000/internal/consultest"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/agent"
	"github.com/oliora/ppconsul-sub000/pkg/consul/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup registers two instances of "api" on the fake agent's node, one
// tagged canary, each with a TTL check.
func setup(t *testing.T) (*consultest.Agent, *health.Health) {
	t.Helper()
	fake := consultest.New(t)
	c := fake.Client(t)
	a := agent.New(c)
	ctx := context.Background()

	for _, id := range []string{"api-1", "api-2"} {
		tags := []string{"v2"}
		if id == "api-2" {
			tags = append(tags, "canary")
		}
		require.NoError(t, a.RegisterService(ctx,
			agent.Name.Set("api"),
			agent.ID.Set(id),
			agent.Tags.Set(tags),
			agent.Check.Set(agent.TTLCheck{TTL: 30 * time.Second}),
		))
	}
	fake.SetCheckStatus("service:api-1", consul.StatusPassing)
	return fake, health.New(c)
}

func TestService(t *testing.T) {
	fake, h := setup(t)
	ctx := context.Background()

	all, err := h.Service(ctx, "api")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, consul.StatusPassing, all[0].Status())
	assert.Equal(t, consul.StatusCritical, all[1].Status())

	passing, err := h.Service(ctx, "api", health.Passing.Set(true))
	require.NoError(t, err)
	require.Len(t, passing, 1)
	assert.Equal(t, "api-1", passing[0].Service.ID)
	assert.Equal(t, "1", fake.LastRequest().Query.Get("passing"))

	_, err = h.Service(ctx, "api", health.Passing.Set(false))
	require.NoError(t, err)
	_, sent := fake.LastRequest().Query["passing"]
	assert.False(t, sent, "a false flag is not sent")

	canary, err := h.Service(ctx, "api", consul.Tag.Set("canary"))
	require.NoError(t, err)
	require.Len(t, canary, 1)
	assert.Equal(t, "api-2", canary[0].Service.ID)
}

func TestChecksAndNode(t *testing.T) {
	fake, h := setup(t)
	ctx := context.Background()

	checks, err := h.Checks(ctx, "api")
	require.NoError(t, err)
	assert.Len(t, checks, 2)

	nodeChecks, err := h.NodeResponse(ctx, fake.NodeName())
	require.NoError(t, err)
	assert.Len(t, nodeChecks.Data, 2)
	assert.Equal(t, fake.Index(), nodeChecks.Meta.Index)
}

func TestState(t *testing.T) {
	_, h := setup(t)
	ctx := context.Background()

	critical, err := h.State(ctx, consul.StatusCritical)
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "service:api-2", critical[0].ID)

	every, err := h.State(ctx, health.Any)
	require.NoError(t, err)
	assert.Len(t, every, 2)

	_, err = h.State(ctx, consul.CheckStatus("broken"))
	assert.Error(t, err)
}

func TestServiceEntryStatus(t *testing.T) {
	cases := []struct {
		statuses []consul.CheckStatus
		want     consul.CheckStatus
	}{
		{nil, consul.StatusPassing},
		{[]consul.CheckStatus{consul.StatusPassing, consul.StatusWarning}, consul.StatusWarning},
		{[]consul.CheckStatus{consul.StatusWarning, consul.StatusCritical, consul.StatusPassing}, consul.StatusCritical},
	}
	for _, tc := range cases {
		var e health.ServiceEntry
		for _, s := range tc.statuses {
			e.Checks = append(e.Checks, consul.CheckInfo{Status: s})
		}
		if got := e.Status(); got != tc.want {
			t.Errorf("Status(%v): got %q, want %q", tc.statuses, got, tc.want)
		}
	}
}
