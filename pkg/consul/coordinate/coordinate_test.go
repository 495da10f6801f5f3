package coordinate_test

import (
	"context"
	"testing"

	"github.com/oliora/ppconsul-sub000/internal/consultest"
	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/consul/coordinate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinates(t *testing.T) {
	fake := consultest.New(t)
	co := coordinate.New(fake.Client(t))
	ctx := context.Background()

	dcs, err := co.Datacenters(ctx)
	require.NoError(t, err)
	require.Len(t, dcs, 1)
	assert.Equal(t, "dc1", dcs[0].Datacenter)
	require.Len(t, dcs[0].Coordinates, 1)
	assert.Len(t, dcs[0].Coordinates[0].Coord.Vec, 8)

	nodes, err := co.NodesResponse(ctx)
	require.NoError(t, err)
	require.Len(t, nodes.Data, 1)
	assert.Equal(t, fake.NodeName(), nodes.Data[0].Node)
	assert.NotZero(t, nodes.Meta.Index)

	one, err := co.Node(ctx, fake.NodeName())
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 1.5, one[0].Coord.Error)
}

func TestNode_unknownPropagates(t *testing.T) {
	fake := consultest.New(t)
	_, err := coordinate.New(fake.Client(t)).Node(context.Background(), "ghost")
	assert.True(t, consul.IsNotFound(err))
}
