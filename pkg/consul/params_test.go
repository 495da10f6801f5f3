package consul_test

import (
	"testing"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/oliora/ppconsul-sub000/pkg/kw"
	"github.com/stretchr/testify/assert"
)

func TestConsistency_render(t *testing.T) {
	q := kw.Resolve(consul.DC.Set(""), consul.Consistency.Set(consul.Consistent)).Query()
	assert.Equal(t, "consistency=consistent", q)

	assert.Equal(t, "consistency=stale", kw.Resolve(consul.Consistency.Set(consul.Stale)).Query())
	assert.Equal(t, "", kw.Resolve(consul.Consistency.Set(consul.Default)).Query())
}

func TestBlockFor_render(t *testing.T) {
	q := kw.Resolve(consul.DC.Set("east"), consul.Block(5*time.Second, 42)).Query()
	assert.Equal(t, "wait=5s&index=42&dc=east", q)

	assert.Equal(t, "wait=1s&index=0", kw.Resolve(consul.Block(500*time.Millisecond, 0)).Query())
}

func TestNodeMeta_render(t *testing.T) {
	q := kw.Resolve(consul.NodeMeta.Set(map[string]string{"rack": "r1 a", "os": "linux"})).Query()
	assert.Equal(t, "node-meta=os%3Alinux&node-meta=rack%3Ar1%20a", q)
}

func TestToken_neverInQuery(t *testing.T) {
	q := kw.Resolve(consul.Token.Set("secret"), consul.Tag.Set("v1")).Query()
	assert.Equal(t, "tag=v1", q)
}

func TestSharedGroups(t *testing.T) {
	assert.Equal(t, []string{"block_for", "consistency", "dc", "token"}, consul.GroupQuery.Names())
	assert.True(t, consul.GroupDC.Contains(consul.DC))
	assert.False(t, consul.GroupAuth.Contains(consul.DC))
}
