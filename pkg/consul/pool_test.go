package consul_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFactory(n *int32) consul.Factory {
	return func() (*consul.Client, error) {
		atomic.AddInt32(n, 1)
		return consul.New("", consul.WithTransport(&recordingTransport{}))
	}
}

func TestPool_reusesReleasedClient(t *testing.T) {
	var created int32
	p := consul.NewPool(countingFactory(&created), 2)
	defer p.Close()

	h1, err := p.Acquire()
	require.NoError(t, err)
	first := h1.Client
	h1.Release()
	h1.Release()
	assert.Equal(t, 1, p.Idle())

	h2, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, first, h2.Client)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	h2.Release()
}

func TestPool_closesOverflow(t *testing.T) {
	var created int32
	p := consul.NewPool(countingFactory(&created), 1)
	defer p.Close()

	h1, _ := p.Acquire()
	h2, _ := p.Acquire()
	c2 := h2.Client
	h1.Release()
	h2.Release()

	assert.Equal(t, 1, p.Idle())
	assert.True(t, c2.Stopped())
}

func TestPool_dropsStoppedClient(t *testing.T) {
	var created int32
	p := consul.NewPool(countingFactory(&created), 4)
	defer p.Close()

	h, _ := p.Acquire()
	h.Stop()
	h.Release()
	assert.Equal(t, 0, p.Idle())
}

func TestPool_close(t *testing.T) {
	var created int32
	p := consul.NewPool(countingFactory(&created), 4)

	idle, _ := p.Acquire()
	borrowed, _ := p.Acquire()
	idleClient := idle.Client
	idle.Release()

	p.Close()
	assert.True(t, idleClient.Stopped())

	c := borrowed.Client
	assert.False(t, c.Stopped(), "borrowed clients stay usable")
	borrowed.Release()
	assert.True(t, c.Stopped())

	_, err := p.Acquire()
	assert.ErrorIs(t, err, consul.ErrPoolClosed)
}

func TestPool_factoryError(t *testing.T) {
	boom := errors.New("boom")
	p := consul.NewPool(func() (*consul.Client, error) { return nil, boom }, 1)
	_, err := p.Acquire()
	assert.ErrorIs(t, err, boom)
}

func TestPool_exclusiveUse(t *testing.T) {
	var created int32
	p := consul.NewPool(countingFactory(&created), 4)
	defer p.Close()

	var (
		mu    sync.Mutex
		inUse = map[*consul.Client]bool{}
		wg    sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h, err := p.Acquire()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, inUse[h.Client], "client handed out twice")
				inUse[h.Client] = true
				mu.Unlock()

				mu.Lock()
				inUse[h.Client] = false
				mu.Unlock()
				h.Release()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.Idle(), 4)
}
