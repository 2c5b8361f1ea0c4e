package client_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/cluster"
	"github.com/ringsaturn/rb/pool"
	"github.com/ringsaturn/rb/proto"
)

func TestLocalClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, startNode(t), startNode(t))
	p2 := hostPool(t, c, 2)
	lc, err := client.NewLocalClient(client.NewFixedPool(p2))
	require.NoError(t, err)

	// The fixed pool ignores routing: "a" would belong to host 1.
	v, err := lc.Do(ctx, "set", "a", "1")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	v, err = lc.Do(ctx, "GET", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = lc.Do(ctx, "INCR", "a")
	var perr proto.Error
	assert.ErrorAs(t, err, &perr)

	_, err = lc.Do(ctx)
	assert.ErrorIs(t, err, client.ErrMissingArgs)

	st := p2.Stats()
	assert.Equal(t, uint64(3), st.Acquired)
	assert.Equal(t, uint64(3), st.Released)
	assert.Equal(t, 1, st.Idle)
	assert.Zero(t, hostPool(t, c, 1).Stats().Acquired)
}

func TestLocalClientRetriesSend(t *testing.T) {
	var dials atomic.Int32
	dialer := flakyDialer(&dials, func(n int32) int {
		if n == 1 {
			return 1
		}
		return 0
	})
	c := newCluster(t, startNode(t), startNode(t), cluster.WithDialer(dialer))
	lc, err := c.LocalClient(1)
	require.NoError(t, err)

	v, err := lc.Do(context.Background(), "SET", "a", "1")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, int32(2), dials.Load())
}

func TestLocalClientReadFailure(t *testing.T) {
	c := newCluster(t, startNode(t), startNode(t))
	lc, err := c.LocalClient(1)
	require.NoError(t, err)

	_, err = lc.Do(context.Background(), "BOOM", "a")
	assert.True(t, pool.IsConnError(err))
	st := hostPool(t, c, 1).Stats()
	assert.Equal(t, uint64(1), st.Released)
	assert.Equal(t, 0, st.Idle)
}
