package cluster

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/proto"
	"github.com/ringsaturn/rb/router"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
router = "partition"
max-concurrency = 32
dial-timeout = "250ms"

[[hosts]]
id = 1
addr = "127.0.0.1:6379"

[[hosts]]
id = 2
addr = "127.0.0.1:6380"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, RouterPartition, cfg.Router)
	assert.Equal(t, 32, cfg.MaxConcurrency)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.DialTimeout)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, []HostConfig{{ID: 1, Addr: "127.0.0.1:6379"}, {ID: 2, Addr: "127.0.0.1:6380"}}, cfg.Hosts)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewConfig()
	cfg.Hosts = []HostConfig{{ID: 1, Addr: "a"}, {ID: 1, Addr: "b"}}
	assert.Error(t, cfg.Validate())

	cfg.Hosts = []HostConfig{{ID: 1}}
	assert.Error(t, cfg.Validate())

	cfg.Hosts = nil
	cfg.Router = "random"
	assert.Error(t, cfg.Validate())
}

// listen accepts connections and answers PING until the test ends.
func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer nc.Close()
				rd, wr := proto.NewReader(nc), proto.NewWriter(nc)
				for {
					if _, err := rd.ReadCommand(); err != nil {
						return
					}
					wr.WriteStatus("PONG")
					wr.Flush()
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func newTestCluster(t *testing.T, opts ...Option) *Cluster {
	t.Helper()
	cfg := NewConfig()
	cfg.Hosts = []HostConfig{{ID: 1, Addr: listen(t)}, {ID: 2, Addr: listen(t)}}
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPoolForHost(t *testing.T) {
	c := newTestCluster(t)

	p1, err := c.PoolForHost(1)
	require.NoError(t, err)
	again, err := c.PoolForHost(1)
	require.NoError(t, err)
	assert.Same(t, p1, again)

	got, ok := c.LookupPool(p1.ID())
	require.True(t, ok)
	assert.Same(t, p1, got)

	_, err = c.PoolForHost(9)
	assert.ErrorIs(t, err, ErrUnknownHost)
}

func TestRemoveHostTearsDownPool(t *testing.T) {
	c := newTestCluster(t)
	p1, err := c.PoolForHost(1)
	require.NoError(t, err)
	conn, err := p1.Acquire(context.Background(), "PING", "")
	require.NoError(t, err)

	require.NoError(t, c.RemoveHost(1))
	_, ok := c.LookupPool(p1.ID())
	assert.False(t, ok)
	assert.False(t, conn.Connected())
	assert.Len(t, c.Hosts(), 1)

	for i := 0; i < 20; i++ {
		h, ok := c.Router().Host("GET", []string{string(rune('a' + i))})
		require.True(t, ok)
		assert.Equal(t, router.HostID(2), h)
	}
	assert.ErrorIs(t, c.RemoveHost(1), ErrUnknownHost)
}

func TestAddHost(t *testing.T) {
	c := newTestCluster(t)
	require.NoError(t, c.AddHost(HostConfig{ID: 3, Addr: listen(t)}))
	assert.Error(t, c.AddHost(HostConfig{ID: 3, Addr: "x"}))
	assert.Len(t, c.Hosts(), 3)
	_, err := c.PoolForHost(3)
	assert.NoError(t, err)
}

func TestFixedRouterSurvivesTopologyChange(t *testing.T) {
	r := router.Func(func(string, []string) (router.HostID, bool) { return 2, true })
	c := newTestCluster(t, WithRouter(r))
	require.NoError(t, c.AddHost(HostConfig{ID: 3, Addr: "127.0.0.1:1"}))
	h, ok := c.Router().Host("GET", []string{"a"})
	require.True(t, ok)
	assert.Equal(t, router.HostID(2), h)
}

func TestDisconnectPools(t *testing.T) {
	c := newTestCluster(t)
	p1, _ := c.PoolForHost(1)
	p2, _ := c.PoolForHost(2)
	c1, err := p1.Acquire(context.Background(), "PING", "")
	require.NoError(t, err)
	c2, err := p2.Acquire(context.Background(), "PING", "")
	require.NoError(t, err)

	require.NoError(t, c.DisconnectPools())
	assert.False(t, c1.Connected())
	assert.False(t, c2.Connected())
}

func TestLocalClient(t *testing.T) {
	c := newTestCluster(t)
	lc, err := c.LocalClient(1)
	require.NoError(t, err)
	v, err := lc.Do(context.Background(), "PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", v)

	_, err = lc.Do(context.Background(), "MULTI")
	assert.ErrorIs(t, err, client.ErrUnsupported)

	_, err = c.LocalClient(7)
	assert.ErrorIs(t, err, ErrUnknownHost)
}

func TestClosedCluster(t *testing.T) {
	c := newTestCluster(t)
	p1, _ := c.PoolForHost(1)
	require.NoError(t, c.Close())
	_, ok := c.LookupPool(p1.ID())
	assert.False(t, ok)
	_, err := c.PoolForHost(1)
	assert.ErrorIs(t, err, ErrClosed)
}
