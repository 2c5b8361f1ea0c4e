package client_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/cluster"
	"github.com/ringsaturn/rb/pool"
	"github.com/ringsaturn/rb/proto"
	"github.com/ringsaturn/rb/router"
)

// fakeNode is an in-process node. Replies to commands whose first key starts
// with a held prefix wait until the prefix is released.
type fakeNode struct {
	addr     string
	commands atomic.Int32

	mu   sync.Mutex
	data map[string]string
	held map[string]chan struct{}
	done chan struct{}
}

func startNode(t *testing.T) *fakeNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	n := &fakeNode{
		addr: ln.Addr().String(),
		data: make(map[string]string),
		held: make(map[string]chan struct{}),
		done: make(chan struct{}),
	}
	t.Cleanup(func() {
		close(n.done)
		ln.Close()
	})
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go n.handle(nc)
		}
	}()
	return n
}

// hold delays replies for keys with prefix until the returned func is called.
func (n *fakeNode) hold(prefix string) (release func()) {
	ch := make(chan struct{})
	n.mu.Lock()
	n.held[prefix] = ch
	n.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (n *fakeNode) gate(key string) chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	for prefix, ch := range n.held {
		if strings.HasPrefix(key, prefix) {
			return ch
		}
	}
	return nil
}

func (n *fakeNode) handle(nc net.Conn) {
	defer nc.Close()
	rd, wr := proto.NewReader(nc), proto.NewWriter(nc)
	for {
		args, err := rd.ReadCommand()
		if err != nil {
			return
		}
		n.commands.Add(1)
		if len(args) > 1 {
			if ch := n.gate(args[1]); ch != nil {
				select {
				case <-ch:
				case <-n.done:
					return
				}
			}
		}
		switch strings.ToUpper(args[0]) {
		case "SET":
			n.mu.Lock()
			n.data[args[1]] = args[2]
			n.mu.Unlock()
			wr.WriteStatus("OK")
		case "GET":
			n.mu.Lock()
			v, ok := n.data[args[1]]
			n.mu.Unlock()
			if ok {
				wr.WriteBulk([]byte(v))
			} else {
				wr.WriteBulk(nil)
			}
		case "BOOM":
			return
		default:
			wr.WriteError("ERR unknown command '" + args[0] + "'")
		}
		if err := wr.Flush(); err != nil {
			return
		}
	}
}

// byFirstKey sends keys starting with "b" to host 2 and every other key to
// host 1.
var byFirstKey = router.Func(func(command string, args []string) (router.HostID, bool) {
	if strings.EqualFold(command, "BOOM") && len(args) > 0 {
		return 1, true
	}
	keys, ok := router.Keys(command, args)
	if !ok {
		return 0, false
	}
	if strings.HasPrefix(keys[0], "b") {
		return 2, true
	}
	return 1, true
})

func newCluster(t *testing.T, n1, n2 *fakeNode, opts ...cluster.Option) *cluster.Cluster {
	t.Helper()
	cfg := cluster.NewConfig()
	cfg.Hosts = []cluster.HostConfig{{ID: 1, Addr: n1.addr}, {ID: 2, Addr: n2.addr}}
	c, err := cluster.New(cfg, append([]cluster.Option{cluster.WithRouter(byFirstKey)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func hostPool(t *testing.T, c *cluster.Cluster, id router.HostID) *pool.HostPool {
	t.Helper()
	p, err := c.PoolForHost(id)
	require.NoError(t, err)
	return p
}

func newClient(t *testing.T, c *cluster.Cluster, opts ...client.Option) *client.RoutingClient {
	t.Helper()
	rc, err := c.RoutingClient(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

// flakyConn fails its first failures writes.
type flakyConn struct {
	*net.TCPConn
	failures int
}

func (c *flakyConn) Write(b []byte) (int, error) {
	if c.failures > 0 {
		c.failures--
		return 0, errors.New("broken pipe")
	}
	return c.TCPConn.Write(b)
}

// flakyDialer wraps the dials for which failuresFor returns > 0.
func flakyDialer(dials *atomic.Int32, failuresFor func(dial int32) int) pool.DialFunc {
	var d net.Dialer
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		n := dials.Add(1)
		nc, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if f := failuresFor(n); f > 0 {
			return &flakyConn{TCPConn: nc.(*net.TCPConn), failures: f}, nil
		}
		return nc, nil
	}
}
