package client

import (
	"context"
	"fmt"

	"github.com/ringsaturn/rb/pool"
	"github.com/ringsaturn/rb/router"
)

// Controller is the cluster view a RoutingPool dispatches through.
type Controller interface {
	Router() router.Router
	PoolForHost(id router.HostID) (*pool.HostPool, error)
	LookupPool(id pool.ID) (*pool.HostPool, bool)
	DisconnectPools() error
}

// ConnectionPool is what clients acquire connections from.
type ConnectionPool interface {
	Acquire(ctx context.Context, command string, args []string) (*pool.Conn, error)
	Release(conn *pool.Conn)
	DisconnectAll() error
	Reset()
}

// RoutingPool acquires from the host pool that owns a command's keys and
// releases into whichever pool created the connection, even if the topology
// has changed in between.
type RoutingPool struct {
	cluster Controller
}

func NewRoutingPool(cluster Controller) *RoutingPool {
	return &RoutingPool{cluster: cluster}
}

func (p *RoutingPool) Acquire(ctx context.Context, command string, args []string) (*pool.Conn, error) {
	if args == nil {
		return nil, ErrMissingArgs
	}
	host, ok := p.cluster.Router().Host(command, args)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHost, command)
	}
	hp, err := p.cluster.PoolForHost(host)
	if err != nil {
		return nil, fmt.Errorf("rb: pool for host %d: %w", host, err)
	}
	var shardHint string
	if len(args) > 0 {
		shardHint = args[0]
	}
	return hp.Acquire(ctx, command, shardHint)
}

// Release hands conn back to its creating pool. If that pool is gone the
// connection is already garbage and is only disconnected.
func (p *RoutingPool) Release(conn *pool.Conn) {
	if conn == nil {
		return
	}
	hp, ok := p.cluster.LookupPool(conn.Origin())
	if !ok {
		conn.Disconnect()
		return
	}
	hp.Release(conn)
}

func (p *RoutingPool) DisconnectAll() error {
	return p.cluster.DisconnectPools()
}

// Reset is a no-op: every host pool manages its own state.
func (p *RoutingPool) Reset() {}

// FixedPool is a ConnectionPool bound to a single host pool.
type FixedPool struct {
	hp *pool.HostPool
}

func NewFixedPool(hp *pool.HostPool) *FixedPool {
	return &FixedPool{hp: hp}
}

func (p *FixedPool) Acquire(ctx context.Context, command string, args []string) (*pool.Conn, error) {
	return p.hp.Acquire(ctx, command, "")
}

func (p *FixedPool) Release(conn *pool.Conn) { p.hp.Release(conn) }

func (p *FixedPool) DisconnectAll() error { return p.hp.DisconnectAll() }

func (p *FixedPool) Reset() {}
