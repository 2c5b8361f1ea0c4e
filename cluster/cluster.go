// Package cluster holds the client-side view of a sharded cluster: its hosts,
// the router over them and one connection pool per host.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/pool"
	"github.com/ringsaturn/rb/router"
)

var (
	ErrUnknownHost = errors.New("rb: unknown host")
	ErrClosed      = errors.New("rb: cluster closed")
)

type Option func(*Cluster)

func WithLogger(l *zap.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

// WithRouter fixes the router. It is kept across topology changes instead of
// being rebuilt from the host list.
func WithRouter(r router.Router) Option {
	return func(c *Cluster) {
		c.router = r
		c.fixedRouter = true
	}
}

func WithDialer(d pool.DialFunc) Option {
	return func(c *Cluster) { c.dial = d }
}

// WithMetrics is passed on to every routing client the cluster creates.
func WithMetrics(m *client.Metrics) Option {
	return func(c *Cluster) { c.metrics = m }
}

type Cluster struct {
	cfg      Config
	logger   *zap.Logger
	dial     pool.DialFunc
	metrics  *client.Metrics
	registry *pool.Registry

	mu          sync.RWMutex
	hosts       map[router.HostID]HostConfig
	router      router.Router
	fixedRouter bool
	pools       map[router.HostID]*pool.HostPool
	closed      bool
}

func New(cfg Config, opts ...Option) (*Cluster, error) {
	if cfg.Router == "" {
		cfg.Router = DefaultRouter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cluster{
		cfg:      cfg,
		logger:   zap.NewNop(),
		registry: pool.NewRegistry(),
		hosts:    make(map[router.HostID]HostConfig, len(cfg.Hosts)),
		pools:    make(map[router.HostID]*pool.HostPool),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, h := range cfg.Hosts {
		c.hosts[h.ID] = h
	}
	if !c.fixedRouter {
		c.router = c.buildRouter()
	}
	return c, nil
}

func (c *Cluster) buildRouter() router.Router {
	ids := make([]router.HostID, 0, len(c.hosts))
	for id := range c.hosts {
		ids = append(ids, id)
	}
	if c.cfg.Router == RouterPartition {
		return router.NewPartition(ids)
	}
	return router.NewConsistent(ids)
}

func (c *Cluster) Config() Config { return c.cfg }

func (c *Cluster) Router() router.Router {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.router
}

// SetRouter replaces the router. Connections acquired under the old one
// still release into the pools that created them.
func (c *Cluster) SetRouter(r router.Router) {
	c.mu.Lock()
	c.router = r
	c.fixedRouter = true
	c.mu.Unlock()
}

// Hosts returns the hosts ordered by id.
func (c *Cluster) Hosts() []HostConfig {
	c.mu.RLock()
	hosts := make([]HostConfig, 0, len(c.hosts))
	for _, h := range c.hosts {
		hosts = append(hosts, h)
	}
	c.mu.RUnlock()
	slices.SortFunc(hosts, func(a, b HostConfig) int { return int(a.ID) - int(b.ID) })
	return hosts
}

// PoolForHost returns the pool of a host, creating it on first use.
func (c *Cluster) PoolForHost(id router.HostID) (*pool.HostPool, error) {
	c.mu.RLock()
	p, ok := c.pools[id]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if p, ok := c.pools[id]; ok {
		return p, nil
	}
	h, ok := c.hosts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHost, id)
	}
	p = c.registry.Create(h.Addr, pool.Options{
		MaxIdle:      c.cfg.PoolSize,
		DialTimeout:  time.Duration(c.cfg.DialTimeout),
		ReadTimeout:  time.Duration(c.cfg.ReadTimeout),
		WriteTimeout: time.Duration(c.cfg.WriteTimeout),
		Dial:         c.dial,
		Logger:       c.logger,
	})
	c.pools[id] = p
	c.logger.Debug("created host pool", zap.Int("host", int(id)), zap.String("addr", h.Addr))
	return p, nil
}

// LookupPool finds a live pool by the id its connections carry.
func (c *Cluster) LookupPool(id pool.ID) (*pool.HostPool, bool) {
	return c.registry.Lookup(id)
}

// DisconnectPools disconnects every connection of every host pool.
func (c *Cluster) DisconnectPools() error {
	c.mu.RLock()
	pools := make([]*pool.HostPool, 0, len(c.pools))
	for _, p := range c.pools {
		pools = append(pools, p)
	}
	c.mu.RUnlock()

	var err error
	for _, p := range pools {
		err = multierr.Append(err, p.DisconnectAll())
	}
	return err
}

func (c *Cluster) AddHost(h HostConfig) error {
	if h.Addr == "" {
		return fmt.Errorf("host %d: missing addr", h.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hosts[h.ID]; ok {
		return fmt.Errorf("host %d: duplicate id", h.ID)
	}
	c.hosts[h.ID] = h
	if !c.fixedRouter {
		c.router = c.buildRouter()
	}
	c.logger.Info("host added", zap.Int("host", int(h.ID)), zap.String("addr", h.Addr))
	return nil
}

// RemoveHost drops a host and tears down its pool. Connections still out
// from that pool are discarded when released.
func (c *Cluster) RemoveHost(id router.HostID) error {
	c.mu.Lock()
	if _, ok := c.hosts[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownHost, id)
	}
	delete(c.hosts, id)
	p := c.pools[id]
	delete(c.pools, id)
	if !c.fixedRouter {
		c.router = c.buildRouter()
	}
	c.mu.Unlock()

	c.logger.Info("host removed", zap.Int("host", int(id)))
	if p == nil {
		return nil
	}
	c.registry.Unregister(p.ID())
	return p.Close()
}

// RoutingClient creates a client dispatching through this cluster. The
// configured max concurrency applies unless overridden by opts.
func (c *Cluster) RoutingClient(opts ...client.Option) (*client.RoutingClient, error) {
	base := []client.Option{
		client.WithMaxConcurrency(c.cfg.MaxConcurrency),
		client.WithLogger(c.logger),
		client.WithMetrics(c.metrics),
	}
	return client.NewRoutingClient(c, append(base, opts...)...)
}

// LocalClient creates a client bound to one host.
func (c *Cluster) LocalClient(id router.HostID, opts ...client.Option) (*client.LocalClient, error) {
	p, err := c.PoolForHost(id)
	if err != nil {
		return nil, err
	}
	return client.NewLocalClient(client.NewFixedPool(p), append([]client.Option{client.WithLogger(c.logger)}, opts...)...)
}

// Map runs fn with a fresh routing client, also available through
// client.FromContext, and then waits for every command fn dispatched. If fn
// fails, outstanding commands are cancelled instead.
func (c *Cluster) Map(ctx context.Context, fn func(ctx context.Context, rc *client.RoutingClient) error, opts ...client.Option) error {
	rc, err := c.RoutingClient(opts...)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := fn(client.NewContext(ctx, rc), rc); err != nil {
		return multierr.Append(err, rc.CancelOutstanding())
	}
	return rc.WaitForOutstanding(ctx, client.NoTimeout)
}

func (c *Cluster) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pools := c.pools
	c.pools = make(map[router.HostID]*pool.HostPool)
	c.mu.Unlock()

	var err error
	for _, p := range pools {
		c.registry.Unregister(p.ID())
		err = multierr.Append(err, p.Close())
	}
	return err
}
