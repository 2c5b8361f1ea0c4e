package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/cluster"
	"github.com/ringsaturn/rb/router"
	"github.com/ringsaturn/rb/store"
	"github.com/ringsaturn/rb/topology"
)

// LocalClusterConfig describes an in-process cluster. A zero port picks a
// free one; nodes otherwise listen on consecutive ports from BasePort.
type LocalClusterConfig struct {
	NumNodes       int
	BasePort       int
	HTTPPort       int
	TopologyPort   int
	DataDir        string
	Router         string
	MaxConcurrency int
}

func DefaultConfig() LocalClusterConfig {
	return LocalClusterConfig{
		NumNodes:     3,
		BasePort:     6380,
		HTTPPort:     8080,
		TopologyPort: 50051,
		DataDir:      "./data",
		Router:       cluster.DefaultRouter,
	}
}

// LocalCluster boots a set of nodes, a cluster over them, the topology
// service and an HTTP gateway.
type LocalCluster struct {
	config   LocalClusterConfig
	logger   *zap.Logger
	registry *prometheus.Registry

	nodes      []*nodeInstance
	cluster    *cluster.Cluster
	topology   *topology.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	topoAddr   string
	httpAddr   string
	group      errgroup.Group
}

type nodeInstance struct {
	node    *Node
	db      *store.DB
	addr    string
	dataDir string
}

func NewLocalCluster(numNodes int) *LocalCluster {
	config := DefaultConfig()
	config.NumNodes = numNodes
	return NewLocalClusterWithConfig(config)
}

func NewLocalClusterWithConfig(config LocalClusterConfig) *LocalCluster {
	return &LocalCluster{config: config, logger: zap.NewNop()}
}

func (c *LocalCluster) WithHTTPPort(port int) *LocalCluster {
	c.config.HTTPPort = port
	return c
}

func (c *LocalCluster) WithBasePort(port int) *LocalCluster {
	c.config.BasePort = port
	return c
}

func (c *LocalCluster) WithTopologyPort(port int) *LocalCluster {
	c.config.TopologyPort = port
	return c
}

func (c *LocalCluster) WithDataDir(dir string) *LocalCluster {
	c.config.DataDir = dir
	return c
}

func (c *LocalCluster) WithRouter(kind string) *LocalCluster {
	c.config.Router = kind
	return c
}

func (c *LocalCluster) WithMaxConcurrency(n int) *LocalCluster {
	c.config.MaxConcurrency = n
	return c
}

func (c *LocalCluster) WithLogger(l *zap.Logger) *LocalCluster {
	c.logger = l
	return c
}

func listen(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}

func nextPort(base, i int) int {
	if base == 0 {
		return 0
	}
	return base + i
}

// Open starts everything. On failure whatever was started is torn down.
func (c *LocalCluster) Open() (err error) {
	defer func() {
		if err != nil {
			err = multierr.Append(err, c.Close())
		}
	}()

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	nodeMetrics := NewNodeMetrics(c.registry)

	cfg := cluster.NewConfig()
	cfg.Router = c.config.Router
	cfg.MaxConcurrency = c.config.MaxConcurrency
	for i := 0; i < c.config.NumNodes; i++ {
		name := fmt.Sprintf("node%d", i+1)
		inst, err := c.startNode(nextPort(c.config.BasePort, i), name, nodeMetrics)
		if err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		c.nodes = append(c.nodes, inst)
		cfg.Hosts = append(cfg.Hosts, cluster.HostConfig{ID: router.HostID(i + 1), Addr: inst.addr})
	}

	c.cluster, err = cluster.New(cfg,
		cluster.WithLogger(c.logger),
		cluster.WithMetrics(client.NewMetrics(c.registry)))
	if err != nil {
		return err
	}

	if err := c.startTopology(); err != nil {
		return fmt.Errorf("start topology: %w", err)
	}
	if err := c.startHTTPServer(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	c.logger.Info("cluster started",
		zap.Int("nodes", len(c.nodes)),
		zap.Strings("addrs", c.NodeAddrs()),
		zap.String("topology", c.topoAddr),
		zap.String("http", c.httpAddr))
	return nil
}

func (c *LocalCluster) startNode(port int, name string, metrics *NodeMetrics) (*nodeInstance, error) {
	dataDir := filepath.Join(c.config.DataDir, name)
	db, err := store.Open(dataDir, store.WithLogger(c.logger.With(zap.String("node", name))))
	if err != nil {
		return nil, err
	}
	ln, err := listen(port)
	if err != nil {
		db.Close()
		return nil, err
	}
	node := NewNode(db,
		WithNodeLogger(c.logger.With(zap.String("node", name))),
		WithNodeMetrics(metrics, name))
	c.group.Go(func() error { return node.Serve(ln) })
	return &nodeInstance{node: node, db: db, addr: ln.Addr().String(), dataDir: dataDir}, nil
}

func (c *LocalCluster) startTopology() error {
	ln, err := listen(c.config.TopologyPort)
	if err != nil {
		return err
	}
	c.topoAddr = ln.Addr().String()
	c.grpcServer = grpc.NewServer()
	c.topology = topology.NewServer(c.cluster, c.logger)
	c.topology.Register(c.grpcServer)
	gs := c.grpcServer
	c.group.Go(func() error { return gs.Serve(ln) })
	return nil
}

func (c *LocalCluster) startHTTPServer() error {
	ln, err := listen(c.config.HTTPPort)
	if err != nil {
		return err
	}
	c.httpAddr = ln.Addr().String()
	c.httpServer = &http.Server{
		Handler:           newGateway(c, c.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := c.httpServer
	c.group.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

// Close stops the gateway, the topology service and every node, then closes
// the stores. It is safe to call on a partly opened cluster.
func (c *LocalCluster) Close() error {
	var err error
	if c.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, c.httpServer.Shutdown(ctx))
		cancel()
		c.httpServer = nil
	}
	if c.grpcServer != nil {
		c.topology.Shutdown()
		c.grpcServer.GracefulStop()
		c.grpcServer = nil
	}
	if c.cluster != nil {
		err = multierr.Append(err, c.cluster.Close())
	}
	for _, inst := range c.nodes {
		err = multierr.Append(err, inst.node.Close())
		err = multierr.Append(err, inst.db.Close())
	}
	c.nodes = nil
	err = multierr.Append(err, c.group.Wait())
	c.logger.Info("cluster stopped")
	return err
}

func (c *LocalCluster) Cluster() *cluster.Cluster { return c.cluster }

// Gatherer exposes the metrics served on /metrics.
func (c *LocalCluster) Gatherer() prometheus.Gatherer { return c.registry }

func (c *LocalCluster) NumNodes() int { return len(c.nodes) }

func (c *LocalCluster) NodeAddrs() []string {
	addrs := make([]string, 0, len(c.nodes))
	for _, inst := range c.nodes {
		addrs = append(addrs, inst.addr)
	}
	return addrs
}

func (c *LocalCluster) HTTPAddr() string { return "http://" + c.httpAddr }

func (c *LocalCluster) TopologyAddr() string { return c.topoAddr }

func (c *LocalCluster) Put(ctx context.Context, key, value string) error {
	_, err := c.do(ctx, "SET", key, value)
	return err
}

func (c *LocalCluster) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.do(ctx, "GET", key)
	if err != nil || v == nil {
		return "", false, err
	}
	s, _ := v.(string)
	return s, true, nil
}

func (c *LocalCluster) Delete(ctx context.Context, key string) (bool, error) {
	v, err := c.do(ctx, "DEL", key)
	if err != nil {
		return false, err
	}
	n, _ := v.(int64)
	return n > 0, nil
}

func (c *LocalCluster) do(ctx context.Context, args ...string) (any, error) {
	rc, err := c.cluster.RoutingClient()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	pc, err := rc.Do(ctx, args...)
	if err != nil {
		return nil, err
	}
	return pc.Wait(ctx)
}

// Sync makes every node's writes durable.
func (c *LocalCluster) Sync() error {
	var err error
	for _, inst := range c.nodes {
		err = multierr.Append(err, inst.db.Sync())
	}
	return err
}
