// Package topology serves a cluster's host list over gRPC so that clients can
// bootstrap from a single address.
package topology

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ringsaturn/rb/cluster"
	"github.com/ringsaturn/rb/router"
)

const (
	ServiceName    = "rb.topology.v1.Topology"
	getHostsMethod = "/" + ServiceName + "/GetHosts"
)

// Source is the cluster whose hosts are served.
type Source interface {
	Config() cluster.Config
	Hosts() []cluster.HostConfig
}

type topologyServer interface {
	GetHosts(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*topologyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetHosts", Handler: getHostsHandler},
	},
	Metadata: "rb/topology/v1/topology.proto",
}

func getHostsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(topologyServer).GetHosts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getHostsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(topologyServer).GetHosts(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type Server struct {
	src    Source
	logger *zap.Logger
	health *health.Server
}

func NewServer(src Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{src: src, logger: logger, health: health.NewServer()}
}

// Register adds the topology and health services to gs and marks both
// serving.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown marks every service not serving.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) GetHosts(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	hosts := s.src.Hosts()
	if len(hosts) == 0 {
		return nil, status.Error(codes.FailedPrecondition, "cluster has no hosts")
	}
	list := make([]any, 0, len(hosts))
	for _, h := range hosts {
		list = append(list, map[string]any{"id": int(h.ID), "addr": h.Addr})
	}
	out, err := structpb.NewStruct(map[string]any{
		"router": s.src.Config().Router,
		"hosts":  list,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.logger.Debug("served topology", zap.Int("hosts", len(hosts)))
	return out, nil
}

type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a topology server. Without opts the connection is
// plaintext.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Check fails unless the topology service reports serving.
func (c *Client) Check(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("topology: service is %s", resp.GetStatus())
	}
	return nil
}

// Config fetches the host list as a cluster config with default settings.
func (c *Client) Config(ctx context.Context) (cluster.Config, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getHostsMethod, &emptypb.Empty{}, out); err != nil {
		return cluster.Config{}, err
	}
	return decodeConfig(out)
}

func (c *Client) Close() error { return c.conn.Close() }

// Fetch dials addr, reads its topology and hangs up.
func Fetch(ctx context.Context, addr string, opts ...grpc.DialOption) (cluster.Config, error) {
	c, err := Dial(addr, opts...)
	if err != nil {
		return cluster.Config{}, err
	}
	defer c.Close()
	return c.Config(ctx)
}

func decodeConfig(s *structpb.Struct) (cluster.Config, error) {
	cfg := cluster.NewConfig()
	if r := s.GetFields()["router"].GetStringValue(); r != "" {
		cfg.Router = r
	}
	for _, v := range s.GetFields()["hosts"].GetListValue().GetValues() {
		fields := v.GetStructValue().GetFields()
		id := fields["id"].GetNumberValue()
		if id != math.Trunc(id) {
			return cluster.Config{}, fmt.Errorf("topology: bad host id %v", id)
		}
		cfg.Hosts = append(cfg.Hosts, cluster.HostConfig{
			ID:   router.HostID(id),
			Addr: fields["addr"].GetStringValue(),
		})
	}
	return cfg, cfg.Validate()
}
