package topology

import (
	"context"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ringsaturn/rb/cluster"
)

type staticSource struct {
	cfg cluster.Config
}

func (s staticSource) Config() cluster.Config      { return s.cfg }
func (s staticSource) Hosts() []cluster.HostConfig { return s.cfg.Hosts }

func serve(t *testing.T, src Source) *Client {
	t.Helper()
	ln := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv := NewServer(src, nil)
	srv.Register(gs)
	go gs.Serve(ln)
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough://bufconn",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return ln.Dial() }))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetHosts(t *testing.T) {
	cfg := cluster.NewConfig()
	cfg.Router = cluster.RouterPartition
	cfg.Hosts = []cluster.HostConfig{{ID: 1, Addr: "127.0.0.1:7001"}, {ID: 2, Addr: "127.0.0.1:7002"}}
	c := serve(t, staticSource{cfg: cfg})

	require.NoError(t, c.Check(context.Background()))
	got, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cluster.RouterPartition, got.Router)
	if diff := cmp.Diff(cfg.Hosts, got.Hosts); diff != "" {
		t.Errorf("hosts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, cluster.DefaultPoolSize, got.PoolSize)
}

func TestGetHostsEmpty(t *testing.T) {
	c := serve(t, staticSource{cfg: cluster.NewConfig()})
	_, err := c.Config(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestDecodeConfigRejectsDuplicates(t *testing.T) {
	src := staticSource{cfg: cluster.Config{
		Router: cluster.RouterConsistent,
		Hosts:  []cluster.HostConfig{{ID: 1, Addr: "a"}, {ID: 1, Addr: "b"}},
	}}
	out, err := NewServer(src, nil).GetHosts(context.Background(), nil)
	require.NoError(t, err)
	_, err = decodeConfig(out)
	assert.Error(t, err)
}
