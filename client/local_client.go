package client

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ringsaturn/rb/pool"
)

// LocalClient talks to one fixed pool and reads every reply before
// returning.
type LocalClient struct {
	pool   ConnectionPool
	logger *zap.Logger
}

func NewLocalClient(p ConnectionPool, opts ...Option) (*LocalClient, error) {
	if p == nil {
		return nil, ErrMissingPool
	}
	o := buildOptions(opts)
	return &LocalClient{pool: p, logger: o.logger}, nil
}

func (c *LocalClient) Do(ctx context.Context, args ...string) (any, error) {
	if len(args) == 0 {
		return nil, ErrMissingArgs
	}
	command := strings.ToUpper(args[0])
	if unsupported[command] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, command)
	}
	conn, err := c.pool.Acquire(ctx, command, args[1:])
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(conn)

	if err := sendWithRetry(ctx, conn, args, c.logger, nil); err != nil {
		return nil, err
	}
	v, err := conn.ReadReply(ctx, command)
	if pool.IsConnError(err) {
		conn.Disconnect()
	}
	return v, err
}
