// Package client dispatches commands to the nodes of a sharded key-value
// cluster and keeps track of the replies still owed.
package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ringsaturn/rb/poll"
	"github.com/ringsaturn/rb/pool"
)

// unsupported commands need a sticky connection or span several commands,
// neither of which fits per-command routing.
var unsupported = map[string]bool{
	"SUBSCRIBE":    true,
	"PSUBSCRIBE":   true,
	"UNSUBSCRIBE":  true,
	"PUNSUBSCRIBE": true,
	"MULTI":        true,
	"EXEC":         true,
	"DISCARD":      true,
	"WATCH":        true,
	"UNWATCH":      true,
	"AUTH":         true,
	"HELLO":        true,
	"SELECT":       true,
}

// RoutingClient sends every command to the host owning its keys and hands
// back a PendingCommand instead of waiting for the reply. With a concurrency
// limit set, a dispatch that would exceed it first drains replies of earlier
// commands.
type RoutingClient struct {
	pool             ConnectionPool
	poller           poll.Poller
	maxConcurrency   int
	throttleInterval time.Duration
	logger           *zap.Logger
	metrics          *Metrics

	mu          sync.Mutex
	outstanding []*PendingCommand
	closed      atomic.Bool
}

// NewRoutingClient creates a client dispatching through cluster. cluster may
// be nil only if WithConnectionPool is given.
func NewRoutingClient(cluster Controller, opts ...Option) (*RoutingClient, error) {
	o := buildOptions(opts)
	if o.pool == nil {
		if cluster == nil {
			return nil, errors.New("rb: routing client needs a cluster or a connection pool")
		}
		o.pool = NewRoutingPool(cluster)
	}
	return &RoutingClient{
		pool:             o.pool,
		poller:           o.poller,
		maxConcurrency:   o.maxConcurrency,
		throttleInterval: o.throttleInterval,
		logger:           o.logger,
		metrics:          o.metrics,
	}, nil
}

func (c *RoutingClient) MaxConcurrency() int { return c.maxConcurrency }

// PubSub always fails: a subscription needs a connection that is not shared
// by routed commands.
func (c *RoutingClient) PubSub() error {
	return fmt.Errorf("%w: pubsub", ErrUnsupported)
}

// Pipeline always fails: a pipeline may span several shards.
func (c *RoutingClient) Pipeline() error {
	return fmt.Errorf("%w: pipelines", ErrUnsupported)
}

func (c *RoutingClient) live() (*RoutingClient, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c, nil
}

// Do sends a command to the host owning its keys and returns without reading
// the reply. args[0] is the command name.
func (c *RoutingClient) Do(ctx context.Context, args ...string) (*PendingCommand, error) {
	if _, err := c.live(); err != nil {
		return nil, err
	}
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
	if err := sendWithRetry(ctx, conn, args, c.logger, c.metrics); err != nil {
		c.pool.Release(conn)
		return nil, err
	}
	c.metrics.commandDispatched(command)
	return c.admit(ctx, newPendingCommand(c, conn, command))
}

// sendWithRetry writes args on conn. A connection failure is answered with
// one reconnect and resend on the same handle; the second failure is final.
func sendWithRetry(ctx context.Context, conn *pool.Conn, args []string, logger *zap.Logger, m *Metrics) error {
	err := conn.Send(ctx, args)
	if err == nil || !pool.IsConnError(err) {
		return err
	}
	logger.Warn("send failed, reconnecting",
		zap.String("addr", conn.Addr()),
		zap.String("command", args[0]),
		zap.Error(err))
	m.sendRetry()
	conn.Disconnect()
	if err := conn.Send(ctx, args); err != nil {
		conn.Disconnect()
		return err
	}
	return nil
}

// admit adds pc to the outstanding set, first draining replies while the set
// is at the concurrency limit. The lock is not held while waiting: other
// dispatchers may drain the same commands, which is safe because a pending
// command is read at most once.
func (c *RoutingClient) admit(ctx context.Context, pc *PendingCommand) (*PendingCommand, error) {
	drainCtx := context.WithoutCancel(ctx)

	c.mu.Lock()
	for c.maxConcurrency > 0 && len(c.outstanding) >= c.maxConcurrency {
		snapshot := slices.Clone(c.outstanding)
		c.mu.Unlock()

		c.metrics.throttleWait()
		c.logger.Debug("concurrency limit reached, draining",
			zap.Int("outstanding", len(snapshot)),
			zap.Int("limit", c.maxConcurrency))

		err := ctx.Err()
		if err == nil {
			if _, err = c.live(); err == nil {
				var ready []*PendingCommand
				ready, err = poll.Select(ctx, c.poller, snapshot, c.throttleInterval)
				for _, other := range ready {
					// A failed reply belongs to whoever holds that command.
					other.Wait(drainCtx)
				}
			}
		}
		if err != nil {
			c.abandon(pc)
			return nil, err
		}
		c.mu.Lock()
	}
	if c.closed.Load() {
		c.mu.Unlock()
		c.abandon(pc)
		return nil, ErrClientClosed
	}
	c.outstanding = append(c.outstanding, pc)
	c.mu.Unlock()

	c.metrics.outstandingAdd(1)
	return pc, nil
}

// abandon drops a sent command that never got admitted.
func (c *RoutingClient) abandon(pc *PendingCommand) {
	conn := pc.detach()
	if conn != nil {
		c.pool.Release(conn)
	}
}

// notifyDone removes pc from the outstanding set. Absence is not an error:
// completion and cancellation may both report the same command.
func (c *RoutingClient) notifyDone(pc *PendingCommand) {
	c.mu.Lock()
	i := slices.Index(c.outstanding, pc)
	if i >= 0 {
		c.outstanding = slices.Delete(c.outstanding, i, i+1)
	}
	c.mu.Unlock()
	if i >= 0 {
		c.metrics.outstandingAdd(-1)
	}
}

func (c *RoutingClient) snapshot() []*PendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.outstanding)
}

// Outstanding returns the number of commands sent but not yet completed or
// cancelled.
func (c *RoutingClient) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// NoTimeout makes WaitForOutstanding wait until every command is read.
const NoTimeout time.Duration = -1

// WaitForOutstanding reads replies as they become ready until none are
// outstanding. A negative timeout, such as NoTimeout, waits without limit;
// zero returns at once. It returns ErrWaitTimeout if commands are still
// outstanding when the timeout passes. Errors of individual commands stay on
// their PendingCommand.
func (c *RoutingClient) WaitForOutstanding(ctx context.Context, timeout time.Duration) error {
	if _, err := c.live(); err != nil {
		return err
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		snapshot := c.snapshot()
		if len(snapshot) == 0 {
			return nil
		}
		remaining := time.Duration(-1)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return ErrWaitTimeout
			}
		}
		ready, err := poll.Select(ctx, c.poller, snapshot, remaining)
		if err != nil {
			return err
		}
		for _, pc := range ready {
			pc.Wait(ctx)
		}
	}
}

// CancelOutstanding cancels every command outstanding at the time of the
// call.
func (c *RoutingClient) CancelOutstanding() error {
	var err error
	for _, pc := range c.snapshot() {
		err = multierr.Append(err, pc.Cancel())
	}
	return err
}

// Close tears the client down. Outstanding connections are disconnected and
// returned; their commands fail with ErrClientClosed from then on.
func (c *RoutingClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	pending := c.outstanding
	c.outstanding = nil
	c.mu.Unlock()

	for _, pc := range pending {
		if conn := pc.detach(); conn != nil {
			c.pool.Release(conn)
		}
	}
	c.metrics.outstandingAdd(-float64(len(pending)))
	return nil
}
