package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/ringsaturn/rb/poll"
)

// DefaultThrottleInterval bounds each readiness wait of a dispatcher held at
// the concurrency limit.
const DefaultThrottleInterval = time.Second

type options struct {
	maxConcurrency   int
	pool             ConnectionPool
	poller           poll.Poller
	throttleInterval time.Duration
	logger           *zap.Logger
	metrics          *Metrics
}

type Option func(*options)

// WithMaxConcurrency bounds the commands a client keeps in flight. Zero or
// less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithConnectionPool replaces the default routing pool.
func WithConnectionPool(p ConnectionPool) Option {
	return func(o *options) { o.pool = p }
}

func WithPoller(p poll.Poller) Option {
	return func(o *options) { o.poller = p }
}

func WithThrottleInterval(d time.Duration) Option {
	return func(o *options) { o.throttleInterval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{
		poller:           poll.FD{},
		throttleInterval: DefaultThrottleInterval,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
