package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultMaxIdle     = 8
	DefaultDialTimeout = time.Second
)

var ErrPoolClosed = errors.New("rb: connection pool closed")

type Options struct {
	// MaxIdle bounds the idle list. Released connections beyond it are
	// disconnected.
	MaxIdle      int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Dial         DialFunc
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxIdle <= 0 {
		o.MaxIdle = DefaultMaxIdle
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type Stats struct {
	Acquired uint64
	Released uint64
	Dialed   uint64
	Idle     int
	Total    int
}

// HostPool hands out connections to one host.
type HostPool struct {
	id     ID
	addr   string
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	idle   []*Conn
	all    map[*Conn]struct{}
	closed bool

	acquired atomic.Uint64
	released atomic.Uint64
	dialed   atomic.Uint64
}

// NewHostPool creates a pool for addr. id is normally assigned by a Registry.
func NewHostPool(id ID, addr string, opts Options) *HostPool {
	opts = opts.withDefaults()
	return &HostPool{
		id:     id,
		addr:   addr,
		opts:   opts,
		logger: opts.Logger.With(zap.String("addr", addr), zap.Uint64("pool", uint64(id))),
		all:    make(map[*Conn]struct{}),
	}
}

func (p *HostPool) ID() ID { return p.id }

func (p *HostPool) Addr() string { return p.addr }

// Acquire returns an idle connection or dials a new one. command and
// shardHint are accepted for the HostConnectionPool contract; a single host
// has nothing to choose between.
func (p *HostPool) Acquire(ctx context.Context, command, shardHint string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var c *Conn
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		c = newConn(p.addr, p.id, &p.opts)
		p.all[c] = struct{}{}
	}
	p.mu.Unlock()

	if !c.Connected() {
		if _, err := c.connect(ctx); err != nil {
			p.mu.Lock()
			delete(p.all, c)
			p.mu.Unlock()
			return nil, err
		}
		p.dialed.Add(1)
	}
	p.acquired.Add(1)
	return c, nil
}

// Release returns c to the idle list. Connections from another pool are
// ignored; connections released into a closed or full pool are disconnected.
func (p *HostPool) Release(c *Conn) {
	if c == nil || c.origin != p.id {
		return
	}
	p.released.Add(1)

	p.mu.Lock()
	if _, ok := p.all[c]; !ok {
		p.mu.Unlock()
		c.Disconnect()
		return
	}
	if p.closed || len(p.idle) >= p.opts.MaxIdle || !c.Connected() {
		delete(p.all, c)
		p.mu.Unlock()
		c.Disconnect()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// DisconnectAll closes the socket of every connection the pool has handed
// out, including ones currently in use. Handles stay valid and reconnect on
// their next send.
func (p *HostPool) DisconnectAll() error {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.all))
	for c := range p.all {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Disconnect())
	}
	if err != nil {
		p.logger.Warn("disconnect failed", zap.Error(err))
	}
	return err
}

// Close disconnects everything and refuses further acquires.
func (p *HostPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.idle = nil
	p.mu.Unlock()
	return p.DisconnectAll()
}

func (p *HostPool) Stats() Stats {
	p.mu.Lock()
	idle, total := len(p.idle), len(p.all)
	p.mu.Unlock()
	return Stats{
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
		Dialed:   p.dialed.Load(),
		Idle:     idle,
		Total:    total,
	}
}
