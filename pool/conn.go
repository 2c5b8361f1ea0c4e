// Package pool holds connections to a single host and the registry that lets
// a connection find its way back to the pool that created it.
package pool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/joomcode/redispipe/redis"

	"github.com/ringsaturn/rb/proto"
)

const readBufferSize = 64 * 1024

// maxHeaderLen bounds a '*' or '$' header line: sign, 19 digits and CRLF.
const maxHeaderLen = 32

var ErrClosed = errors.New("rb: I/O operation on closed connection")

// ConnError is a transport failure on a connection. The connection's reply
// stream is out of sync after one and must be disconnected.
type ConnError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("rb: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// IsConnError reports whether err is a transport failure.
func IsConnError(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Conn is a connection handle. It dials lazily, so a disconnected Conn can be
// reused: the next Send reconnects.
type Conn struct {
	addr   string
	origin ID
	dial   DialFunc
	opts   *Options

	mu   sync.Mutex
	nc   net.Conn
	rd   *bufio.Reader
	wbuf []byte
}

func newConn(addr string, origin ID, opts *Options) *Conn {
	return &Conn{addr: addr, origin: origin, dial: opts.Dial, opts: opts}
}

// Origin is the ID of the pool that created c. It never changes.
func (c *Conn) Origin() ID { return c.origin }

func (c *Conn) Addr() string { return c.addr }

// Connected reports whether c currently holds a socket.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

func (c *Conn) connect(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc != nil {
		return nc, nil
	}

	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}
	nc, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return nil, &ConnError{Op: "dial", Addr: c.addr, Err: err}
	}

	c.mu.Lock()
	c.nc = nc
	if c.rd == nil {
		c.rd = bufio.NewReaderSize(nc, readBufferSize)
	} else {
		c.rd.Reset(nc)
	}
	c.mu.Unlock()
	return nc, nil
}

// Send writes a command, dialing first if c is disconnected.
func (c *Conn) Send(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("rb: empty command")
	}
	rest := make([]interface{}, len(args)-1)
	for i, arg := range args[1:] {
		rest[i] = arg
	}
	packet, err := redis.AppendRequest(c.wbuf[:0], redis.Request{Cmd: args[0], Args: rest})
	if err != nil {
		return fmt.Errorf("rb: encode %s: %w", args[0], err)
	}
	c.wbuf = packet[:0]

	nc, err := c.connect(ctx)
	if err != nil {
		return err
	}
	nc.SetWriteDeadline(c.deadline(ctx, c.opts.WriteTimeout))
	if _, err := nc.Write(packet); err != nil {
		return &ConnError{Op: "write", Addr: c.addr, Err: err}
	}
	return nil
}

// ReadReply reads one reply and decodes it by the rules for command. A server
// error reply is returned as proto.Error and leaves c usable; anything else
// that fails is a *ConnError.
func (c *Conn) ReadReply(ctx context.Context, command string) (any, error) {
	c.mu.Lock()
	nc, rd := c.nc, c.rd
	c.mu.Unlock()
	if nc == nil {
		return nil, &ConnError{Op: "read", Addr: c.addr, Err: ErrClosed}
	}

	nc.SetReadDeadline(c.deadline(ctx, c.opts.ReadTimeout))
	stop := context.AfterFunc(ctx, func() {
		nc.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	raw, err := readResponse(rd)
	if err != nil {
		var perr proto.Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &ConnError{Op: "read", Addr: c.addr, Err: err}
	}
	v, err := proto.ParseReply(command, raw)
	if err != nil {
		return nil, &ConnError{Op: "read", Addr: c.addr, Err: err}
	}
	return v, nil
}

// Disconnect closes the socket. It is safe to call concurrently with a
// blocked ReadReply, which then fails.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.mu.Unlock()
	if nc == nil {
		return nil
	}
	return nc.Close()
}

func (c *Conn) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return 0
	}
	return c.rd.Buffered()
}

// readResponse reads one reply with redispipe's parser. Error replies and
// length headers are looked at first: an error reply becomes proto.Error and
// lengths are checked against the proto limits before anything is
// allocated for them. Arrays are framed here so that every nested header
// gets the same check.
func readResponse(rd *bufio.Reader) (any, error) {
	head, err := rd.Peek(1)
	if err != nil {
		return nil, err
	}
	switch head[0] {
	case proto.ErrorReply:
		line, err := rd.ReadSlice('\n')
		if err != nil {
			return nil, err
		}
		return nil, proto.Error(bytes.TrimRight(line[1:], "\r\n"))
	case proto.StringReply:
		line, err := peekHeader(rd)
		if err != nil {
			return nil, err
		}
		if _, err := proto.HeaderLen(line); err != nil {
			return nil, err
		}
	case proto.ArrayReply:
		line, err := peekHeader(rd)
		if err != nil {
			return nil, err
		}
		n, err := proto.HeaderLen(line)
		if err != nil {
			return nil, err
		}
		rd.Discard(len(line) + 2)
		if n < 0 {
			return nil, nil
		}
		vals := make([]any, 0, min(n, 64))
		for range n {
			v, err := readResponse(rd)
			if err != nil {
				var perr proto.Error
				if !errors.As(err, &perr) {
					return nil, err
				}
				v = perr
			}
			vals = append(vals, v)
		}
		return vals, nil
	}
	res := redis.ReadResponse(rd)
	if rerr := redis.AsErrorx(res); rerr != nil {
		return nil, rerr
	}
	return res, nil
}

// peekHeader returns the next line without its CRLF, leaving it unread.
func peekHeader(rd *bufio.Reader) ([]byte, error) {
	for n := 2; n <= maxHeaderLen; n++ {
		b, err := rd.Peek(n)
		if err != nil {
			return nil, err
		}
		if b[n-1] == '\n' {
			if b[n-2] != '\r' {
				break
			}
			return b[:n-2], nil
		}
	}
	return nil, fmt.Errorf("%w: invalid length header", proto.ErrProtocol)
}

func (c *Conn) SyscallConn() (syscall.RawConn, error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return nil, ErrClosed
	}
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("rb: %T has no file descriptor", nc)
	}
	return sc.SyscallConn()
}

func (c *Conn) deadline(ctx context.Context, timeout time.Duration) time.Time {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}
