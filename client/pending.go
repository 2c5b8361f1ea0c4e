package client

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/ringsaturn/rb/pool"
)

type pendingState int

const (
	statePending pendingState = iota
	stateReading
	stateCompleted
	stateCancelled
)

// PendingCommand is a command that has been sent but whose reply has not
// been read yet. It implements poll.Source so that many of them can be
// waited on at once.
type PendingCommand struct {
	owner   *RoutingClient
	command string

	mu    sync.Mutex
	state pendingState
	conn  *pool.Conn
	value any
	err   error
	done  chan struct{}
}

func newPendingCommand(owner *RoutingClient, conn *pool.Conn, command string) *PendingCommand {
	return &PendingCommand{
		owner:   owner,
		command: command,
		conn:    conn,
		done:    make(chan struct{}),
	}
}

func (pc *PendingCommand) Command() string { return pc.command }

// Done is closed once the command is completed or cancelled.
func (pc *PendingCommand) Done() <-chan struct{} { return pc.done }

func (pc *PendingCommand) Buffered() int {
	pc.mu.Lock()
	conn := pc.conn
	pc.mu.Unlock()
	if conn == nil {
		return 0
	}
	return conn.Buffered()
}

// SyscallConn exposes the socket for readiness polling. It fails with
// ErrClosed once the command no longer holds a connection.
func (pc *PendingCommand) SyscallConn() (syscall.RawConn, error) {
	pc.mu.Lock()
	conn := pc.conn
	pc.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}
	return conn.SyscallConn()
}

// Cancel drops the connection without waiting for the reply. Cancelling a
// completed or cancelled command does nothing. If another goroutine is
// reading the reply, the read is aborted and that goroutine releases the
// connection. Cancelling a command left pending by a closed client returns
// ErrClientClosed.
func (pc *PendingCommand) Cancel() error {
	pc.mu.Lock()
	if pc.state == stateCompleted || pc.state == stateCancelled {
		pc.mu.Unlock()
		return nil
	}
	c, err := pc.owner.live()
	if err != nil {
		pc.mu.Unlock()
		return err
	}
	if pc.conn == nil {
		pc.mu.Unlock()
		return nil
	}
	conn := pc.conn
	reading := pc.state == stateReading
	pc.state = stateCancelled
	pc.err = ErrCancelled
	if !reading {
		pc.conn = nil
		close(pc.done)
	}
	pc.mu.Unlock()

	conn.Disconnect()
	if !reading {
		c.pool.Release(conn)
	}
	c.metrics.cancelled()
	c.notifyDone(pc)
	return nil
}

// Wait reads the reply if it has not been read yet and returns it. Every
// call after the first returns the same value and error without touching the
// connection. Whatever the outcome of the read, the command leaves the
// client's outstanding set and its connection goes back to the pool exactly
// once.
func (pc *PendingCommand) Wait(ctx context.Context) (value any, rerr error) {
	pc.mu.Lock()
	switch pc.state {
	case stateCompleted, stateCancelled:
		defer pc.mu.Unlock()
		return pc.value, pc.err
	case stateReading:
		pc.mu.Unlock()
		select {
		case <-pc.done:
			pc.mu.Lock()
			defer pc.mu.Unlock()
			return pc.value, pc.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c, err := pc.owner.live()
	if err != nil {
		pc.mu.Unlock()
		return nil, err
	}
	if pc.conn == nil {
		pc.mu.Unlock()
		return nil, ErrClosed
	}
	conn := pc.conn
	pc.state = stateReading
	pc.mu.Unlock()

	defer func() {
		pc.mu.Lock()
		if pc.state == stateCancelled {
			value, rerr = nil, ErrCancelled
		} else {
			pc.state = stateCompleted
			pc.value, pc.err = value, rerr
		}
		pc.conn = nil
		close(pc.done)
		pc.mu.Unlock()

		if pool.IsConnError(rerr) {
			conn.Disconnect()
		}
		c.notifyDone(pc)
		c.pool.Release(conn)
	}()

	return conn.ReadReply(ctx, pc.command)
}

// detach tears down the connection of a command whose client is closing. The
// command stays non-terminal, so later calls report ErrClientClosed.
func (pc *PendingCommand) detach() *pool.Conn {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	conn := pc.conn
	if conn == nil {
		return nil
	}
	conn.Disconnect()
	if pc.state == stateReading {
		// the reader releases it
		return nil
	}
	pc.conn = nil
	return conn
}

func (pc *PendingCommand) String(ctx context.Context) (string, bool, error) {
	v, err := pc.Wait(ctx)
	if err != nil || v == nil {
		return "", false, err
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("rb: %s reply is %T, not a string", pc.command, v)
	}
	return s, true, nil
}

func (pc *PendingCommand) Int64(ctx context.Context) (int64, error) {
	v, err := pc.Wait(ctx)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("rb: %s reply is %T, not an integer", pc.command, v)
	}
	return n, nil
}

func (pc *PendingCommand) Bool(ctx context.Context) (bool, error) {
	v, err := pc.Wait(ctx)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	}
	return false, fmt.Errorf("rb: %s reply is %T, not a boolean", pc.command, v)
}
