package client

import (
	"errors"

	"github.com/ringsaturn/rb/pool"
)

var (
	// ErrMissingArgs means a command reached the routing pool without
	// routing arguments. It is a programming error.
	ErrMissingArgs = errors.New("rb: the routing pool requires command arguments")

	// ErrNoHost means the router could not determine a host for a command.
	ErrNoHost = errors.New("rb: unable to determine host for command")

	// ErrClientClosed is returned by operations on a pending command whose
	// client has been closed.
	ErrClientClosed = errors.New("rb: client went away")

	// ErrClosed is returned when the readiness identity of a completed or
	// cancelled command is requested.
	ErrClosed = pool.ErrClosed

	ErrUnsupported = errors.New("rb: operation unsupported by the routing client")
	ErrCancelled   = errors.New("rb: command cancelled")
	ErrMissingPool = errors.New("rb: the local client needs a connection pool")
	ErrWaitTimeout = errors.New("rb: timed out waiting for outstanding commands")
)
