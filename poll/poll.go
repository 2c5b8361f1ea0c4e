// Package poll waits for the first of many connections to have a reply
// ready to read.
package poll

import (
	"context"
	"syscall"
	"time"
)

// Source is anything whose readability can be polled: a buffered reader
// layered over a socket.
type Source interface {
	// Buffered reports bytes already read into user space. A source with
	// buffered bytes is ready without touching the socket.
	Buffered() int
	SyscallConn() (syscall.RawConn, error)
}

// Poller blocks until at least one source is readable or the timeout passes.
// Wait returns the indices of ready sources in the order the poller reports
// them; an empty result means the timeout elapsed. A negative timeout waits
// until a source is ready or ctx is done.
//
// A source whose SyscallConn fails (closed, completed, torn down) is reported
// ready so that the caller observes its terminal state instead of waiting on
// it.
type Poller interface {
	Wait(ctx context.Context, sources []Source, timeout time.Duration) ([]int, error)
}

// Select is Wait over a typed slice.
func Select[T Source](ctx context.Context, p Poller, items []T, timeout time.Duration) ([]T, error) {
	sources := make([]Source, len(items))
	for i, it := range items {
		sources[i] = it
	}
	idx, err := p.Wait(ctx, sources, timeout)
	if err != nil {
		return nil, err
	}
	ready := make([]T, 0, len(idx))
	for _, i := range idx {
		ready = append(ready, items[i])
	}
	return ready, nil
}
