//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// maxSlice bounds a single poll(2) call so that ctx cancellation is noticed.
const maxSlice = 50 * time.Millisecond

// FD polls the sources' file descriptors with poll(2).
type FD struct{}

func (FD) Wait(ctx context.Context, sources []Source, timeout time.Duration) ([]int, error) {
	var ready []int
	fds := make([]unix.PollFd, 0, len(sources))
	index := make([]int, 0, len(sources))
	for i, src := range sources {
		if src.Buffered() > 0 {
			ready = append(ready, i)
			continue
		}
		fd, err := rawFD(src)
		if err != nil {
			ready = append(ready, i)
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		index = append(index, i)
	}
	if len(ready) > 0 || len(fds) == 0 {
		return ready, nil
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slice := maxSlice
		if timeout >= 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, nil
			}
			slice = min(slice, left)
		}
		n, err := unix.Poll(fds, int((slice+time.Millisecond-1)/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, os.NewSyscallError("poll", err)
		}
		if n == 0 {
			continue
		}
		for j, pfd := range fds {
			if pfd.Revents != 0 {
				ready = append(ready, index[j])
			}
		}
		return ready, nil
	}
}

func rawFD(src Source) (uintptr, error) {
	rc, err := src.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if err := rc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, err
	}
	return fd, nil
}
