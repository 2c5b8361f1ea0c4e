//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package poll

import (
	"context"
	"errors"
	"time"
)

type FD struct{}

func (FD) Wait(context.Context, []Source, time.Duration) ([]int, error) {
	return nil, errors.ErrUnsupported
}
