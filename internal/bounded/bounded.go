// Package bounded wraps every blocking external call (model requests,
// renderer and muxer subprocesses) in a uniform operation + timeout shape.
package bounded

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimedOut is returned when an operation outlives its timeout.
var ErrTimedOut = errors.New("operation timed out")

// Op is a unit of blocking work that honours ctx.
type Op func(ctx context.Context) error

// Run executes op with a deadline of timeout. A non-positive timeout leaves the
// parent context untouched. Expiry is reported as ErrTimedOut.
func Run(ctx context.Context, timeout time.Duration, op Op) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := op(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimedOut, timeout, err)
	}
	return err
}

// Runner runs a subprocess to completion and returns its combined output.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes through os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long a killed process may hold its output pipes.
	WaitDelay time.Duration
}

// Run starts name with args and waits for it, killing it on timeout.
func (r ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	var output []byte
	err := Run(ctx, timeout, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.WaitDelay = r.WaitDelay
		if cmd.WaitDelay == 0 {
			cmd.WaitDelay = 5 * time.Second
		}

		var err error
		output, err = cmd.CombinedOutput()
		return err
	})
	return output, err
}
