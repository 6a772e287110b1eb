package bounded

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		op          Op
		wantTimeout bool
		wantErr     bool
	}{
		{
			name:    "completes before timeout",
			timeout: time.Second,
			op:      func(ctx context.Context) error { return nil },
		},
		{
			name:    "op error passes through",
			timeout: time.Second,
			op:      func(ctx context.Context) error { return errors.New("boom") },
			wantErr: true,
		},
		{
			name:    "expires",
			timeout: 20 * time.Millisecond,
			op: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantErr:     true,
			wantTimeout: true,
		},
		{
			name:    "no timeout configured",
			timeout: 0,
			op: func(ctx context.Context) error {
				if _, ok := ctx.Deadline(); ok {
					return errors.New("unexpected deadline")
				}
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Run(context.Background(), tt.timeout, tt.op)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantTimeout, errors.Is(err, ErrTimedOut))
		})
	}
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	runner := ExecRunner{WaitDelay: time.Second}
	ctx := context.Background()

	t.Run("captures combined output", func(t *testing.T) {
		out, err := runner.Run(ctx, 5*time.Second, "sh", "-c", "echo out; echo err 1>&2")
		require.NoError(t, err)
		assert.Contains(t, string(out), "out")
		assert.Contains(t, string(out), "err")
	})

	t.Run("non-zero exit", func(t *testing.T) {
		out, err := runner.Run(ctx, 5*time.Second, "sh", "-c", "echo broken scene; exit 3")
		require.Error(t, err)
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.ExitCode())
		assert.Contains(t, string(out), "broken scene")
	})

	t.Run("killed on timeout", func(t *testing.T) {
		start := time.Now()
		_, err := runner.Run(ctx, 100*time.Millisecond, "sleep", "5")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimedOut)
		assert.Less(t, time.Since(start), 4*time.Second)
	})
}
