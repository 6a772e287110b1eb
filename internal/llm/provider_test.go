package llm

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	reply string
	err   error
	delay time.Duration
	seen  Request
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Generate(ctx context.Context, req Request) (string, error) {
	s.seen = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func TestCall(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name    string
		gen     *stubGenerator
		timeout time.Duration
		want    string
		wantErr error
	}{
		{
			name: "trims reply",
			gen:  &stubGenerator{reply: "  {\"frames\": []}\n"},
			want: `{"frames": []}`,
		},
		{
			name:    "connection refused",
			gen:     &stubGenerator{err: refused},
			wantErr: ErrUnavailable,
		},
		{
			name:    "timeout",
			gen:     &stubGenerator{reply: "late", delay: time.Second},
			timeout: 20 * time.Millisecond,
			wantErr: ErrTimeout,
		},
		{
			name:    "backend failure",
			gen:     &stubGenerator{err: errors.New("status 500: model not found")},
			wantErr: ErrBackend,
		},
		{
			name:    "empty completion",
			gen:     &stubGenerator{reply: "   "},
			wantErr: ErrBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Call(context.Background(), tt.gen, Request{
				Prompt:      "explain",
				Model:       "mistral",
				Temperature: 0.7,
				Timeout:     tt.timeout,
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "mistral", tt.gen.seen.Model)
		})
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	original := Classify("ollama", context.DeadlineExceeded)
	require.ErrorIs(t, original, ErrTimeout)

	again := Classify("ollama", original)
	assert.Same(t, original, again)
	assert.ErrorIs(t, again, context.DeadlineExceeded)
	assert.Nil(t, Classify("ollama", nil))
}
