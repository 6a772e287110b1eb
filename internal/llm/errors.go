package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/zhe.chen/explaind/internal/bounded"
)

// Failure kinds of a generation request.
var (
	ErrUnavailable = errors.New("backend unavailable")
	ErrTimeout     = errors.New("backend timed out")
	ErrBackend     = errors.New("backend error")
)

// Classify wraps err with the failure kind it represents. Errors that already
// carry a kind are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrBackend) {
		return err
	}

	switch {
	case errors.Is(err, bounded.ErrTimedOut),
		errors.Is(err, context.DeadlineExceeded),
		isNetTimeout(err):
		return fmt.Errorf("%s: %w: %w", provider, ErrTimeout, err)
	case isConnectionFailure(err):
		return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w: %w", provider, ErrBackend, err)
	}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionFailure(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
