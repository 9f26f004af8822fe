package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds for judge failures. Callers use errors.Is.
var (
	ErrRateLimited     = errors.New("judge rate limited")
	ErrQuotaExceeded   = errors.New("judge quota exceeded")
	ErrUnavailable     = errors.New("judge unavailable")
	ErrMalformedOutput = errors.New("judge returned malformed output")
	ErrInvalidRequest  = errors.New("invalid judge request")
	ErrRejected        = errors.New("judge rejected the request")
)

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// Kind is a short label for err, used as a metric label.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrMalformedOutput):
		return "malformed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}

// classifyStatus maps an HTTP status of a backend to a sentinel kind.
func classifyStatus(code int, detail string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	case code == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, detail)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, detail)
	case code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, detail)
	}
}
