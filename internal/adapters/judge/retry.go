package judge

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 8 * time.Second
)

// RetryOption applies a configuration option to Retrying.
type RetryOption func(*Retrying)

// WithMaxRetries sets how many extra attempts are made. Zero disables retries.
func WithMaxRetries(n int) RetryOption {
	return func(r *Retrying) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithBackoff sets the first delay and the cap.
func WithBackoff(base, maxDelay time.Duration) RetryOption {
	return func(r *Retrying) {
		if base > 0 && maxDelay >= base {
			r.base, r.maxDelay = base, maxDelay
		}
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l logger.Logger) RetryOption {
	return func(r *Retrying) {
		if l != nil {
			r.log = l
		}
	}
}

// Retrying retries rate-limited and unavailable errors with exponential
// backoff and jitter. Other errors return immediately.
type Retrying struct {
	next       Judge
	maxRetries int
	base       time.Duration
	maxDelay   time.Duration
	log        logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetrying wraps next.
func NewRetrying(next Judge, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     next,
		base:     defaultBaseDelay,
		maxDelay: defaultMaxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("judge")
	}
	return r
}

// Name implements Judge.
func (r *Retrying) Name() string { return r.next.Name() }

// Judge implements Judge.
func (r *Retrying) Judge(ctx context.Context, req Request) (model.Judgment, error) {
	for attempt := 0; ; attempt++ {
		j, err := r.next.Judge(ctx, req)
		if err == nil || !IsRetryable(err) || attempt >= r.maxRetries || ctx.Err() != nil {
			return j, err
		}

		delay := r.backoff(attempt + 1)
		r.log.Warn(ctx, "retrying judge call",
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.String("kind", Kind(err)),
		)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return model.Judgment{}, err
		}
	}
}

// backoff doubles from base, caps at maxDelay and adds up to 25% jitter.
func (r *Retrying) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.base) * math.Pow(2, float64(attempt-1)))
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	r.mu.Lock()
	jitter := time.Duration(r.rng.Int63n(int64(delay)/4 + 1))
	r.mu.Unlock()
	return delay + jitter
}
