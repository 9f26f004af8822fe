package service

import (
	"time"

	"github.com/okian/bluffmeter/internal/domain/debounce"
	"github.com/okian/bluffmeter/internal/domain/scoring"
	"github.com/okian/bluffmeter/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of persistence writers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the write queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many message ids each session remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithQuietPeriod sets the debounce quiet period.
func WithQuietPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.quiet = d
		}
	}
}

// WithAfterFunc replaces the debounce timer factory.
func WithAfterFunc(f debounce.AfterFunc) Option {
	return func(s *Service) {
		if f != nil {
			s.afterFunc = f
		}
	}
}

// WithAdversarialThreshold sets the score at which follow-ups turn aggressive.
func WithAdversarialThreshold(threshold int) Option {
	return func(s *Service) {
		if threshold >= 0 && threshold <= 100 {
			s.threshold = threshold
		}
	}
}

// WithJudgeTimeout bounds every judge call.
func WithJudgeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.judgeTimeout = d
		}
	}
}

// WithPersistTimeout bounds the synchronous write on session end.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithCalculator sets the scoring policy.
func WithCalculator(c *scoring.Calculator) Option {
	return func(s *Service) {
		if c != nil {
			s.calc = c
		}
	}
}

// WithSteerer sets the outbound steering hook.
func WithSteerer(st Steerer) Option {
	return func(s *Service) {
		s.steerer = st
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
