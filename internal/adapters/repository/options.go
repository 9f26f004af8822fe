package repository

import (
	"time"

	"github.com/okian/bluffmeter/pkg/logger"
)

// Option applies a configuration option to the SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithClock overrides the time source used for created and updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// LeaderboardOption applies a configuration option to the Leaderboard.
type LeaderboardOption func(*Leaderboard)

// WithPrioritySource overrides the treap priority generator.
func WithPrioritySource(fn func() uint64) LeaderboardOption {
	return func(l *Leaderboard) {
		if fn != nil {
			l.prio = fn
		}
	}
}
