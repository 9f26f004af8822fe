// Package debounce groups candidate speech fragments into analysis units by
// waiting for a quiet period after the last fragment.
package debounce

import (
	"strings"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the candidate must pause before the
// buffered text is flushed.
const DefaultQuietPeriod = 2 * time.Second

// State of a Debouncer.
type State int

const (
	// Idle holds no text and no timer.
	Idle State = iota
	// Buffering holds text and one armed timer.
	Buffering
	// Closed ignores every fragment.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Buffering:
		return "buffering"
	default:
		return "closed"
	}
}

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option applies a configuration option to the Debouncer.
type Option func(*Debouncer)

// WithQuietPeriod sets the quiet period.
func WithQuietPeriod(d time.Duration) Option {
	return func(b *Debouncer) {
		if d > 0 {
			b.quiet = d
		}
	}
}

// WithAfterFunc replaces the timer factory.
func WithAfterFunc(f AfterFunc) Option {
	return func(b *Debouncer) {
		if f != nil {
			b.after = f
		}
	}
}

// WithClock replaces the clock used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(b *Debouncer) {
		if now != nil {
			b.now = now
		}
	}
}

// Debouncer is a per-session two-state machine: Idle, or Buffering with the
// pending text and a deadline. Every Add restarts the single timer; only the
// latest timer may flush.
type Debouncer struct {
	mu       sync.Mutex
	quiet    time.Duration
	after    AfterFunc
	now      func() time.Time
	flush    func(text string)
	parts    []string
	deadline time.Time
	timer    Timer
	gen      uint64
	closed   bool
}

// New creates a Debouncer that hands each completed unit to flush. flush
// runs on the timer goroutine and must not block for long.
func New(flush func(text string), opts ...Option) *Debouncer {
	b := &Debouncer{
		quiet: DefaultQuietPeriod,
		after: realAfterFunc,
		now:   time.Now,
		flush: flush,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add buffers a fragment and restarts the quiet period. Blank fragments and
// fragments after Discard are ignored; the return value reports whether the
// fragment was buffered.
func (b *Debouncer) Add(fragment string) bool {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.parts = append(b.parts, fragment)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.deadline = b.now().Add(b.quiet)
	b.timer = b.after(b.quiet, func() { b.fire(gen) })
	return true
}

func (b *Debouncer) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen || len(b.parts) == 0 {
		b.mu.Unlock()
		return
	}
	text := strings.Join(b.parts, " ")
	b.reset()
	b.mu.Unlock()

	b.flush(text)
}

// reset returns to Idle. Caller holds mu.
func (b *Debouncer) reset() {
	b.parts = nil
	b.timer = nil
	b.deadline = time.Time{}
	b.gen++
}

// Discard cancels the timer, drops pending text without flushing and closes
// the debouncer. It returns the dropped text.
func (b *Debouncer) Discard() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := strings.Join(b.parts, " ")
	if b.timer != nil {
		b.timer.Stop()
	}
	b.reset()
	b.closed = true
	return dropped
}

// Pending returns the buffered text.
func (b *Debouncer) Pending() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.parts, " ")
}

// State returns the current state.
func (b *Debouncer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		return Closed
	case len(b.parts) > 0:
		return Buffering
	default:
		return Idle
	}
}

// Deadline is when the pending text flushes; zero when Idle.
func (b *Debouncer) Deadline() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deadline
}
