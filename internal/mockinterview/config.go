// Package mockinterview drives a running bluffmeter server through one full
// interview: it opens a session, streams a scripted conversation over the
// live socket, ends it and checks what was stored.
package mockinterview

import (
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/types"
)

// Config holds configuration for one mock interview run.
type Config struct {
	BaseURL     string        // Base URL of the service
	CandidateID string        // Candidate the session is opened for
	TopicID     string        // Topic to be interviewed on
	Difficulty  string        // Difficulty profile, empty for the server default
	Gap         time.Duration // Pause between fragments of one answer
	Pause       time.Duration // Pause after each answer, longer than the server quiet period
	Settle      time.Duration // How long to wait for trailing analysis before ending
	Timeout     time.Duration // HTTP request timeout
	Script      Script        // Conversation to replay, DefaultScript when empty
	Verbose     bool          // Print every frame, not only analysis and steering
}

// Report is the outcome of a run.
type Report struct {
	SessionID    string
	Status       model.Status
	Analyses     int
	Steering     int
	Acks         int
	Samples      int
	FinalScore   *int
	Summary      types.Summary
	Coverage     []model.ConceptCoverage
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
	coverageLogs [][]model.ConceptCoverage
}
