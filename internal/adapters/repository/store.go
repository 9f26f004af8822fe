// Package repository persists sessions, invites and custom topics, and keeps
// the in-memory leaderboard.
package repository

import (
	"context"
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/topics"
)

// NewSession is the first write of a session. ID may be empty, in which case
// the store assigns one.
type NewSession struct {
	ID              string
	CandidateID     string
	TopicID         string
	TopicTitle      string
	Difficulty      string
	InviteID        string
	Mode            string
	Status          model.Status
	ConceptCoverage []model.ConceptCoverage
	CreatedAt       time.Time
	Version         int64
}

// Patch is a partial session update. Nil slices and pointers and an empty
// Status leave the stored value untouched. A patch is applied only when
// Version is greater than the stored version.
type Patch struct {
	Version         int64
	Transcript      []model.TranscriptEntry
	BluffHistory    []model.BluffSample
	ConceptCoverage []model.ConceptCoverage
	FinalBluffScore *int
	Status          model.Status
	EndedAt         *time.Time
	UpdatedAt       time.Time
}

// CandidateScore is the final score of one completed session.
type CandidateScore struct {
	CandidateID string
	Score       int
}

// SessionStore persists interview sessions.
type SessionStore interface {
	// CreateSession inserts a new session row and returns its id.
	CreateSession(ctx context.Context, s NewSession) (string, error)
	// UpdateSession applies p if it is newer than the stored row.
	// It reports whether the patch was applied; a stale patch is not an error.
	// A terminal status is never replaced by a non-terminal one.
	UpdateSession(ctx context.Context, id string, p Patch) (bool, error)
	// MarkStaleActiveSessionsDisconnected flips every connecting or active
	// session of the candidate on the topic to disconnected.
	MarkStaleActiveSessionsDisconnected(ctx context.Context, candidateID, topicID string) (int, error)

	GetSession(ctx context.Context, id string) (*model.Session, error)
	// ListSessions returns the newest sessions first. An empty candidate
	// lists every candidate.
	ListSessions(ctx context.Context, candidateID string, limit int) ([]*model.Session, error)
	// CompletedScores returns the final scores of completed sessions in
	// creation order.
	CompletedScores(ctx context.Context) ([]CandidateScore, error)
}

// InviteStore persists interview invites.
type InviteStore interface {
	CreateInvite(ctx context.Context, inv model.Invite) (model.Invite, error)
	GetInvite(ctx context.Context, id string) (model.Invite, error)
	// MarkInviteCompleted is idempotent; the first completion time is kept.
	MarkInviteCompleted(ctx context.Context, id string, at time.Time) error
}

// TopicStore persists custom topics.
type TopicStore = topics.Store

// Store is everything the service persists.
type Store interface {
	SessionStore
	InviteStore
	TopicStore
	Close() error
}

// apply merges p into s. The caller has already checked the version.
func apply(s *model.Session, p Patch) {
	if p.Transcript != nil {
		s.Transcript = append([]model.TranscriptEntry(nil), p.Transcript...)
	}
	if p.BluffHistory != nil {
		s.BluffHistory = append([]model.BluffSample(nil), p.BluffHistory...)
	}
	if p.ConceptCoverage != nil {
		s.ConceptCoverage = append([]model.ConceptCoverage(nil), p.ConceptCoverage...)
	}
	if p.FinalBluffScore != nil {
		v := *p.FinalBluffScore
		s.FinalBluffScore = &v
	}
	if p.Status != "" && !s.Status.Terminal() {
		s.Status = p.Status
	}
	if p.EndedAt != nil && s.EndedAt == nil {
		t := *p.EndedAt
		s.EndedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		s.UpdatedAt = p.UpdatedAt
	}
	s.Version = p.Version
}
