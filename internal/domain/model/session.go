// Package model contains domain models passed between layers.
package model

import "time"

// Role tags the speaker of a transcript entry.
type Role string

const (
	RoleAgent Role = "agent" // interviewer
	RoleUser  Role = "user"  // candidate
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAgent || r == RoleUser }

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusDisconnected Status = "disconnected"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDisconnected
}

// ConceptStatus is the demonstrated strength of one concept.
type ConceptStatus string

const (
	ConceptMissing ConceptStatus = "missing"
	ConceptShallow ConceptStatus = "shallow"
	ConceptClear   ConceptStatus = "clear"
)

// Strength orders statuses so coverage only ever moves upward.
func (c ConceptStatus) Strength() int {
	switch c {
	case ConceptClear:
		return 2
	case ConceptShallow:
		return 1
	default:
		return 0
	}
}

// ConceptCoverage is one entry of a session's knowledge map.
type ConceptCoverage struct {
	Concept string        `json:"concept"`
	Status  ConceptStatus `json:"status"`
}

// Judgment is the structured output of one analysis pass. Concept names are
// already restricted to the topic's concept set.
type Judgment struct {
	Clear   []string `json:"concepts_mentioned_clearly"`
	Shallow []string `json:"concepts_mentioned_shallowly"`
	Missing []string `json:"concepts_missing"`

	// MissingReported is how many missing names the judge returned before
	// filtering. Scoring uses it; coverage uses the filtered sets.
	MissingReported int `json:"-"`

	Vagueness          float64 `json:"vagueness_score"`
	ConfidenceLanguage bool    `json:"confidence_language_detected"`
	Depth              float64 `json:"depth_score"`
	FollowUp           string  `json:"follow_up_question"`
	Note               string  `json:"assessment_note,omitempty"`
}

// BluffSample is one entry of the append-only bluff history.
type BluffSample struct {
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEntry is one role-tagged utterance.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the aggregate root of one interview.
type Session struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidate_id"`
	TopicID     string `json:"topic_id"`
	TopicTitle  string `json:"topic_title"`
	Difficulty  string `json:"difficulty"`
	InviteID    string `json:"invite_id,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Status      Status `json:"status"`

	Transcript      []TranscriptEntry `json:"transcript"`
	BluffHistory    []BluffSample     `json:"bluff_history"`
	ConceptCoverage []ConceptCoverage `json:"concept_coverage"`
	FinalBluffScore *int              `json:"final_bluff_score,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Version is bumped on every persisted change.
	Version int64 `json:"version"`
}

// Clone returns a deep copy safe to hand out of a lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	c.BluffHistory = append([]BluffSample(nil), s.BluffHistory...)
	c.ConceptCoverage = append([]ConceptCoverage(nil), s.ConceptCoverage...)
	if s.FinalBluffScore != nil {
		v := *s.FinalBluffScore
		c.FinalBluffScore = &v
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// TopicKind says where a topic came from.
type TopicKind string

const (
	TopicBuiltin TopicKind = "builtin"
	TopicJobRole TopicKind = "job_role"
	TopicResume  TopicKind = "resume"
	TopicJD      TopicKind = "jd"
)

// Topic defines what is assessed. It is never mutated once a session starts;
// sessions capture its id and title.
type Topic struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Concepts    []string  `json:"concepts"`
	Kind        TopicKind `json:"kind"`
	Company     string    `json:"company,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// InviteStatus is pending until a linked session completes.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteCompleted InviteStatus = "completed"
)

// Invite links a candidate to a topic.
type Invite struct {
	ID          string       `json:"id"`
	CandidateID string       `json:"candidate_id,omitempty"`
	Email       string       `json:"invite_email,omitempty"`
	TopicID     string       `json:"topic_id"`
	Difficulty  string       `json:"difficulty,omitempty"`
	Status      InviteStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
