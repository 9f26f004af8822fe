package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/bluffmeter/internal/domain/model"
)

// MemoryStore is a map-backed Store with the same semantics as SQLiteStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	invites  map[string]model.Invite
	topics   map[string]model.Topic
	now      func() time.Time
	closed   bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		invites:  make(map[string]model.Invite),
		topics:   make(map[string]model.Topic),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, ns NewSession) (string, error) {
	if err := validateNew(ns); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if ns.ID == "" {
		ns.ID = uuid.NewString()
	}
	if _, ok := m.sessions[ns.ID]; ok {
		return "", fmt.Errorf("%w: session %s", ErrDuplicateID, ns.ID)
	}
	m.sessions[ns.ID] = fromNew(ns, m.now())
	return ns.ID, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, p Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if p.Version <= s.Version {
		return false, nil
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now().UTC()
	}
	apply(s, p)
	return true, nil
}

func (m *MemoryStore) MarkStaleActiveSessionsDisconnected(ctx context.Context, candidateID, topicID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.now().UTC()
	n := 0
	for _, s := range m.sessions {
		if s.CandidateID != candidateID || s.TopicID != topicID {
			continue
		}
		if s.Status != model.StatusActive && s.Status != model.StatusConnecting {
			continue
		}
		s.Status = model.StatusDisconnected
		s.UpdatedAt = now
		if s.EndedAt == nil {
			t := now
			s.EndedAt = &t
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, candidateID string, limit int) ([]*model.Session, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	m.mu.RLock()
	out := make([]*model.Session, 0)
	for _, s := range m.sessions {
		if candidateID == "" || s.CandidateID == candidateID {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CompletedScores(ctx context.Context) ([]CandidateScore, error) {
	m.mu.RLock()
	done := make([]*model.Session, 0)
	for _, s := range m.sessions {
		if s.Status == model.StatusCompleted && s.FinalBluffScore != nil {
			done = append(done, s)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].CreatedAt.Before(done[j].CreatedAt) })
	out := make([]CandidateScore, len(done))
	for i, s := range done {
		out[i] = CandidateScore{CandidateID: s.CandidateID, Score: *s.FinalBluffScore}
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *MemoryStore) CreateInvite(ctx context.Context, inv model.Invite) (model.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Invite{}, ErrClosed
	}
	inv = newInvite(inv, m.now())
	if _, ok := m.invites[inv.ID]; ok {
		return model.Invite{}, fmt.Errorf("%w: invite %s", ErrDuplicateID, inv.ID)
	}
	m.invites[inv.ID] = inv
	return inv, nil
}

func (m *MemoryStore) GetInvite(ctx context.Context, id string) (model.Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[id]
	if !ok {
		return model.Invite{}, fmt.Errorf("%w: %s", ErrInviteNotFound, id)
	}
	return inv, nil
}

func (m *MemoryStore) MarkInviteCompleted(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInviteNotFound, id)
	}
	if inv.Status == model.InviteCompleted {
		return nil
	}
	t := at.UTC()
	inv.Status = model.InviteCompleted
	inv.CompletedAt = &t
	m.invites[id] = inv
	return nil
}

func (m *MemoryStore) SaveTopic(ctx context.Context, t model.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t.Concepts = append([]string(nil), t.Concepts...)
	m.topics[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTopic(ctx context.Context, id string) (model.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[id]
	if !ok {
		return model.Topic{}, fmt.Errorf("%w: %s", ErrTopicNotFound, id)
	}
	t.Concepts = append([]string(nil), t.Concepts...)
	return t, nil
}

func (m *MemoryStore) ListTopics(ctx context.Context) ([]model.Topic, error) {
	m.mu.RLock()
	out := make([]model.Topic, 0, len(m.topics))
	for _, t := range m.topics {
		t.Concepts = append([]string(nil), t.Concepts...)
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Close makes further writes fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func validateNew(ns NewSession) error {
	if ns.CandidateID == "" || ns.TopicID == "" {
		return fmt.Errorf("%w: candidate and topic are required", ErrInvalidSession)
	}
	return nil
}

func fromNew(ns NewSession, now time.Time) *model.Session {
	created := ns.CreatedAt
	if created.IsZero() {
		created = now
	}
	created = created.UTC()
	status := ns.Status
	if status == "" {
		status = model.StatusConnecting
	}
	return &model.Session{
		ID:              ns.ID,
		CandidateID:     ns.CandidateID,
		TopicID:         ns.TopicID,
		TopicTitle:      ns.TopicTitle,
		Difficulty:      ns.Difficulty,
		InviteID:        ns.InviteID,
		Mode:            ns.Mode,
		Status:          status,
		Transcript:      []model.TranscriptEntry{},
		BluffHistory:    []model.BluffSample{},
		ConceptCoverage: append([]model.ConceptCoverage{}, ns.ConceptCoverage...),
		CreatedAt:       created,
		UpdatedAt:       created,
		Version:         ns.Version,
	}
}

func newInvite(inv model.Invite, now time.Time) model.Invite {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.Status = model.InvitePending
	inv.CompletedAt = nil
	return inv
}

var _ Store = (*MemoryStore)(nil)
