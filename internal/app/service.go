// Package service runs interview sessions: it owns their lifecycle, the
// per-session analysis loop and the write path to persistence.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/bluffmeter/internal/adapters/judge"
	"github.com/okian/bluffmeter/internal/adapters/mq/queue"
	workerpool "github.com/okian/bluffmeter/internal/adapters/mq/worker"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	"github.com/okian/bluffmeter/internal/domain/coverage"
	"github.com/okian/bluffmeter/internal/domain/debounce"
	"github.com/okian/bluffmeter/internal/domain/dedupe"
	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/scoring"
	"github.com/okian/bluffmeter/internal/domain/topics"
	"github.com/okian/bluffmeter/internal/domain/types"
	"github.com/okian/bluffmeter/pkg/logger"
	"github.com/okian/bluffmeter/pkg/metrics"
)

const (
	defaultQueueSize      = 10000
	defaultDedupeSize     = 1024
	defaultThreshold      = 60
	defaultJudgeTimeout   = 15 * time.Second
	defaultPersistTimeout = 5 * time.Second
	listLimit             = 50
)

// StartRequest opens a session.
type StartRequest struct {
	CandidateID string
	TopicID     string
	Difficulty  string
	InviteID    string
	Mode        string
}

// Message is one transcript line from the transport. ID is optional and
// used to drop replays.
type Message struct {
	ID   string
	Role model.Role
	Text string
}

// Service implements the API dependencies for interview sessions.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*live

	store   repository.Store
	judge   judge.Judge
	catalog *topics.Catalog
	board   *repository.Leaderboard
	queue   *queue.InMemoryQueue
	pool    *workerpool.Pool
	calc    *scoring.Calculator
	steerer Steerer

	// Configuration
	workerCount    int
	queueSize      int
	dedupeSize     int
	quiet          time.Duration
	afterFunc      debounce.AfterFunc
	threshold      int
	judgeTimeout   time.Duration
	persistTimeout time.Duration
	now            func() time.Time

	// State
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool

	logger logger.Logger
}

// New constructs a Service over store and j.
func New(store repository.Store, j judge.Judge, opts ...Option) *Service {
	s := &Service{
		sessions:       make(map[string]*live),
		store:          store,
		judge:          j,
		catalog:        topics.NewCatalog(store),
		board:          repository.NewLeaderboard(),
		calc:           scoring.NewCalculator(),
		workerCount:    runtime.NumCPU(),
		queueSize:      defaultQueueSize,
		dedupeSize:     defaultDedupeSize,
		quiet:          debounce.DefaultQuietPeriod,
		threshold:      defaultThreshold,
		judgeTimeout:   defaultJudgeTimeout,
		persistTimeout: defaultPersistTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("session")
	}
	return s
}

// SetSteerer installs the steering hook after construction, for transports
// that themselves depend on the service.
func (s *Service) SetSteerer(st Steerer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steerer = st
}

// Start creates the write queue and writers and seeds the leaderboard.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.store)
	s.pool.Start(s.baseCtx)

	n, err := s.board.Seed(ctx, s.store)
	if err != nil {
		s.logger.Warn(ctx, "leaderboard seed failed", logger.Error(err))
	}

	s.started = true
	s.logger.Info(ctx, "session service started",
		logger.Int("writers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Int("ranked_results", n),
		logger.String("judge", s.judge.Name()),
	)
	return nil
}

// Stop disconnects every live session and drains the write queue.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.Disconnect(ctx, id, "server shutdown"); err != nil && !errors.Is(err, ErrTerminal) {
			s.logger.Warn(ctx, "disconnect on shutdown failed", logger.String("session_id", id), logger.Error(err))
		}
	}

	err := s.pool.Shutdown(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.started = false
	s.logger.Info(ctx, "session service stopped", logger.Int64("writes", s.pool.Processed()))
	return err
}

// StartSession opens a connecting session for a candidate.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*model.Session, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	if req.InviteID != "" {
		inv, err := s.store.GetInvite(ctx, req.InviteID)
		if err != nil {
			return nil, fmt.Errorf("resolve invite: %w", err)
		}
		if req.TopicID == "" {
			req.TopicID = inv.TopicID
		}
		if req.Difficulty == "" {
			req.Difficulty = inv.Difficulty
		}
		if req.CandidateID == "" {
			req.CandidateID = inv.CandidateID
			if req.CandidateID == "" {
				req.CandidateID = inv.Email
			}
		}
	}
	if req.CandidateID == "" {
		return nil, fmt.Errorf("%w: candidate_id is required", ErrInvalidRequest)
	}
	profile, err := difficulty.Lookup(req.Difficulty)
	if err != nil {
		return nil, err
	}
	topic, err := s.catalog.Get(ctx, req.TopicID)
	if err != nil {
		return nil, err
	}

	// One live attempt per candidate and topic.
	for _, old := range s.liveFor(req.CandidateID, topic.ID) {
		if _, err := s.Disconnect(ctx, old, "superseded by a new session"); err != nil && !errors.Is(err, ErrTerminal) {
			s.logger.Warn(ctx, "disconnect superseded session failed", logger.String("session_id", old), logger.Error(err))
		}
	}
	if n, err := s.store.MarkStaleActiveSessionsDisconnected(ctx, req.CandidateID, topic.ID); err != nil {
		metrics.RecordPersistenceError("mark_stale")
		s.logger.Error(ctx, "mark stale sessions failed", logger.Error(err))
	} else if n > 0 {
		metrics.RecordPersistenceWrite("mark_stale")
		s.logger.Info(ctx, "stale sessions disconnected", logger.String("candidate_id", req.CandidateID), logger.Int("count", n))
	}

	now := s.now().UTC()
	tracker := coverage.New(topic.Concepts)
	sess := &model.Session{
		ID:              uuid.NewString(),
		CandidateID:     req.CandidateID,
		TopicID:         topic.ID,
		TopicTitle:      topic.Title,
		Difficulty:      profile.ID,
		InviteID:        req.InviteID,
		Mode:            req.Mode,
		Status:          model.StatusConnecting,
		Transcript:      []model.TranscriptEntry{},
		BluffHistory:    []model.BluffSample{},
		ConceptCoverage: tracker.Snapshot(),
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	lctx, cancel := context.WithCancel(s.base())
	l := &live{
		id:       sess.ID,
		topic:    topic,
		profile:  profile,
		seen:     dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize)),
		ctx:      lctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		s:        sess,
		tracker:  tracker,
		subs:     make(map[int]chan Event),
	}
	debOpts := []debounce.Option{debounce.WithQuietPeriod(s.quiet), debounce.WithClock(s.now)}
	if s.afterFunc != nil {
		debOpts = append(debOpts, debounce.WithAfterFunc(s.afterFunc))
	}
	l.deb = debounce.New(l.pushUnit, debOpts...)

	if _, err := s.store.CreateSession(ctx, repository.NewSession{
		ID:              sess.ID,
		CandidateID:     sess.CandidateID,
		TopicID:         sess.TopicID,
		TopicTitle:      sess.TopicTitle,
		Difficulty:      sess.Difficulty,
		InviteID:        sess.InviteID,
		Mode:            sess.Mode,
		Status:          sess.Status,
		ConceptCoverage: sess.ConceptCoverage,
		CreatedAt:       now,
		Version:         sess.Version,
	}); err != nil {
		metrics.RecordPersistenceError("create")
		s.logger.Error(ctx, "create session failed", logger.String("session_id", sess.ID), logger.Error(err))
	} else {
		metrics.RecordPersistenceWrite("create")
	}

	s.mu.Lock()
	s.sessions[sess.ID] = l
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.RecordSessionStarted()
	metrics.UpdateActiveSessions(active)
	s.logger.Info(ctx, "session started",
		logger.String("session_id", sess.ID),
		logger.String("candidate_id", sess.CandidateID),
		logger.String("topic_id", sess.TopicID),
		logger.String("difficulty", sess.Difficulty),
	)
	return sess.Clone(), nil
}

// Connected marks the transport live: connecting becomes active and the
// analysis loop starts. Calling it on an active session is a no-op.
func (s *Service) Connected(ctx context.Context, id string) (*model.Session, error) {
	l, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.s.Status {
	case model.StatusActive:
		// Repeat connects change nothing but still announce the status.
		l.publish(Event{Type: EventStatus, SessionID: id, Status: model.StatusActive})
		return l.s.Clone(), nil
	case model.StatusConnecting, model.StatusIdle:
	default:
		return nil, fmt.Errorf("%w: %s", ErrTerminal, l.s.Status)
	}
	l.s.Status = model.StatusActive
	patch := l.snapshotPatch(s.now().UTC())
	if !l.looping {
		l.looping = true
		go s.runLoop(l)
	}
	l.publish(Event{Type: EventStatus, SessionID: id, Status: model.StatusActive})
	s.enqueue(ctx, id, patch)
	return l.s.Clone(), nil
}

// OnMessage appends a transcript line. Candidate lines also feed the
// debouncer. It reports false when the message id was already applied.
func (s *Service) OnMessage(ctx context.Context, id string, msg Message) (bool, error) {
	if !msg.Role.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return false, ErrEmptyText
	}
	l, err := s.lookup(ctx, id)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	if l.s.Status != model.StatusActive {
		status := l.s.Status
		l.mu.Unlock()
		if status.Terminal() {
			return false, fmt.Errorf("%w: %s", ErrTerminal, status)
		}
		return false, fmt.Errorf("%w: %s", ErrNotActive, status)
	}
	if msg.ID != "" && l.seen.SeenAndRecord(ctx, msg.ID) {
		l.mu.Unlock()
		metrics.RecordDuplicateMessage()
		return false, nil
	}
	now := s.now().UTC()
	l.s.Transcript = append(l.s.Transcript, model.TranscriptEntry{Role: msg.Role, Text: text, Timestamp: now})
	patch := l.snapshotPatch(now)
	l.mu.Unlock()

	metrics.RecordMessage(string(msg.Role))
	s.enqueue(ctx, id, patch)
	if msg.Role == model.RoleUser {
		l.deb.Add(text)
	}
	return true, nil
}

// End completes a session. It is the only path that completes an invite or
// ranks the candidate.
func (s *Service) End(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.finish(ctx, id, model.StatusCompleted, "ended")
	if err != nil {
		return nil, err
	}

	if sess.InviteID != "" {
		if err := s.store.MarkInviteCompleted(ctx, sess.InviteID, *sess.EndedAt); err != nil {
			metrics.RecordPersistenceError("invite")
			s.logger.Error(ctx, "complete invite failed", logger.String("invite_id", sess.InviteID), logger.Error(err))
		} else {
			metrics.RecordPersistenceWrite("invite")
		}
	}
	if sess.FinalBluffScore != nil {
		if err := s.board.Record(ctx, sess.CandidateID, *sess.FinalBluffScore); err != nil {
			s.logger.Warn(ctx, "leaderboard record failed", logger.Error(err))
		}
	}
	return sess, nil
}

// Disconnect ends a session without completing it, for unload beacons and
// closed sockets.
func (s *Service) Disconnect(ctx context.Context, id, reason string) (*model.Session, error) {
	return s.finish(ctx, id, model.StatusDisconnected, reason)
}

// OnTransportError disconnects after a transport failure. The client may
// start a new session.
func (s *Service) OnTransportError(ctx context.Context, id, reason string) (*model.Session, error) {
	s.logger.Warn(ctx, "transport error", logger.String("session_id", id), logger.String("reason", reason))
	return s.finish(ctx, id, model.StatusDisconnected, "transport error: "+reason)
}

func (s *Service) finish(ctx context.Context, id string, to model.Status, reason string) (*model.Session, error) {
	l, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.s.Status.Terminal() {
		status := l.s.Status
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTerminal, status)
	}
	now := s.now().UTC()
	l.s.Status = to
	l.s.EndedAt = &now
	l.pending = nil
	patch := l.snapshotPatch(now)
	sess := l.s.Clone()
	l.publish(Event{Type: EventStatus, SessionID: id, Status: to, Reason: reason})
	l.closeSubs()
	l.mu.Unlock()

	if dropped := l.deb.Discard(); dropped != "" {
		metrics.RecordAnalysisDropped("ended")
	}
	l.cancel()

	s.mu.Lock()
	delete(s.sessions, id)
	active := len(s.sessions)
	s.mu.Unlock()
	metrics.UpdateActiveSessions(active)
	metrics.RecordSessionEnded(string(to))

	if err := s.persistSync(ctx, id, patch); err != nil {
		s.logger.Error(ctx, "final session write failed", logger.String("session_id", id), logger.Error(err))
	}
	s.logger.Info(ctx, "session ended",
		logger.String("session_id", id),
		logger.String("status", string(to)),
		logger.String("reason", reason),
		logger.Int("samples", len(sess.BluffHistory)),
	)
	return sess, nil
}

// Subscribe streams analysis and status events of a live session. The
// channel closes when the session ends or cancel is called.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	l, err := s.lookup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := l.subscribe()
	return ch, cancel, nil
}

// GetSession returns the live snapshot, or the stored record.
func (s *Service) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if l := s.get(id); l != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.s.Clone(), nil
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionUnknown, id)
		}
		return nil, err
	}
	return sess, nil
}

// ListSessions returns a candidate's stored sessions, newest first, with
// live sessions shown at their in-memory state.
func (s *Service) ListSessions(ctx context.Context, candidateID string, limit int) ([]*model.Session, error) {
	if limit < 1 {
		limit = listLimit
	}
	list, err := s.store.ListSessions(ctx, candidateID, limit)
	if err != nil {
		return nil, err
	}
	for i, sess := range list {
		if l := s.get(sess.ID); l != nil {
			l.mu.Lock()
			list[i] = l.s.Clone()
			l.mu.Unlock()
		}
	}
	return list, nil
}

// Summary derives the results analytics of a session.
func (s *Service) Summary(sess *model.Session) types.Summary {
	return scoring.Summarize(sess, s.now().UTC())
}

// TopN returns the best n candidates.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	return s.board.TopN(ctx, n)
}

// Rank returns one candidate's standing.
func (s *Service) Rank(ctx context.Context, candidateID string) (types.Entry, error) {
	return s.board.Rank(ctx, candidateID)
}

// Topics lists the topic catalog.
func (s *Service) Topics(ctx context.Context) ([]model.Topic, error) {
	return s.catalog.List(ctx)
}

// Topic resolves one topic.
func (s *Service) Topic(ctx context.Context, id string) (model.Topic, error) {
	return s.catalog.Get(ctx, id)
}

// CreateTopic stores a custom topic.
func (s *Service) CreateTopic(ctx context.Context, t model.Topic) (model.Topic, error) {
	return s.catalog.Create(ctx, t)
}

// CreateInvite links a candidate to a topic.
func (s *Service) CreateInvite(ctx context.Context, inv model.Invite) (model.Invite, error) {
	if strings.TrimSpace(inv.CandidateID) == "" && strings.TrimSpace(inv.Email) == "" {
		return model.Invite{}, fmt.Errorf("%w: candidate_id or invite_email is required", ErrInvalidRequest)
	}
	if _, err := s.catalog.Get(ctx, inv.TopicID); err != nil {
		return model.Invite{}, err
	}
	p, err := difficulty.Lookup(inv.Difficulty)
	if err != nil {
		return model.Invite{}, err
	}
	inv.Difficulty = p.ID
	inv.CreatedAt = s.now().UTC()
	return s.store.CreateInvite(ctx, inv)
}

// GetInvite returns one invite.
func (s *Service) GetInvite(ctx context.Context, id string) (model.Invite, error) {
	return s.store.GetInvite(ctx, id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":               s.started,
		"judge":                 s.judge.Name(),
		"live_sessions":         len(s.sessions),
		"writer_count":          s.workerCount,
		"queue_capacity":        s.queueSize,
		"dedupe_size":           s.dedupeSize,
		"adversarial_threshold": s.threshold,
		"ranked_candidates":     s.board.Count(ctx),
	}
	if s.started {
		stats["queue_length"] = s.queue.Len(ctx)
		stats["writes_processed"] = s.pool.Processed()
	}
	return stats
}

// enqueue hands a patch to the writers. Failures are logged and counted;
// in-memory state is never rolled back.
func (s *Service) enqueue(ctx context.Context, id string, p repository.Patch) {
	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()
	if q == nil {
		return
	}
	if err := q.Enqueue(context.WithoutCancel(ctx), queue.Job{SessionID: id, Patch: p}); err != nil {
		metrics.RecordPersistenceError("enqueue")
		s.logger.Warn(ctx, "session write not queued",
			logger.String("session_id", id),
			logger.Int64("version", p.Version),
			logger.Error(err),
		)
	}
}

// persistSync writes p through the queue and waits for the writer. When the
// queue refuses the job the store is written directly.
func (s *Service) persistSync(ctx context.Context, id string, p repository.Patch) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()

	done := make(chan error, 1)
	if q == nil || q.Enqueue(ctx, queue.Job{SessionID: id, Patch: p, Done: done}) != nil {
		applied, err := s.store.UpdateSession(ctx, id, p)
		if err != nil {
			metrics.RecordPersistenceError("update")
			return err
		}
		if applied {
			metrics.RecordPersistenceWrite("update")
		} else {
			metrics.RecordStaleWrite()
		}
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait for session write: %w", ctx.Err())
	}
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) steering() Steerer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steerer
}

func (s *Service) base() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

func (s *Service) get(id string) *live {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// lookup returns the live session, or ErrTerminal when the id is stored but
// no longer live.
func (s *Service) lookup(ctx context.Context, id string) (*live, error) {
	if l := s.get(id); l != nil {
		return l, nil
	}
	sess, err := s.store.GetSession(ctx, id)
	if err == nil && sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, sess.Status)
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionUnknown, id)
}

func (s *Service) liveFor(candidateID, topicID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, l := range s.sessions {
		if l.topic.ID == topicID && l.s.CandidateID == candidateID {
			ids = append(ids, id)
		}
	}
	return ids
}
