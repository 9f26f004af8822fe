package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/okian/bluffmeter/internal/adapters/judge"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	"github.com/okian/bluffmeter/internal/domain/coverage"
	"github.com/okian/bluffmeter/internal/domain/debounce"
	"github.com/okian/bluffmeter/internal/domain/dedupe"
	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/scoring"
	"github.com/okian/bluffmeter/pkg/logger"
	"github.com/okian/bluffmeter/pkg/metrics"
)

const subscriberBuffer = 32

// live is the in-memory state of one running session. mu guards every field
// below it; the analysis loop, the debouncer timer and API callers all
// synchronize on it.
type live struct {
	id       string
	topic    model.Topic
	profile  difficulty.Profile
	deb      *debounce.Debouncer
	seen     dedupe.Deduper
	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	loopDone chan struct{}

	mu      sync.Mutex
	s       *model.Session
	tracker *coverage.Tracker
	pending []string
	looping bool
	subs    map[int]chan Event
	nextSub int
}

// snapshotPatch captures every mutable field under a fresh version. Writes
// always carry the full state so the newest applied version is complete.
// Caller holds mu.
func (l *live) snapshotPatch(now time.Time) repository.Patch {
	l.s.Version++
	l.s.UpdatedAt = now
	c := l.s.Clone()
	return repository.Patch{
		Version:         c.Version,
		Transcript:      c.Transcript,
		BluffHistory:    c.BluffHistory,
		ConceptCoverage: c.ConceptCoverage,
		FinalBluffScore: c.FinalBluffScore,
		Status:          c.Status,
		EndedAt:         c.EndedAt,
		UpdatedAt:       now,
	}
}

// pushUnit queues a flushed utterance for the analysis loop. Units that pile
// up while a judge call is outstanding are coalesced into one.
func (l *live) pushUnit(text string) {
	l.mu.Lock()
	if l.s.Status != model.StatusActive {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, text)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *live) takeUnit() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	text := strings.Join(l.pending, " ")
	l.pending = nil
	return text
}

// publish fans ev out without blocking. Caller holds mu.
func (l *live) publish(ev Event) {
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeSubs ends every subscription. Caller holds mu.
func (l *live) closeSubs() {
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
}

func (l *live) subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if l.s.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				close(c)
				delete(l.subs, id)
			}
		})
	}
}

// runLoop serializes judge calls for one session.
func (s *Service) runLoop(l *live) {
	defer close(l.loopDone)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}
		text := l.takeUnit()
		if text == "" {
			continue
		}
		s.analyze(l, text)
	}
}

func (s *Service) analyze(l *live, text string) {
	ctx := l.ctx
	log := s.logger.With(logger.String("session_id", l.id))

	l.mu.Lock()
	if l.s.Status != model.StatusActive {
		l.mu.Unlock()
		metrics.RecordAnalysisDropped("ended")
		return
	}
	req := judge.Request{
		Utterance:  text,
		TopicTitle: l.topic.Title,
		Concepts:   append([]string(nil), l.topic.Concepts...),
		Difficulty: l.profile,
	}
	if n := len(l.s.BluffHistory); n > 0 {
		req.Previous = &judge.Summary{BluffScore: l.s.BluffHistory[n-1].Score, Missing: l.tracker.Missing()}
	}
	l.mu.Unlock()

	jctx, cancel := context.WithTimeout(ctx, s.judgeTimeout)
	start := time.Now()
	j, err := s.judge.Judge(jctx, req)
	cancel()
	metrics.RecordJudgeLatency(s.judge.Name(), float64(time.Since(start).Milliseconds()))
	if err != nil {
		kind := judge.Kind(err)
		metrics.RecordJudgeError(kind)
		metrics.RecordAnalysisDropped("judge_error")
		if ctx.Err() == nil {
			log.Warn(ctx, "judge call failed", logger.String("kind", kind), logger.Error(err))
		}
		return
	}

	now := s.now().UTC()
	l.mu.Lock()
	// The session may have ended while the judge was thinking.
	if l.s.Status != model.StatusActive {
		l.mu.Unlock()
		metrics.RecordAnalysisDropped("ended")
		log.Debug(ctx, "judgment dropped after session end")
		return
	}
	score := s.calc.Score(j, l.tracker.Len(), l.profile)
	l.s.BluffHistory = append(l.s.BluffHistory, model.BluffSample{Score: score, Timestamp: now})
	final := score
	l.s.FinalBluffScore = &final
	changed := l.tracker.Apply(j)
	l.s.ConceptCoverage = l.tracker.Snapshot()
	patch := l.snapshotPatch(now)
	tone := scoring.Tone(score, s.threshold)
	l.publish(Event{
		Type:      EventAnalysis,
		SessionID: l.id,
		Status:    l.s.Status,
		Analysis: &Analysis{
			BluffScore: score,
			Label:      scoring.MeterLabel(score),
			Tone:       tone,
			Coverage:   append([]model.ConceptCoverage(nil), l.s.ConceptCoverage...),
			Changed:    changed,
			FollowUp:   j.FollowUp,
			Note:       j.Note,
			Timestamp:  now,
		},
	})
	// Steering follows its analysis on the same stream, so finish closing
	// the stream also drops it.
	var instruction string
	if strings.TrimSpace(j.FollowUp) != "" {
		instruction = steeringInstruction(j.FollowUp, tone, l.tracker.Missing())
		l.publish(Event{Type: EventSteering, SessionID: l.id, Status: l.s.Status, Instruction: instruction})
	}
	l.mu.Unlock()

	metrics.RecordAnalysisApplied(score)
	s.enqueue(ctx, l.id, patch)
	log.Debug(ctx, "analysis applied",
		logger.Int("bluff_score", score),
		logger.Int("changed", len(changed)),
	)

	if instruction == "" {
		return
	}
	metrics.RecordSteering(tone)
	st := s.steering()
	if st == nil || ctx.Err() != nil {
		return
	}
	if err := st.SendContextualUpdate(ctx, l.id, instruction); err != nil {
		log.Warn(ctx, "steering failed", logger.Error(err))
	}
}
