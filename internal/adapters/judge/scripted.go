package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
)

// Step is one scripted judge reply.
type Step struct {
	Judgment model.Judgment
	Err      error
	// Delay holds the reply back, honoring ctx.
	Delay time.Duration
	// Release, when set, holds the reply until it is closed or ctx ends.
	Release <-chan struct{}
}

// ScriptedJudge replays queued steps in order. Once the script is exhausted
// it falls back to a keyword heuristic so local runs never stall.
type ScriptedJudge struct {
	mu    sync.Mutex
	steps []Step
	calls []Request
}

// NewScripted creates a judge that replays steps.
func NewScripted(steps ...Step) *ScriptedJudge {
	return &ScriptedJudge{steps: append([]Step(nil), steps...)}
}

// Push appends steps to the script.
func (s *ScriptedJudge) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Calls returns every request received so far.
func (s *ScriptedJudge) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Name implements Judge.
func (s *ScriptedJudge) Name() string { return "scripted" }

// Judge implements Judge.
func (s *ScriptedJudge) Judge(ctx context.Context, req Request) (model.Judgment, error) {
	if err := req.Validate(); err != nil {
		return model.Judgment{}, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	var (
		step   Step
		queued bool
	)
	if len(s.steps) > 0 {
		step, s.steps, queued = s.steps[0], s.steps[1:], true
	}
	s.mu.Unlock()

	if !queued {
		return keywordJudgment(req), nil
	}
	if err := wait(ctx, step); err != nil {
		return model.Judgment{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if step.Err != nil {
		return model.Judgment{}, step.Err
	}
	return normalize(step.Judgment, req.Concepts), nil
}

func wait(ctx context.Context, step Step) error {
	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if step.Release != nil {
		select {
		case <-step.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// normalize applies the same concept filtering as the real backends.
func normalize(j model.Judgment, concepts []string) model.Judgment {
	canon := make(map[string]string, len(concepts))
	for _, c := range concepts {
		canon[strings.ToLower(strings.TrimSpace(c))] = c
	}
	if j.MissingReported == 0 {
		j.MissingReported = len(j.Missing)
	}
	j.Clear = restrict(j.Clear, canon)
	j.Shallow = restrict(j.Shallow, canon)
	j.Missing = restrict(j.Missing, canon)
	return j
}

var fillerWords = []string{"basically", "obviously", "simply", "clearly", "of course", "just", "kind of", "sort of"} //nolint:gochecknoglobals // static word list

// detailedAnswerWords is the length at which a mentioned concept counts as
// explained rather than name-dropped.
const detailedAnswerWords = 25

// keywordJudgment is an offline heuristic: a concept counts as mentioned when
// its name appears in the utterance.
func keywordJudgment(req Request) model.Judgment {
	text := strings.ToLower(req.Utterance)
	words := len(strings.Fields(text))

	var j model.Judgment
	for _, c := range req.Concepts {
		if !strings.Contains(text, strings.ToLower(c)) {
			j.Missing = append(j.Missing, c)
			continue
		}
		if words >= detailedAnswerWords {
			j.Clear = append(j.Clear, c)
		} else {
			j.Shallow = append(j.Shallow, c)
		}
	}
	j.MissingReported = len(j.Missing)

	fillers := 0
	for _, f := range fillerWords {
		fillers += strings.Count(text, f)
	}
	j.ConfidenceLanguage = fillers > 0
	j.Vagueness = float64(min(10, fillers*2+len(j.Shallow)))
	j.Depth = float64(min(10, 2*len(j.Clear)))

	if len(j.Missing) > 0 {
		j.FollowUp = fmt.Sprintf("Can you walk me through %s and how it applies here?", j.Missing[0])
	}
	j.Note = "keyword heuristic"
	return j
}
