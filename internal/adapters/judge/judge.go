// Package judge adapts language-model backends into structured judgments of
// one candidate utterance.
package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/model"
)

// Summary carries the previous turn so the judge can reason about trajectory.
type Summary struct {
	BluffScore int
	Missing    []string
}

// Request is one analysis unit plus the topic context.
type Request struct {
	Utterance  string
	TopicTitle string
	Concepts   []string
	Difficulty difficulty.Profile
	Previous   *Summary
}

// Validate rejects requests no backend could answer.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Utterance) == "" {
		return fmt.Errorf("%w: empty utterance", ErrInvalidRequest)
	}
	if len(r.Concepts) == 0 {
		return fmt.Errorf("%w: no concepts", ErrInvalidRequest)
	}
	return nil
}

// Judge turns one utterance into a Judgment. Implementations restrict every
// returned concept name to Request.Concepts.
type Judge interface {
	Judge(ctx context.Context, req Request) (model.Judgment, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}
