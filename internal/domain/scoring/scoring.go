// Package scoring turns judgments into bluff scores and derives the labels
// shown next to them.
package scoring

import (
	"math"
	"time"

	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/types"
)

const (
	maxScoreValue = 100
	maxVagueness  = 10
)

// Weights are the multipliers of the three bluff signals.
type Weights struct {
	Vagueness  float64
	Missing    float64
	Confidence float64
}

// DefaultWeights sum to one so every score is already within 0..100.
var DefaultWeights = Weights{Vagueness: 0.4, Missing: 0.4, Confidence: 0.2} //nolint:gochecknoglobals // constant policy

// Score computes the bluff score of one judgment against a topic of total
// concepts. The missing term uses the judge's raw missing count so names
// that did not match the topic still count.
func Score(j model.Judgment, total int, w Weights) int {
	missingRatio := 0.0
	if total > 0 {
		missingRatio = math.Min(1, float64(j.MissingReported)/float64(total))
	}
	vagueness := math.Max(0, math.Min(maxVagueness, j.Vagueness)) / maxVagueness
	confidence := 0.0
	if j.ConfidenceLanguage {
		confidence = 1
	}

	raw := vagueness*w.Vagueness + missingRatio*w.Missing + confidence*w.Confidence
	score := int(math.Round(raw * maxScoreValue))
	switch {
	case score < 0:
		return 0
	case score > maxScoreValue:
		return maxScoreValue
	}
	return score
}

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithDifficultyWeights scores with the session profile's weights. Harder
// profiles then amplify penalties; results still clamp to 100.
func WithDifficultyWeights(enabled bool) Option {
	return func(c *Calculator) {
		c.useDifficulty = enabled
	}
}

// WithWeights replaces the fixed weights.
func WithWeights(w Weights) Option {
	return func(c *Calculator) {
		if w.Vagueness >= 0 && w.Missing >= 0 && w.Confidence >= 0 {
			c.fixed = w
		}
	}
}

// Calculator holds the weight policy for a service.
type Calculator struct {
	fixed         Weights
	useDifficulty bool
}

// NewCalculator creates a Calculator that uses DefaultWeights unless told
// otherwise.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{fixed: DefaultWeights}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Weights returns the weights applied to sessions of profile p.
func (c *Calculator) Weights(p difficulty.Profile) Weights {
	if !c.useDifficulty {
		return c.fixed
	}
	return Weights{Vagueness: p.VaguenessWeight, Missing: p.MissingWeight, Confidence: p.ConfidenceWeight}
}

// Score scores j for a session of profile p.
func (c *Calculator) Score(j model.Judgment, total int, p difficulty.Profile) int {
	return Score(j, total, c.Weights(p))
}

// Grade is the post-interview verdict for a score.
func Grade(score int) string {
	switch {
	case score < 20:
		return "Expert"
	case score < 40:
		return "Solid"
	case score < 60:
		return "Surface"
	case score < 80:
		return "Bluffer"
	default:
		return "Exposed"
	}
}

// MeterLabel is the live meter caption for a score.
func MeterLabel(score int) string {
	switch {
	case score < 20:
		return "Genuine"
	case score < 40:
		return "Mostly Clear"
	case score < 60:
		return "Getting Vague"
	case score < 80:
		return "Likely Bluffing"
	default:
		return "Full Bluff"
	}
}

// Steering tones.
const (
	ToneAggressive = "aggressive"
	ToneProbing    = "probing"
)

// Tone picks the follow-up delivery for score.
func Tone(score, threshold int) string {
	if score >= threshold {
		return ToneAggressive
	}
	return ToneProbing
}

// Summarize derives the results-page analytics of a session. Open sessions
// are measured up to now.
func Summarize(s *model.Session, now time.Time) types.Summary {
	var sum types.Summary
	for _, c := range s.ConceptCoverage {
		switch c.Status {
		case model.ConceptClear:
			sum.Clear++
		case model.ConceptShallow:
			sum.Shallow++
		default:
			sum.Missing++
		}
	}

	total := 0
	for _, b := range s.BluffHistory {
		total += b.Score
		if b.Score > sum.PeakScore {
			sum.PeakScore = b.Score
		}
	}
	sum.Samples = len(s.BluffHistory)
	if sum.Samples > 0 {
		sum.AverageScore = math.Round(float64(total)/float64(sum.Samples)*10) / 10
	}

	final := 0
	if s.FinalBluffScore != nil {
		final = *s.FinalBluffScore
	}
	sum.Grade = Grade(final)
	sum.MeterLabel = MeterLabel(final)

	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if !s.CreatedAt.IsZero() && end.After(s.CreatedAt) {
		sum.Duration = end.Sub(s.CreatedAt)
	}
	return sum
}
