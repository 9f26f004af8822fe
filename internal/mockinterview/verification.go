package mockinterview

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
)

// verify checks the stored record: completed, at least one bluff sample, and
// a coverage map that never moved a concept backwards.
func verify(r *Report) error {
	if r.Status != model.StatusCompleted {
		return fmt.Errorf("%w: status is %s, want %s", ErrVerification, r.Status, model.StatusCompleted)
	}
	if r.Samples == 0 {
		return fmt.Errorf("%w: no bluff samples recorded", ErrVerification)
	}
	if r.FinalScore == nil {
		return fmt.Errorf("%w: completed session has no final score", ErrVerification)
	}

	steps := append(append([][]model.ConceptCoverage(nil), r.coverageLogs...), r.Coverage)
	for i := 1; i < len(steps); i++ {
		if err := monotonic(steps[i-1], steps[i]); err != nil {
			return fmt.Errorf("%w: coverage step %d: %w", ErrVerification, i, err)
		}
	}
	return nil
}

// monotonic reports a concept whose status dropped between two snapshots.
func monotonic(before, after []model.ConceptCoverage) error {
	now := make(map[string]model.ConceptStatus, len(after))
	for _, c := range after {
		now[strings.ToLower(c.Concept)] = c.Status
	}
	for _, c := range before {
		st, ok := now[strings.ToLower(c.Concept)]
		if !ok {
			return fmt.Errorf("concept %q disappeared", c.Concept)
		}
		if st.Strength() < c.Status.Strength() {
			return fmt.Errorf("concept %q regressed from %s to %s", c.Concept, c.Status, st)
		}
	}
	return nil
}

func displayReport(out io.Writer, r *Report) {
	final := "-"
	if r.FinalScore != nil {
		final = fmt.Sprintf("%d", *r.FinalScore)
	}
	fmt.Fprintf(out, `
result    %s
   status:    %s
   analyses:  %d (steering %d, acks %d)
   samples:   %d
   final:     %s (%s, %s)
   coverage:  clear %d, shallow %d, missing %d
   duration:  %s
`, r.SessionID, r.Status, r.Analyses, r.Steering, r.Acks, r.Samples,
		final, r.Summary.MeterLabel, r.Summary.Grade,
		r.Summary.Clear, r.Summary.Shallow, r.Summary.Missing, r.Duration.Round(time.Millisecond))
}
