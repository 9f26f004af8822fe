// Package coverage tracks which topic concepts a candidate has demonstrated.
package coverage

import (
	"strings"

	"github.com/okian/bluffmeter/internal/domain/model"
)

// Tracker is the knowledge map of one session. Concept statuses only move
// upward: missing -> shallow -> clear. Not safe for concurrent use; the
// owning session serializes access.
type Tracker struct {
	order  []string       // canonical names in topic order
	index  map[string]int // case-folded name -> position in order
	status []model.ConceptStatus
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// New seeds every concept as missing.
func New(concepts []string) *Tracker {
	t := &Tracker{
		order:  make([]string, 0, len(concepts)),
		index:  make(map[string]int, len(concepts)),
		status: make([]model.ConceptStatus, 0, len(concepts)),
	}
	for _, c := range concepts {
		k := key(c)
		if k == "" {
			continue
		}
		if _, dup := t.index[k]; dup {
			continue
		}
		t.index[k] = len(t.order)
		t.order = append(t.order, strings.TrimSpace(c))
		t.status = append(t.status, model.ConceptMissing)
	}
	return t
}

// Restore builds a tracker from a persisted snapshot. Concepts not in the
// snapshot start missing.
func Restore(concepts []string, snapshot []model.ConceptCoverage) *Tracker {
	t := New(concepts)
	for _, c := range snapshot {
		if i, ok := t.index[key(c.Concept)]; ok && c.Status.Strength() > t.status[i].Strength() {
			t.status[i] = c.Status
		}
	}
	return t
}

// Apply folds one judgment into the map and returns the concepts whose status
// changed. The judgment's missing set never downgrades anything, and names
// outside the topic are ignored.
func (t *Tracker) Apply(j model.Judgment) []model.ConceptCoverage {
	target := make(map[int]model.ConceptStatus, len(j.Clear)+len(j.Shallow))
	for _, name := range j.Shallow {
		if i, ok := t.index[key(name)]; ok {
			target[i] = model.ConceptShallow
		}
	}
	for _, name := range j.Clear {
		if i, ok := t.index[key(name)]; ok {
			target[i] = model.ConceptClear
		}
	}

	var changed []model.ConceptCoverage
	for i := range t.order {
		next, ok := target[i]
		if !ok || next.Strength() <= t.status[i].Strength() {
			continue
		}
		t.status[i] = next
		changed = append(changed, model.ConceptCoverage{Concept: t.order[i], Status: next})
	}
	return changed
}

// Snapshot returns the map in topic order.
func (t *Tracker) Snapshot() []model.ConceptCoverage {
	out := make([]model.ConceptCoverage, len(t.order))
	for i, name := range t.order {
		out[i] = model.ConceptCoverage{Concept: name, Status: t.status[i]}
	}
	return out
}

// Counts returns how many concepts are clear, shallow and missing.
func (t *Tracker) Counts() (clear, shallow, missing int) {
	for _, s := range t.status {
		switch s {
		case model.ConceptClear:
			clear++
		case model.ConceptShallow:
			shallow++
		default:
			missing++
		}
	}
	return clear, shallow, missing
}

// Missing lists the concepts not demonstrated yet.
func (t *Tracker) Missing() []string {
	var out []string
	for i, s := range t.status {
		if s == model.ConceptMissing {
			out = append(out, t.order[i])
		}
	}
	return out
}

// Status returns the status of one concept.
func (t *Tracker) Status(concept string) (model.ConceptStatus, bool) {
	i, ok := t.index[key(concept)]
	if !ok {
		return "", false
	}
	return t.status[i], true
}

// Len is the number of tracked concepts.
func (t *Tracker) Len() int { return len(t.order) }
