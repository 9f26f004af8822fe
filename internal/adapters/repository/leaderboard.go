package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/okian/bluffmeter/internal/domain/types"
	"github.com/okian/bluffmeter/pkg/metrics"
)

// Treap-based, in-memory ranking of candidates.
//
// Ordering: average final score ASC, then candidate id ASC. Lower bluff
// scores rank earlier, so an in-order traversal yields the leaderboard from
// best to worst. Averages are compared as exact fractions sum/count.

type standing struct {
	sum   int64
	count int64
	best  int
}

func (s standing) average() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.count)
}

// cmpAvg compares a.sum/a.count with b.sum/b.count without division.
func cmpAvg(a, b standing) int {
	l, r := a.sum*b.count, b.sum*a.count
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

type node struct {
	id    string
	st    standing
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (a, aID) ranks before (b, bID).
func less(a standing, aID string, b standing, bID string) bool {
	if c := cmpAvg(a, b); c != 0 {
		return c < 0
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, st standing, prio uint64) *node {
	if n == nil {
		return &node{id: id, st: st, prio: prio, size: 1}
	}
	if less(st, id, n.st, n.id) {
		n.left = insert(n.left, id, st, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, st, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, st standing) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, st)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, st)
		}
	case less(st, id, n.st, n.id):
		n.left = deleteNode(n.left, id, st)
	default:
		n.right = deleteNode(n.right, id, st)
	}
	fix(n)
	return n
}

// countBelow counts candidates whose average is strictly lower than st's.
func countBelow(n *node, st standing) int {
	total := 0
	for n != nil {
		if cmpAvg(n.st, st) < 0 {
			total += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return total
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, entryOf(n.id, n.st))
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

func entryOf(id string, st standing) types.Entry {
	return types.Entry{
		CandidateID:  id,
		AverageScore: st.average(),
		BestScore:    st.best,
		Sessions:     int(st.count),
	}
}

// Leaderboard ranks candidates by their average final bluff score.
type Leaderboard struct {
	mu   sync.RWMutex
	root *node
	byID map[string]standing
	prio func() uint64
}

// NewLeaderboard constructs an empty leaderboard.
func NewLeaderboard(opts ...LeaderboardOption) *Leaderboard {
	l := &Leaderboard{
		byID: make(map[string]standing),
		prio: rand.Uint64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record adds one completed session score for a candidate in O(log n)
// expected time.
func (l *Leaderboard) Record(ctx context.Context, candidateID string, score int) error {
	if candidateID == "" {
		return fmt.Errorf("%w: empty candidate id", ErrInvalidScore)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidScore, score)
	}

	l.mu.Lock()
	st, ok := l.byID[candidateID]
	if ok {
		l.root = deleteNode(l.root, candidateID, st)
		if score < st.best {
			st.best = score
		}
	} else {
		st.best = score
	}
	st.sum += int64(score)
	st.count++
	l.byID[candidateID] = st
	l.root = insert(l.root, candidateID, st, l.prio())
	n := len(l.byID)
	l.mu.Unlock()

	metrics.UpdateLeaderboardEntries(n)
	return nil
}

// Rank returns a candidate's standing. Candidates with equal averages share
// a rank and the next rank skips accordingly.
func (l *Leaderboard) Rank(ctx context.Context, candidateID string) (types.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.byID[candidateID]
	if !ok {
		return types.Entry{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
	}
	e := entryOf(candidateID, st)
	e.Rank = countBelow(l.root, st) + 1
	return e, nil
}

// TopN returns the best n candidates.
func (l *Leaderboard) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Entry, 0, min(n, len(l.byID)))
	collectTopN(l.root, n, &out)
	assignRanksWithTies(out, l.byID)
	return out, nil
}

// Count returns the number of ranked candidates.
func (l *Leaderboard) Count(ctx context.Context) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// Seed records every completed score from src.
func (l *Leaderboard) Seed(ctx context.Context, src SessionStore) (int, error) {
	scores, err := src.CompletedScores(ctx)
	if err != nil {
		return 0, fmt.Errorf("load completed scores: %w", err)
	}
	seeded := 0
	for _, cs := range scores {
		if err := l.Record(ctx, cs.CandidateID, cs.Score); err != nil {
			continue
		}
		seeded++
	}
	return seeded, nil
}

// assignRanksWithTies gives equal averages the same rank, competition style
// (1, 2, 2, 4).
func assignRanksWithTies(entries []types.Entry, byID map[string]standing) {
	for i := range entries {
		if i > 0 && cmpAvg(byID[entries[i].CandidateID], byID[entries[i-1].CandidateID]) == 0 {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
