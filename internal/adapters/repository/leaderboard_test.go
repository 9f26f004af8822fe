package repository_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/bluffmeter/internal/adapters/repository"
	"github.com/okian/bluffmeter/internal/domain/types"
)

func TestLeaderboard(t *testing.T) {
	Convey("Given an empty leaderboard", t, func() {
		ctx := context.Background()
		lb := repository.NewLeaderboard()

		So(lb.Count(ctx), ShouldEqual, 0)
		top, err := lb.TopN(ctx, 5)
		So(err, ShouldBeNil)
		So(top, ShouldBeEmpty)

		Convey("When candidates record scores", func() {
			So(lb.Record(ctx, "carol", 40), ShouldBeNil)
			So(lb.Record(ctx, "alice", 20), ShouldBeNil)
			So(lb.Record(ctx, "alice", 40), ShouldBeNil) // avg 30
			So(lb.Record(ctx, "bob", 30), ShouldBeNil)
			So(lb.Record(ctx, "dave", 90), ShouldBeNil)

			Convey("Then lower averages rank first and ties share a rank by id", func() {
				top, err := lb.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldResemble, []types.Entry{
					{Rank: 1, CandidateID: "alice", AverageScore: 30, BestScore: 20, Sessions: 2},
					{Rank: 1, CandidateID: "bob", AverageScore: 30, BestScore: 30, Sessions: 1},
					{Rank: 3, CandidateID: "carol", AverageScore: 40, BestScore: 40, Sessions: 1},
					{Rank: 4, CandidateID: "dave", AverageScore: 90, BestScore: 90, Sessions: 1},
				})
			})

			Convey("Then Rank agrees with TopN", func() {
				e, err := lb.Rank(ctx, "bob")
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 1)
				e, err = lb.Rank(ctx, "dave")
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 4)
				So(lb.Count(ctx), ShouldEqual, 4)
			})

			Convey("Then TopN truncates", func() {
				top, err := lb.TopN(ctx, 2)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 2)
				So(top[1].CandidateID, ShouldEqual, "bob")
			})
		})

		Convey("When inputs are invalid", func() {
			So(errors.Is(lb.Record(ctx, "x", 101), repository.ErrInvalidScore), ShouldBeTrue)
			So(errors.Is(lb.Record(ctx, "", 10), repository.ErrInvalidScore), ShouldBeTrue)
			_, err := lb.TopN(ctx, 0)
			So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
			_, err = lb.Rank(ctx, "ghost")
			So(errors.Is(err, repository.ErrCandidateNotFound), ShouldBeTrue)
		})
	})
}

func TestLeaderboardMatchesSort(t *testing.T) {
	Convey("Given many random recordings", t, func() {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(7, 11))
		lb := repository.NewLeaderboard(repository.WithPrioritySource(rng.Uint64))

		sums := map[string][2]int{}
		for i := 0; i < 2000; i++ {
			id := fmt.Sprintf("c%03d", rng.IntN(150))
			score := rng.IntN(101)
			So(lb.Record(ctx, id, score), ShouldBeNil)
			v := sums[id]
			sums[id] = [2]int{v[0] + score, v[1] + 1}
		}

		Convey("Then the in-order traversal equals a full sort", func() {
			ids := make([]string, 0, len(sums))
			for id := range sums {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				a, b := sums[ids[i]], sums[ids[j]]
				if l, r := a[0]*b[1], b[0]*a[1]; l != r {
					return l < r
				}
				return ids[i] < ids[j]
			})

			top, err := lb.TopN(ctx, len(ids))
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, len(ids))
			for i, e := range top {
				So(e.CandidateID, ShouldEqual, ids[i])
				r, err := lb.Rank(ctx, e.CandidateID)
				So(err, ShouldBeNil)
				So(r.Rank, ShouldEqual, e.Rank)
			}
		})
	})
}

func TestLeaderboardSeed(t *testing.T) {
	Convey("Given a store with completed sessions", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		for _, c := range []struct {
			cand  string
			score int
		}{{"ann", 10}, {"ben", 50}, {"ann", 30}} {
			id, err := store.CreateSession(ctx, newSession(c.cand, "databases"))
			So(err, ShouldBeNil)
			_, err = store.UpdateSession(ctx, id, repository.Patch{Version: 2, FinalBluffScore: intPtr(c.score), Status: "completed"})
			So(err, ShouldBeNil)
		}

		Convey("When the leaderboard is seeded", func() {
			lb := repository.NewLeaderboard()
			n, err := lb.Seed(ctx, store)

			Convey("Then every completed score is ranked", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
				e, err := lb.Rank(ctx, "ann")
				So(err, ShouldBeNil)
				So(e.AverageScore, ShouldEqual, 20)
				So(e.Sessions, ShouldEqual, 2)
				So(e.Rank, ShouldEqual, 1)
			})
		})
	})
}
