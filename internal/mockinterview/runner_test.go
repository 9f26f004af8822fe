package mockinterview_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/bluffmeter/internal/adapters/http/api"
	"github.com/okian/bluffmeter/internal/adapters/http/ws"
	"github.com/okian/bluffmeter/internal/adapters/judge"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/mockinterview"
	"github.com/okian/bluffmeter/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func newServer(ctx context.Context, j judge.Judge) (*httptest.Server, *repository.MemoryStore, func()) {
	store := repository.NewMemoryStore()
	svc := service.New(store, j, service.WithQuietPeriod(30*time.Millisecond))
	handler := ws.NewHandler(svc)
	So(svc.Start(ctx), ShouldBeNil)

	mux := http.NewServeMux()
	api.NewServer(svc, 100).Register(ctx, mux)
	handler.Register(ctx, mux)
	srv := httptest.NewServer(mux)
	return srv, store, func() {
		srv.Close()
		_ = svc.Stop(ctx)
	}
}

// overlapWriter records whether two writes were ever in flight at once.
type overlapWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (w *overlapWriter) Write(p []byte) (int, error) {
	if w.inFlight.Add(1) > 1 {
		w.overlap.Store(true)
	}
	defer w.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func fastConfig(url string) mockinterview.Config {
	return mockinterview.Config{
		BaseURL:     url,
		CandidateID: "mock-1",
		TopicID:     "databases",
		Gap:         5 * time.Millisecond,
		Pause:       200 * time.Millisecond,
		Settle:      200 * time.Millisecond,
		Timeout:     2 * time.Second,
	}
}

func TestRun(t *testing.T) {
	Convey("Given a running server with the offline judge", t, func() {
		ctx := context.Background()
		srv, store, stop := newServer(ctx, judge.NewScripted())
		Reset(stop)

		Convey("When the default interview is played", func() {
			var out bytes.Buffer
			report, err := mockinterview.Run(ctx, fastConfig(srv.URL), &out)

			Convey("Then the stored session passes verification", func() {
				So(err, ShouldBeNil)
				So(report.Status, ShouldEqual, model.StatusCompleted)
				So(report.Analyses, ShouldBeGreaterThanOrEqualTo, 1)
				So(report.Samples, ShouldBeGreaterThanOrEqualTo, 1)
				So(report.FinalScore, ShouldNotBeNil)
				So(report.Acks, ShouldEqual, mockinterview.DefaultScript().Fragments())
				So(out.String(), ShouldContainSubstring, "analysis")
				So(out.String(), ShouldContainSubstring, "agent     Tell me how you would speed up a slow query.")

				stored, err := store.GetSession(ctx, report.SessionID)
				So(err, ShouldBeNil)
				So(stored.Status, ShouldEqual, model.StatusCompleted)
				So(stored.Transcript, ShouldHaveLength, mockinterview.DefaultScript().Fragments())
			})
		})

		Convey("When the judge returns a scripted bluff", func() {
			j := judge.NewScripted(judge.Step{Judgment: model.Judgment{
				Shallow:            []string{"Indexing"},
				Missing:            []string{"Joins", "Sharding"},
				MissingReported:    8,
				Vagueness:          9,
				ConfidenceLanguage: true,
				FollowUp:           "Which index exactly?",
			}})
			srv2, _, stop2 := newServer(ctx, j)
			defer stop2()
			cfg := fastConfig(srv2.URL)
			cfg.Script = mockinterview.Script{
				{Role: model.RoleUser, Fragments: []string{"It is basically", "just indexing."}},
			}

			var out bytes.Buffer
			report, err := mockinterview.Run(ctx, cfg, &out)

			Convey("Then the steering instruction is printed", func() {
				So(err, ShouldBeNil)
				So(report.Steering, ShouldBeGreaterThanOrEqualTo, 1)
				So(out.String(), ShouldContainSubstring, "Which index exactly?")
				So(*report.FinalScore, ShouldBeGreaterThanOrEqualTo, 60)
			})
		})

		Convey("When every frame and line is printed", func() {
			cfg := fastConfig(srv.URL)
			cfg.Verbose = true
			cfg.Gap = time.Millisecond
			out := &overlapWriter{}
			report, err := mockinterview.Run(ctx, cfg, out)

			Convey("Then the transcript writes never interleave", func() {
				So(err, ShouldBeNil)
				So(report.Status, ShouldEqual, model.StatusCompleted)
				So(out.overlap.Load(), ShouldBeFalse)
				out.mu.Lock()
				defer out.mu.Unlock()
				So(out.buf.String(), ShouldContainSubstring, "candidate ")
			})
		})

		Convey("When the topic does not exist", func() {
			cfg := fastConfig(srv.URL)
			cfg.TopicID = "astrology"
			_, err := mockinterview.Run(ctx, cfg, &bytes.Buffer{})

			Convey("Then the run fails before going live", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "status 404")
			})
		})

		Convey("When the server is unreachable", func() {
			cfg := fastConfig("http://127.0.0.1:1")
			cfg.Timeout = 200 * time.Millisecond
			_, err := mockinterview.Run(ctx, cfg, &bytes.Buffer{})

			Convey("Then the health check fails", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "health check")
			})
		})
	})
}

func TestShowHelp(t *testing.T) {
	Convey("Given the help text", t, func() {
		var out bytes.Buffer
		mockinterview.ShowHelp(&out)

		Convey("Then it documents every flag", func() {
			for _, flag := range []string{"-url", "-candidate", "-topic", "-difficulty", "-gap", "-pause", "-settle", "-timeout", "-log", "-verbose"} {
				So(out.String(), ShouldContainSubstring, flag)
			}
		})
	})
}
