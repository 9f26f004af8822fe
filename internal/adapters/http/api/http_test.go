package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/bluffmeter/internal/adapters/http/api"
	"github.com/okian/bluffmeter/internal/adapters/judge"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/topics"
	"github.com/okian/bluffmeter/internal/domain/types"
	"github.com/okian/bluffmeter/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// mockDeps implements api.Dependencies with canned answers.
type mockDeps struct {
	sessions map[string]*model.Session
	started  []service.StartRequest
	messages []service.Message
	reasons  []string
	seen     map[string]bool
	topN     []types.Entry
	topNArgs []int
	rankErr  error
	err      error
}

func newMockDeps() *mockDeps {
	return &mockDeps{sessions: map[string]*model.Session{}, seen: map[string]bool{}}
}

func (m *mockDeps) StartSession(_ context.Context, req service.StartRequest) (*model.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.started = append(m.started, req)
	s := &model.Session{ID: fmt.Sprintf("s-%d", len(m.started)), CandidateID: req.CandidateID, TopicID: req.TopicID, Status: model.StatusConnecting, Version: 1}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockDeps) lookup(id string) (*model.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrSessionUnknown, id)
	}
	return s, nil
}

func (m *mockDeps) Connected(_ context.Context, id string) (*model.Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.Status = model.StatusActive
	return s, nil
}

func (m *mockDeps) OnMessage(_ context.Context, id string, msg service.Message) (bool, error) {
	s, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	if s.Status != model.StatusActive {
		return false, service.ErrNotActive
	}
	if !msg.Role.Valid() {
		return false, service.ErrInvalidRole
	}
	if msg.ID != "" && m.seen[msg.ID] {
		return false, nil
	}
	m.seen[msg.ID] = true
	m.messages = append(m.messages, msg)
	return true, nil
}

func (m *mockDeps) finish(id string, to model.Status) (*model.Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, service.ErrTerminal
	}
	s.Status = to
	return s, nil
}

func (m *mockDeps) End(_ context.Context, id string) (*model.Session, error) {
	return m.finish(id, model.StatusCompleted)
}

func (m *mockDeps) Disconnect(_ context.Context, id, reason string) (*model.Session, error) {
	m.reasons = append(m.reasons, reason)
	return m.finish(id, model.StatusDisconnected)
}

func (m *mockDeps) GetSession(_ context.Context, id string) (*model.Session, error) {
	return m.lookup(id)
}

func (m *mockDeps) ListSessions(_ context.Context, candidateID string, _ int) ([]*model.Session, error) {
	var out []*model.Session
	for _, s := range m.sessions {
		if s.CandidateID == candidateID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockDeps) Summary(s *model.Session) types.Summary {
	return types.Summary{Samples: len(s.BluffHistory), Grade: "Expert"}
}

func (m *mockDeps) Topics(context.Context) ([]model.Topic, error) { return topics.Builtins(), nil }

func (m *mockDeps) Topic(_ context.Context, id string) (model.Topic, error) {
	for _, t := range topics.Builtins() {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Topic{}, topics.ErrNotFound
}

func (m *mockDeps) CreateTopic(_ context.Context, t model.Topic) (model.Topic, error) {
	if err := topics.Validate(t); err != nil {
		return model.Topic{}, err
	}
	return t, nil
}

func (m *mockDeps) CreateInvite(_ context.Context, inv model.Invite) (model.Invite, error) {
	inv.ID = "inv-1"
	inv.Status = model.InvitePending
	return inv, nil
}

func (m *mockDeps) GetInvite(_ context.Context, id string) (model.Invite, error) {
	if id != "inv-1" {
		return model.Invite{}, repository.ErrInviteNotFound
	}
	return model.Invite{ID: id, TopicID: "databases", Status: model.InvitePending}, nil
}

func (m *mockDeps) TopN(_ context.Context, n int) ([]types.Entry, error) {
	m.topNArgs = append(m.topNArgs, n)
	if n > len(m.topN) {
		return m.topN, nil
	}
	return m.topN[:n], nil
}

func (m *mockDeps) Rank(_ context.Context, id string) (types.Entry, error) {
	if m.rankErr != nil {
		return types.Entry{}, m.rankErr
	}
	return types.Entry{Rank: 1, CandidateID: id, AverageScore: 12.5, BestScore: 10, Sessions: 2}, nil
}

func (m *mockDeps) GetStats(context.Context) map[string]any {
	return map[string]any{"live_sessions": len(m.sessions)}
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDeps()
		mux := http.NewServeMux()
		api.NewServer(deps, 5).Register(context.Background(), mux)

		Convey("When the health endpoint is scraped", func() {
			w := do(mux, http.MethodGet, "/healthz", "")

			Convey("Then it serves the metrics registry", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When stats are requested", func() {
			w := do(mux, http.MethodGet, "/stats", "")

			Convey("Then they are JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
				So(decodeBody(w)["live_sessions"], ShouldEqual, 0.0)
			})
		})

		Convey("When an unknown path or wrong method is used", func() {
			Convey("Then the mux refuses it", func() {
				So(do(mux, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodDelete, "/sessions", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})
}

func TestSessionRoutes(t *testing.T) {
	Convey("Given the session routes", t, func() {
		deps := newMockDeps()
		mux := http.NewServeMux()
		api.NewServer(deps, 5).Register(context.Background(), mux)

		Convey("When a session is started", func() {
			w := do(mux, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","topic_id":"databases","difficulty":"roasted"}`)

			Convey("Then it is created", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				sess := decodeBody(w)["session"].(map[string]any)
				So(sess["id"], ShouldEqual, "s-1")
				So(sess["status"], ShouldEqual, "connecting")
				So(deps.started[0].Difficulty, ShouldEqual, "roasted")
			})
		})

		Convey("When the start body is malformed or lacks a topic", func() {
			bad := do(mux, http.MethodPost, "/sessions", `{"candidate_id":`)
			missing := do(mux, http.MethodPost, "/sessions", `{"candidate_id":"cand-1"}`)

			Convey("Then it is a bad request", func() {
				So(bad.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(bad)["code"], ShouldEqual, "bad_request")
				So(missing.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(missing)["message"], ShouldContainSubstring, "missing topic_id")
			})
		})

		Convey("When the service rejects the start", func() {
			Convey("Then an unknown topic is 404 and an unknown difficulty is 400", func() {
				deps.err = fmt.Errorf("get topic x: %w", topics.ErrNotFound)
				So(do(mux, http.MethodPost, "/sessions", `{"candidate_id":"c","topic_id":"x"}`).Code, ShouldEqual, http.StatusNotFound)
				deps.err = fmt.Errorf("%w: %q", difficulty.ErrUnknown, "charred")
				So(do(mux, http.MethodPost, "/sessions", `{"candidate_id":"c","topic_id":"databases"}`).Code, ShouldEqual, http.StatusBadRequest)
				deps.err = service.ErrNotStarted
				So(do(mux, http.MethodPost, "/sessions", `{"candidate_id":"c","topic_id":"databases"}`).Code, ShouldEqual, http.StatusServiceUnavailable)
				deps.err = errors.New("boom")
				So(do(mux, http.MethodPost, "/sessions", `{"candidate_id":"c","topic_id":"databases"}`).Code, ShouldEqual, http.StatusInternalServerError)
			})
		})

		Convey("When a started session goes through its lifecycle", func() {
			So(do(mux, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","topic_id":"databases"}`).Code, ShouldEqual, http.StatusCreated)

			early := do(mux, http.MethodPost, "/sessions/s-1/messages", `{"role":"user","text":"hi"}`)
			So(early.Code, ShouldEqual, http.StatusConflict)

			So(do(mux, http.MethodPost, "/sessions/s-1/connected", "").Code, ShouldEqual, http.StatusOK)
			first := do(mux, http.MethodPost, "/sessions/s-1/messages", `{"id":"m-1","role":"user","text":"An index is a B-tree."}`)
			replay := do(mux, http.MethodPost, "/sessions/s-1/messages", `{"id":"m-1","role":"user","text":"An index is a B-tree."}`)
			badRole := do(mux, http.MethodPost, "/sessions/s-1/messages", `{"role":"narrator","text":"x"}`)
			end := do(mux, http.MethodPost, "/sessions/s-1/end", "")
			again := do(mux, http.MethodPost, "/sessions/s-1/end", "")

			Convey("Then each step answers with its status", func() {
				So(first.Code, ShouldEqual, http.StatusAccepted)
				So(decodeBody(first)["status"], ShouldEqual, "accepted")
				So(replay.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(replay)["duplicate"], ShouldEqual, true)
				So(badRole.Code, ShouldEqual, http.StatusBadRequest)
				So(end.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(end)
				So(body["session"].(map[string]any)["status"], ShouldEqual, "completed")
				So(body["summary"], ShouldNotBeNil)
				So(again.Code, ShouldEqual, http.StatusConflict)
				So(deps.messages, ShouldHaveLength, 1)
			})
		})

		Convey("When a session is disconnected by an empty beacon", func() {
			do(mux, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","topic_id":"databases"}`)
			w := do(mux, http.MethodPost, "/sessions/s-1/disconnect", "")

			Convey("Then it is disconnected with a default reason", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.reasons, ShouldResemble, []string{"client disconnect"})
			})
		})

		Convey("When sessions are read", func() {
			do(mux, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","topic_id":"databases"}`)
			get := do(mux, http.MethodGet, "/sessions/s-1", "")
			missing := do(mux, http.MethodGet, "/sessions/nope", "")
			list := do(mux, http.MethodGet, "/sessions?candidate_id=cand-1&limit=5", "")
			noCandidate := do(mux, http.MethodGet, "/sessions", "")
			badLimit := do(mux, http.MethodGet, "/sessions?candidate_id=cand-1&limit=-1", "")

			Convey("Then lookups and listings resolve", func() {
				So(get.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(get)["summary"].(map[string]any)["grade"], ShouldEqual, "Expert")
				So(missing.Code, ShouldEqual, http.StatusNotFound)
				So(list.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(list)["sessions"], ShouldHaveLength, 1)
				So(noCandidate.Code, ShouldEqual, http.StatusBadRequest)
				So(badLimit.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestCatalogRoutes(t *testing.T) {
	Convey("Given the catalog routes", t, func() {
		deps := newMockDeps()
		mux := http.NewServeMux()
		api.NewServer(deps, 5).Register(context.Background(), mux)

		Convey("When topics and difficulties are listed", func() {
			list := do(mux, http.MethodGet, "/topics", "")
			one := do(mux, http.MethodGet, "/topics/databases", "")
			unknown := do(mux, http.MethodGet, "/topics/astrology", "")
			levels := do(mux, http.MethodGet, "/difficulties", "")

			Convey("Then the built-ins are served", func() {
				So(list.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(list)["topics"], ShouldHaveLength, len(topics.Builtins()))
				So(one.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(one)["title"], ShouldEqual, "Databases")
				So(unknown.Code, ShouldEqual, http.StatusNotFound)
				So(levels.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(levels)
				So(body["difficulties"], ShouldHaveLength, 4)
				So(body["default"], ShouldEqual, difficulty.MediumRare)
			})
		})

		Convey("When a topic is created", func() {
			ok := do(mux, http.MethodPost, "/topics", `{"id":"go","title":"Go","concepts":["Goroutines","Channels"]}`)
			bad := do(mux, http.MethodPost, "/topics", `{"id":"go","title":"Go","concepts":[]}`)

			Convey("Then invalid definitions are refused", func() {
				So(ok.Code, ShouldEqual, http.StatusCreated)
				So(bad.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When invites are created and read", func() {
			created := do(mux, http.MethodPost, "/invites", `{"candidate_id":"cand-1","topic_id":"databases"}`)
			noTopic := do(mux, http.MethodPost, "/invites", `{"candidate_id":"cand-1"}`)
			got := do(mux, http.MethodGet, "/invites/inv-1", "")
			missing := do(mux, http.MethodGet, "/invites/inv-2", "")

			Convey("Then they round-trip as pending", func() {
				So(created.Code, ShouldEqual, http.StatusCreated)
				So(decodeBody(created)["status"], ShouldEqual, "pending")
				So(noTopic.Code, ShouldEqual, http.StatusBadRequest)
				So(got.Code, ShouldEqual, http.StatusOK)
				So(missing.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestLeaderboardRoutes(t *testing.T) {
	Convey("Given the leaderboard routes with a cap of five", t, func() {
		deps := newMockDeps()
		for i := 1; i <= 8; i++ {
			deps.topN = append(deps.topN, types.Entry{Rank: i, CandidateID: fmt.Sprintf("c-%d", i)})
		}
		mux := http.NewServeMux()
		api.NewServer(deps, 5).Register(context.Background(), mux)

		Convey("When the leaderboard is requested", func() {
			def := do(mux, http.MethodGet, "/leaderboard", "")
			capped := do(mux, http.MethodGet, "/leaderboard?limit=50", "")
			small := do(mux, http.MethodGet, "/leaderboard?limit=2", "")
			bad := do(mux, http.MethodGet, "/leaderboard?limit=zero", "")

			Convey("Then the limit defaults and is capped", func() {
				So(def.Code, ShouldEqual, http.StatusOK)
				So(capped.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(capped)["entries"], ShouldHaveLength, 5)
				So(decodeBody(small)["entries"], ShouldHaveLength, 2)
				So(deps.topNArgs, ShouldResemble, []int{5, 5, 2})
				So(bad.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a rank is requested", func() {
			ok := do(mux, http.MethodGet, "/rank/cand-1", "")
			deps.rankErr = fmt.Errorf("rank: %w", repository.ErrCandidateNotFound)
			missing := do(mux, http.MethodGet, "/rank/cand-2", "")

			Convey("Then known candidates resolve and unknown ones are 404", func() {
				So(ok.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(ok)["average_score"], ShouldEqual, 12.5)
				So(missing.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestAgainstService(t *testing.T) {
	Convey("Given the API over a running service", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(store, judge.NewScripted(), service.WithQuietPeriod(10*time.Millisecond))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })
		mux := http.NewServeMux()
		api.NewServer(svc, 10).Register(ctx, mux)

		Convey("When a candidate completes an interview", func() {
			start := do(mux, http.MethodPost, "/sessions", `{"candidate_id":"cand-1","topic_id":"databases"}`)
			So(start.Code, ShouldEqual, http.StatusCreated)
			id := decodeBody(start)["session"].(map[string]any)["id"].(string)
			So(do(mux, http.MethodPost, "/sessions/"+id+"/connected", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodPost, "/sessions/"+id+"/messages",
				`{"role":"user","text":"Indexing uses a B-tree so lookups avoid full scans."}`).Code, ShouldEqual, http.StatusAccepted)

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				s, err := svc.GetSession(ctx, id)
				So(err, ShouldBeNil)
				if len(s.BluffHistory) > 0 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			end := do(mux, http.MethodPost, "/sessions/"+id+"/end", "")

			Convey("Then the stored record is completed and ranked", func() {
				So(end.Code, ShouldEqual, http.StatusOK)
				stored, err := store.GetSession(ctx, id)
				So(err, ShouldBeNil)
				So(stored.Status, ShouldEqual, model.StatusCompleted)
				So(stored.BluffHistory, ShouldNotBeEmpty)

				rank := do(mux, http.MethodGet, "/rank/cand-1", "")
				So(rank.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(rank)["sessions"], ShouldEqual, 1.0)
			})
		})
	})
}
