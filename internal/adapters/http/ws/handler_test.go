package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/bluffmeter/internal/adapters/http/ws"
	"github.com/okian/bluffmeter/internal/adapters/judge"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type harness struct {
	store   *repository.MemoryStore
	judge   *judge.ScriptedJudge
	svc     *service.Service
	handler *ws.Handler
	server  *httptest.Server
}

func newHarness(ctx context.Context) *harness {
	h := &harness{store: repository.NewMemoryStore(), judge: judge.NewScripted()}
	h.svc = service.New(h.store, h.judge, service.WithQuietPeriod(20*time.Millisecond))
	h.handler = ws.NewHandler(h.svc)
	So(h.svc.Start(ctx), ShouldBeNil)

	mux := http.NewServeMux()
	h.handler.Register(ctx, mux)
	h.server = httptest.NewServer(mux)
	return h
}

func (h *harness) close(ctx context.Context) {
	h.server.Close()
	_ = h.svc.Stop(ctx)
}

func (h *harness) url(id string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/sessions/" + id + "/live"
}

func (h *harness) session(ctx context.Context) string {
	sess, err := h.svc.StartSession(ctx, service.StartRequest{CandidateID: "cand-1", TopicID: "databases"})
	So(err, ShouldBeNil)
	return sess.ID
}

func dial(ctx context.Context, url string) *websocket.Conn {
	conn, _, err := websocket.Dial(ctx, url, nil)
	So(err, ShouldBeNil)
	return conn
}

// readUntil returns the first frame of type typ.
func readUntil(ctx context.Context, conn *websocket.Conn, typ string) (ws.OutFrame, error) {
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		var f ws.OutFrame
		if err := wsjson.Read(rctx, conn, &f); err != nil {
			return ws.OutFrame{}, err
		}
		if f.Type == typ {
			return f, nil
		}
	}
}

// readThrough returns every frame up to and including the first of type
// typ, or up to the socket closing when typ is empty.
func readThrough(ctx context.Context, conn *websocket.Conn, typ string) ([]ws.OutFrame, error) {
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var frames []ws.OutFrame
	for {
		var f ws.OutFrame
		if err := wsjson.Read(rctx, conn, &f); err != nil {
			return frames, err
		}
		frames = append(frames, f)
		if typ != "" && f.Type == typ {
			return frames, nil
		}
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestLiveSocket(t *testing.T) {
	Convey("Given a live socket over a running service", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		Reset(func() { h.close(ctx) })
		id := h.session(ctx)
		conn := dial(ctx, h.url(id))
		Reset(func() { _ = conn.CloseNow() })

		Convey("When the client connects", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			f, err := readUntil(ctx, conn, ws.FrameStatus)

			Convey("Then the session becomes active", func() {
				So(err, ShouldBeNil)
				So(f.Status, ShouldEqual, model.StatusActive)
				So(h.handler.Connections(id), ShouldEqual, 1)
			})
		})

		Convey("When a candidate answer is analyzed", func() {
			h.judge.Push(judge.Step{Judgment: model.Judgment{
				Missing:            []string{"Indexing"},
				MissingReported:    10,
				Vagueness:          10,
				ConfidenceLanguage: true,
				FollowUp:           "Which index would you add?",
			}})
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameMessage, ID: "m-1", Role: model.RoleUser, Text: "It is basically fast."}), ShouldBeNil)

			frames, err := readThrough(ctx, conn, ws.FrameContextualUpdate)
			byType := map[string]ws.OutFrame{}
			var order []string
			for _, f := range frames {
				if f.Type == ws.FrameAnalysis || f.Type == ws.FrameContextualUpdate {
					order = append(order, f.Type)
				}
				byType[f.Type] = f
			}

			Convey("Then the socket receives the analysis and then the steering instruction", func() {
				So(err, ShouldBeNil)
				ack := byType[ws.FrameAck]
				So(ack.MessageID, ShouldEqual, "m-1")
				So(ack.Duplicate, ShouldBeFalse)

				So(order, ShouldResemble, []string{ws.FrameAnalysis, ws.FrameContextualUpdate})
				analysis := byType[ws.FrameAnalysis]
				So(analysis.BluffScore, ShouldNotBeNil)
				So(*analysis.BluffScore, ShouldEqual, 100)
				So(analysis.Label, ShouldEqual, "Full Bluff")
				So(analysis.FollowUp, ShouldEqual, "Which index would you add?")
				So(analysis.Coverage, ShouldHaveLength, 10)

				steer := byType[ws.FrameContextualUpdate]
				So(steer.SessionID, ShouldEqual, id)
				So(steer.Instruction, ShouldContainSubstring, "Which index would you add?")
			})
		})

		Convey("When the client pings or sends garbage", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FramePing}), ShouldBeNil)
			_, pongErr := readUntil(ctx, conn, ws.FramePong)
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: "dance"}), ShouldBeNil)
			bad, badErr := readUntil(ctx, conn, ws.FrameError)

			Convey("Then it answers without ending the session", func() {
				So(pongErr, ShouldBeNil)
				So(badErr, ShouldBeNil)
				So(bad.Code, ShouldEqual, "bad_frame")
				s, err := h.svc.GetSession(ctx, id)
				So(err, ShouldBeNil)
				So(s.Status.Terminal(), ShouldBeFalse)
			})
		})

		Convey("When a message arrives before connect", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameMessage, Role: model.RoleUser, Text: "hi"}), ShouldBeNil)
			f, err := readUntil(ctx, conn, ws.FrameError)

			Convey("Then it is refused", func() {
				So(err, ShouldBeNil)
				So(f.Code, ShouldEqual, "not_active")
			})
		})

		Convey("When the client sends end", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			_, err := readUntil(ctx, conn, ws.FrameStatus)
			So(err, ShouldBeNil)
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameEnd}), ShouldBeNil)

			var final ws.OutFrame
			for {
				f, err := readUntil(ctx, conn, ws.FrameStatus)
				if err != nil || f.Status.Terminal() {
					final = f
					break
				}
			}

			Convey("Then it is completed and the server closes the socket", func() {
				So(final.Status, ShouldEqual, model.StatusCompleted)
				_, err := readUntil(ctx, conn, ws.FrameStatus)
				So(websocket.CloseStatus(err), ShouldEqual, websocket.StatusNormalClosure)

				stored, err := h.store.GetSession(ctx, id)
				So(err, ShouldBeNil)
				So(stored.Status, ShouldEqual, model.StatusCompleted)
			})
		})

		Convey("When the client connects twice and then ends", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameEnd}), ShouldBeNil)
			frames, err := readThrough(ctx, conn, "")

			Convey("Then each connect is announced exactly once", func() {
				So(websocket.CloseStatus(err), ShouldEqual, websocket.StatusNormalClosure)
				var statuses []model.Status
				for _, f := range frames {
					if f.Type == ws.FrameStatus {
						statuses = append(statuses, f.Status)
					}
				}
				So(statuses, ShouldResemble, []model.Status{model.StatusActive, model.StatusActive, model.StatusCompleted})
			})
		})

		Convey("When the client reports a transport error", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameError, Reason: "mic lost"}), ShouldBeNil)

			Convey("Then the session is disconnected", func() {
				So(eventually(func() bool {
					s, err := h.store.GetSession(ctx, id)
					return err == nil && s.Status == model.StatusDisconnected
				}), ShouldBeTrue)
			})
		})

		Convey("When the socket closes without end", func() {
			So(wsjson.Write(ctx, conn, ws.InFrame{Type: ws.FrameConnect}), ShouldBeNil)
			_, err := readUntil(ctx, conn, ws.FrameStatus)
			So(err, ShouldBeNil)
			So(conn.Close(websocket.StatusGoingAway, "tab closed"), ShouldBeNil)

			Convey("Then the session is disconnected and steering has no target", func() {
				So(eventually(func() bool {
					s, err := h.store.GetSession(ctx, id)
					return err == nil && s.Status == model.StatusDisconnected
				}), ShouldBeTrue)
				So(eventually(func() bool { return h.handler.Connections(id) == 0 }), ShouldBeTrue)
				err := h.handler.SendContextualUpdate(ctx, id, "ask again")
				So(errors.Is(err, ws.ErrNoConnection), ShouldBeTrue)
			})
		})
	})
}

func TestLiveSocketRejects(t *testing.T) {
	Convey("Given a live socket handler", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		Reset(func() { h.close(ctx) })

		Convey("When the session is unknown", func() {
			_, resp, err := websocket.Dial(ctx, h.url("missing"), nil)

			Convey("Then the upgrade is refused with 404", func() {
				So(err, ShouldNotBeNil)
				So(resp, ShouldNotBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the origin is not allowed", func() {
			handler := ws.NewHandler(h.svc, ws.WithAllowedOrigin("https://app.example.com"))
			mux := http.NewServeMux()
			handler.Register(ctx, mux)
			srv := httptest.NewServer(mux)
			defer srv.Close()
			id := h.session(ctx)

			_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/sessions/"+id+"/live",
				&websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}}})

			Convey("Then it is forbidden", func() {
				So(err, ShouldNotBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
			})
		})
	})
}
