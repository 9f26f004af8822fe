// Package ws serves the live interview socket: transcript lines in, analysis
// and steering frames out.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5/middleware"

	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
)

const (
	defaultWriteTimeout = 5 * time.Second
	finalFrameWait      = time.Second
)

// LiveService is the part of the session engine the socket drives.
type LiveService interface {
	Connected(ctx context.Context, id string) (*model.Session, error)
	OnMessage(ctx context.Context, id string, msg service.Message) (bool, error)
	End(ctx context.Context, id string) (*model.Session, error)
	Disconnect(ctx context.Context, id, reason string) (*model.Session, error)
	OnTransportError(ctx context.Context, id, reason string) (*model.Session, error)
	Subscribe(ctx context.Context, id string) (<-chan service.Event, func(), error)
}

// Handler upgrades GET /sessions/{id}/live. Sockets receive analysis and
// steering frames from the session's event stream; SendContextualUpdate
// remains for pushing an instruction outside that stream.
type Handler struct {
	svc           LiveService
	allowedOrigin string
	writeTimeout  time.Duration

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}

	logger logger.Logger
}

var _ service.Steerer = (*Handler)(nil)

// NewHandler creates a live socket handler.
func NewHandler(svc LiveService, opts ...Option) *Handler {
	h := &Handler{
		svc:          svc,
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[string]map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}
	return h
}

// Register attaches the live route to mux.
func (h *Handler) Register(_ context.Context, mux *http.ServeMux) {
	mux.Handle("GET /sessions/{id}/live", h)
}

// SendContextualUpdate implements service.Steerer.
func (h *Handler) SendContextualUpdate(ctx context.Context, sessionID, instruction string) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[sessionID]))
	for c := range h.conns[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoConnection, sessionID)
	}

	frame := OutFrame{Type: FrameContextualUpdate, SessionID: sessionID, Instruction: instruction}
	var errs []error
	for _, c := range conns {
		if err := h.write(ctx, c, frame); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return errors.Join(errs...)
	}
	return nil
}

// Connections returns how many sockets are open for a session.
func (h *Handler) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[sessionID])
}

// ServeHTTP implements http.Handler for the socket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := h.logger.With(
		logger.String("session_id", id),
		logger.String("request_id", middleware.GetReqID(r.Context())),
	)

	if !h.checkOrigin(r) {
		log.Warn(r.Context(), "live socket origin rejected", logger.String("origin", r.Header.Get("Origin")))
		http.Error(w, ErrOrigin.Error(), http.StatusForbidden)
		return
	}

	events, unsubscribe, err := h.svc.Subscribe(r.Context(), id)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, service.ErrTerminal) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		log.Error(r.Context(), "websocket accept failed", logger.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	h.add(id, conn)
	defer h.remove(id, conn)
	log.Info(r.Context(), "live socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		if h.forward(ctx, conn, events) {
			_ = conn.Close(websocket.StatusNormalClosure, "session ended")
		}
	}()

	ended := h.readLoop(ctx, conn, id, log)
	if ended {
		// Let the final status frame out; forward closes the socket.
		select {
		case <-forwarded:
		case <-time.After(finalFrameWait):
		}
		return
	}

	// Closed without an end frame: the interview is over for this client.
	if _, err := h.svc.Disconnect(context.WithoutCancel(ctx), id, "socket closed"); err != nil && !errors.Is(err, service.ErrTerminal) {
		log.Warn(ctx, "disconnect after socket close failed", logger.Error(err))
	}
}

// readLoop dispatches inbound frames. It reports whether the session reached
// a terminal state through the socket.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id string, log logger.Logger) bool {
	for {
		var in InFrame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Debug(ctx, "live socket closed by client")
			} else if ctx.Err() == nil {
				log.Warn(ctx, "live socket read failed", logger.Error(err))
			}
			return false
		}

		switch in.Type {
		case FrameConnect:
			// The active status reaches the client through forward.
			if _, err := h.svc.Connected(ctx, id); err != nil {
				h.fail(ctx, conn, err)
				if errors.Is(err, service.ErrTerminal) {
					return true
				}
				continue
			}
		case FrameMessage:
			applied, err := h.svc.OnMessage(ctx, id, service.Message{ID: in.ID, Role: in.Role, Text: in.Text})
			if err != nil {
				h.fail(ctx, conn, err)
				continue
			}
			if in.ID != "" {
				_ = h.write(ctx, conn, OutFrame{Type: FrameAck, SessionID: id, MessageID: in.ID, Duplicate: !applied})
			}
		case FrameError:
			reason := in.Reason
			if reason == "" {
				reason = "unspecified"
			}
			if _, err := h.svc.OnTransportError(ctx, id, reason); err != nil && !errors.Is(err, service.ErrTerminal) {
				h.fail(ctx, conn, err)
			}
			return true
		case FrameEnd:
			if _, err := h.svc.End(ctx, id); err != nil {
				h.fail(ctx, conn, err)
			}
			return true
		case FramePing:
			_ = h.write(ctx, conn, OutFrame{Type: FramePong})
		default:
			_ = h.write(ctx, conn, OutFrame{Type: FrameError, Code: "bad_frame", Message: "unknown frame type " + in.Type})
		}
	}
}

// forward relays session events until ctx is done. It reports true when
// the stream closed because the session ended.
func (h *Handler) forward(ctx context.Context, conn *websocket.Conn, events <-chan service.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return true
			}
			if err := h.write(ctx, conn, frameOf(ev)); err != nil {
				return false
			}
		}
	}
}

func (h *Handler) fail(ctx context.Context, conn *websocket.Conn, err error) {
	code := "internal_error"
	switch {
	case errors.Is(err, service.ErrTerminal):
		code = "terminal"
	case errors.Is(err, service.ErrNotActive):
		code = "not_active"
	case errors.Is(err, service.ErrInvalidRole), errors.Is(err, service.ErrEmptyText):
		code = "bad_request"
	case errors.Is(err, service.ErrSessionUnknown):
		code = "not_found"
	}
	_ = h.write(ctx, conn, OutFrame{Type: FrameError, Code: code, Message: err.Error()})
}

// write sends one frame. Writes are safe from several goroutines.
func (h *Handler) write(ctx context.Context, conn *websocket.Conn, f OutFrame) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, f); err != nil {
		h.logger.Debug(ctx, "live socket write failed", logger.String("frame", f.Type), logger.Error(err))
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (h *Handler) add(id string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[id] == nil {
		h.conns[id] = make(map[*websocket.Conn]struct{})
	}
	h.conns[id][c] = struct{}{}
}

func (h *Handler) remove(id string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[id], c)
	if len(h.conns[id]) == 0 {
		delete(h.conns, id)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin
}
