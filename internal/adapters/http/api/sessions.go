package api

import (
	"context"
	"net/http"
	"strings"

	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/types"
)

// SessionDependencies defines the session operations the API exposes.
type SessionDependencies interface {
	StartSession(ctx context.Context, req service.StartRequest) (*model.Session, error)
	Connected(ctx context.Context, id string) (*model.Session, error)
	OnMessage(ctx context.Context, id string, msg service.Message) (bool, error)
	End(ctx context.Context, id string) (*model.Session, error)
	Disconnect(ctx context.Context, id, reason string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, candidateID string, limit int) ([]*model.Session, error)
	Summary(sess *model.Session) types.Summary
}

// SessionsHandler handles the session lifecycle routes.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type startRequest struct {
	CandidateID string `json:"candidate_id"`
	TopicID     string `json:"topic_id"`
	Difficulty  string `json:"difficulty"`
	InviteID    string `json:"invite_id"`
	Mode        string `json:"mode"`
}

type messageRequest struct {
	ID   string     `json:"id"`
	Role model.Role `json:"role"`
	Text string     `json:"text"`
}

type disconnectRequest struct {
	Reason string `json:"reason"`
}

type sessionResponse struct {
	Session *model.Session `json:"session"`
	Summary *types.Summary `json:"summary,omitempty"`
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// HandleStart handles POST /sessions.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	var req startRequest
	if err := decode(r, &req, false); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	if strings.TrimSpace(req.TopicID) == "" && strings.TrimSpace(req.InviteID) == "" {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, errMissing("topic_id")))
		return
	}
	sess, err := h.deps.StartSession(r.Context(), service.StartRequest{
		CandidateID: req.CandidateID,
		TopicID:     req.TopicID,
		Difficulty:  req.Difficulty,
		InviteID:    req.InviteID,
		Mode:        req.Mode,
	})
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess})
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.deps.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, Wrap("api.get_session", err))
		return
	}
	sum := h.deps.Summary(sess)
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Summary: &sum})
}

// HandleList handles GET /sessions?candidate_id=&limit=.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_sessions"
	candidate := strings.TrimSpace(r.URL.Query().Get("candidate_id"))
	if candidate == "" {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, errMissing("candidate_id")))
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	list, err := h.deps.ListSessions(r.Context(), candidate, limit)
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

// HandleConnected handles POST /sessions/{id}/connected.
func (h *SessionsHandler) HandleConnected(w http.ResponseWriter, r *http.Request) {
	sess, err := h.deps.Connected(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, Wrap("api.connected", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

// HandleMessage handles POST /sessions/{id}/messages.
func (h *SessionsHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_message"
	var req messageRequest
	if err := decode(r, &req, false); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	applied, err := h.deps.OnMessage(r.Context(), r.PathValue("id"), service.Message{ID: req.ID, Role: req.Role, Text: req.Text})
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	if !applied {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleEnd handles POST /sessions/{id}/end.
func (h *SessionsHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	sess, err := h.deps.End(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, Wrap("api.end_session", err))
		return
	}
	sum := h.deps.Summary(sess)
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Summary: &sum})
}

// HandleDisconnect handles POST /sessions/{id}/disconnect. The body is
// optional so unload beacons can post nothing.
func (h *SessionsHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	const op = "api.disconnect_session"
	var req disconnectRequest
	if err := decode(r, &req, true); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	if req.Reason == "" {
		req.Reason = "client disconnect"
	}
	sess, err := h.deps.Disconnect(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}
