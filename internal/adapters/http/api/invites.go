package api

import (
	"context"
	"net/http"

	"github.com/okian/bluffmeter/internal/domain/model"
)

// InviteDependencies defines the invite operations.
type InviteDependencies interface {
	CreateInvite(ctx context.Context, inv model.Invite) (model.Invite, error)
	GetInvite(ctx context.Context, id string) (model.Invite, error)
}

// InvitesHandler handles invite requests.
type InvitesHandler struct {
	deps InviteDependencies
}

// NewInvitesHandler creates a new invites handler.
func NewInvitesHandler(deps InviteDependencies) *InvitesHandler {
	return &InvitesHandler{deps: deps}
}

type inviteRequest struct {
	CandidateID string `json:"candidate_id"`
	Email       string `json:"invite_email"`
	TopicID     string `json:"topic_id"`
	Difficulty  string `json:"difficulty"`
}

// HandleCreate handles POST /invites.
func (h *InvitesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_invite"
	var req inviteRequest
	if err := decode(r, &req, false); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	if req.TopicID == "" {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, errMissing("topic_id")))
		return
	}
	inv, err := h.deps.CreateInvite(r.Context(), model.Invite{
		CandidateID: req.CandidateID,
		Email:       req.Email,
		TopicID:     req.TopicID,
		Difficulty:  req.Difficulty,
	})
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// HandleGet handles GET /invites/{id}.
func (h *InvitesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := h.deps.GetInvite(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, Wrap("api.get_invite", err))
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
