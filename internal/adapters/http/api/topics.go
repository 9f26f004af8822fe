package api

import (
	"context"
	"net/http"

	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/model"
)

// TopicDependencies defines the topic catalog operations.
type TopicDependencies interface {
	Topics(ctx context.Context) ([]model.Topic, error)
	Topic(ctx context.Context, id string) (model.Topic, error)
	CreateTopic(ctx context.Context, t model.Topic) (model.Topic, error)
}

// TopicsHandler serves the topic catalog and the difficulty profiles.
type TopicsHandler struct {
	deps TopicDependencies
}

// NewTopicsHandler creates a new topics handler.
func NewTopicsHandler(deps TopicDependencies) *TopicsHandler {
	return &TopicsHandler{deps: deps}
}

type topicRequest struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Concepts    []string        `json:"concepts"`
	Kind        model.TopicKind `json:"kind"`
	Company     string          `json:"company"`
}

// HandleList handles GET /topics.
func (h *TopicsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Topics(r.Context())
	if err != nil {
		writeFailure(w, r, Wrap("api.list_topics", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": list})
}

// HandleGet handles GET /topics/{id}.
func (h *TopicsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Topic(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, Wrap("api.get_topic", err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleCreate handles POST /topics.
func (h *TopicsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_topic"
	var req topicRequest
	if err := decode(r, &req, false); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	t, err := h.deps.CreateTopic(r.Context(), model.Topic{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Concepts:    req.Concepts,
		Kind:        req.Kind,
		Company:     req.Company,
	})
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// HandleDifficulties handles GET /difficulties.
func (h *TopicsHandler) HandleDifficulties(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"difficulties": difficulty.All(),
		"default":      difficulty.Default().ID,
	})
}
