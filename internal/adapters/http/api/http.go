// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/bluffmeter/internal/adapters/repository"
	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/difficulty"
	"github.com/okian/bluffmeter/internal/domain/topics"
	"github.com/okian/bluffmeter/internal/domain/types"
	"github.com/okian/bluffmeter/pkg/logger"
)

const (
	defaultLeaderboardLimit = 10
	defaultMaxLimit         = 100
	maxBodyBytes            = 1 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SessionDependencies
	TopicDependencies
	InviteDependencies
	LeaderboardDependencies
	RankDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	sessionsHandler    *SessionsHandler
	topicsHandler      *TopicsHandler
	invitesHandler     *InvitesHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps the
// leaderboard size a client may request.
func NewServer(deps Dependencies, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = defaultMaxLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		sessionsHandler:    NewSessionsHandler(deps),
		topicsHandler:      NewTopicsHandler(deps),
		invitesHandler:     NewInvitesHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleStart, "sessions.start"))
	mux.HandleFunc("GET /sessions", MetricsMiddleware(s.sessionsHandler.HandleList, "sessions.list"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleGet, "sessions.get"))
	mux.HandleFunc("POST /sessions/{id}/connected", MetricsMiddleware(s.sessionsHandler.HandleConnected, "sessions.connected"))
	mux.HandleFunc("POST /sessions/{id}/messages", MetricsMiddleware(s.sessionsHandler.HandleMessage, "sessions.message"))
	mux.HandleFunc("POST /sessions/{id}/end", MetricsMiddleware(s.sessionsHandler.HandleEnd, "sessions.end"))
	mux.HandleFunc("POST /sessions/{id}/disconnect", MetricsMiddleware(s.sessionsHandler.HandleDisconnect, "sessions.disconnect"))

	mux.HandleFunc("GET /topics", MetricsMiddleware(s.topicsHandler.HandleList, "topics.list"))
	mux.HandleFunc("POST /topics", MetricsMiddleware(s.topicsHandler.HandleCreate, "topics.create"))
	mux.HandleFunc("GET /topics/{id}", MetricsMiddleware(s.topicsHandler.HandleGet, "topics.get"))
	mux.HandleFunc("GET /difficulties", MetricsMiddleware(s.topicsHandler.HandleDifficulties, "difficulties"))

	mux.HandleFunc("POST /invites", MetricsMiddleware(s.invitesHandler.HandleCreate, "invites.create"))
	mux.HandleFunc("GET /invites/{id}", MetricsMiddleware(s.invitesHandler.HandleGet, "invites.get"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{candidate_id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps err to a status and error code, logging server-side
// failures with the request id.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= statusInternalError {
		logger.Get().Named("api").Error(r.Context(), "request failed",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrBadBody),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrEmptyText),
		errors.Is(err, difficulty.ErrUnknown),
		errors.Is(err, topics.ErrInvalidTopic),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrSessionUnknown),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrInviteNotFound),
		errors.Is(err, repository.ErrCandidateNotFound),
		errors.Is(err, topics.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrTerminal),
		errors.Is(err, service.ErrNotActive),
		errors.Is(err, topics.ErrBuiltinID),
		errors.Is(err, repository.ErrDuplicateID):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, topics.ErrNoTopicStorage),
		errors.Is(err, repository.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decode reads a JSON body into v. An empty body is accepted when
// optional is set.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return WrapKind("decode", ErrBadBody, err)
	}
	return nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, NewKind("query "+name, ErrBadRequest)
	}
	return n, nil
}

func errMissing(field string) error {
	return fmt.Errorf("missing %s", field)
}
