package mockinterview

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/types"
)

// Client wraps the REST side of the service.
type Client struct {
	rest *resty.Client
}

type sessionEnvelope struct {
	Session *model.Session `json:"session"`
	Summary *types.Summary `json:"summary"`
}

// NewClient creates a REST client with a request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{rest: resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")}
}

// Health checks that the service answers on /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode())
	}
	return nil
}

// StartSession opens a session in the connecting state.
func (c *Client) StartSession(ctx context.Context, candidateID, topicID, difficulty string) (*model.Session, error) {
	var out sessionEnvelope
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"candidate_id": candidateID,
			"topic_id":     topicID,
			"difficulty":   difficulty,
		}).
		SetResult(&out).
		Post("/sessions")
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, apiError("start session", resp)
	}
	if out.Session == nil {
		return nil, fmt.Errorf("start session: empty response")
	}
	return out.Session, nil
}

// GetSession reads a session and its summary.
func (c *Client) GetSession(ctx context.Context, id string) (*model.Session, types.Summary, error) {
	var out sessionEnvelope
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/sessions/{id}")
	if err != nil {
		return nil, types.Summary{}, fmt.Errorf("get session: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, types.Summary{}, apiError("get session", resp)
	}
	if out.Session == nil {
		return nil, types.Summary{}, fmt.Errorf("get session: empty response")
	}
	var sum types.Summary
	if out.Summary != nil {
		sum = *out.Summary
	}
	return out.Session, sum, nil
}

// Rank reads the candidate's leaderboard entry.
func (c *Client) Rank(ctx context.Context, candidateID string) (types.Entry, error) {
	var e types.Entry
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("candidate_id", candidateID).
		SetResult(&e).
		Get("/rank/{candidate_id}")
	if err != nil {
		return types.Entry{}, fmt.Errorf("rank: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Entry{}, apiError("rank", resp)
	}
	return e, nil
}

// apiError turns the {code, message} envelope into an error.
func apiError(op string, resp *resty.Response) error {
	body := resp.String()
	code := gjson.Get(body, "code").String()
	msg := gjson.Get(body, "message").String()
	if code == "" && msg == "" {
		return fmt.Errorf("%s: status %d", op, resp.StatusCode())
	}
	return fmt.Errorf("%s: status %d: %s: %s", op, resp.StatusCode(), code, msg)
}
