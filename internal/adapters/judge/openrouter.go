package judge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
	"github.com/tidwall/gjson"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "google/gemini-2.5-flash"
	maxErrorDetail         = 256
)

// OpenRouterOption applies a configuration option to the OpenRouterJudge.
type OpenRouterOption func(*OpenRouterJudge)

// WithOpenRouterBaseURL sets the API root, e.g. an httptest server in tests.
func WithOpenRouterBaseURL(url string) OpenRouterOption {
	return func(o *OpenRouterJudge) {
		if url != "" {
			o.client.SetBaseURL(strings.TrimRight(url, "/"))
		}
	}
}

// WithOpenRouterModel sets the model slug.
func WithOpenRouterModel(name string) OpenRouterOption {
	return func(o *OpenRouterJudge) {
		if name != "" {
			o.model = name
		}
	}
}

// WithOpenRouterTimeout bounds every HTTP request.
func WithOpenRouterTimeout(d time.Duration) OpenRouterOption {
	return func(o *OpenRouterJudge) {
		if d > 0 {
			o.client.SetTimeout(d)
		}
	}
}

// WithOpenRouterLogger sets the logger.
func WithOpenRouterLogger(l logger.Logger) OpenRouterOption {
	return func(o *OpenRouterJudge) {
		if l != nil {
			o.log = l
		}
	}
}

// OpenRouterJudge calls an OpenAI-compatible chat-completions gateway and
// forces the analyze_response tool call.
type OpenRouterJudge struct {
	client *resty.Client
	model  string
	log    logger.Logger
}

// NewOpenRouter creates a chat-completions judge.
func NewOpenRouter(apiKey string, opts ...OpenRouterOption) (*OpenRouterJudge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openrouter api key is empty", ErrInvalidRequest)
	}
	o := &OpenRouterJudge{
		client: resty.New().
			SetBaseURL(defaultOpenRouterURL).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json"),
		model: defaultOpenRouterModel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("judge")
	}
	return o, nil
}

// Name implements Judge.
func (o *OpenRouterJudge) Name() string { return "openrouter" }

// Judge implements Judge.
func (o *OpenRouterJudge) Judge(ctx context.Context, req Request) (model.Judgment, error) {
	if err := req.Validate(); err != nil {
		return model.Judgment{}, err
	}

	payload := map[string]any{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt(req)},
			{"role": "user", "content": req.Utterance},
		},
		"tools": []map[string]any{{
			"type": "function",
			"function": map[string]any{
				"name":        toolName,
				"description": "Return structured analysis of the candidate's answer",
				"parameters":  parametersSchema(),
			},
		}},
		"tool_choice": map[string]any{"type": "function", "function": map[string]string{"name": toolName}},
	}

	resp, err := o.client.R().SetContext(ctx).SetBody(payload).Post("/chat/completions")
	if err != nil {
		return model.Judgment{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	body := resp.String()
	if resp.StatusCode() != http.StatusOK {
		return model.Judgment{}, classifyStatus(resp.StatusCode(), errorDetail(body))
	}

	args := gjson.Get(body, "choices.0.message.tool_calls.0.function.arguments")
	if args.Exists() && strings.TrimSpace(args.String()) != "" {
		return parseAnalysis(args.String(), req.Concepts)
	}
	content := gjson.Get(body, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return model.Judgment{}, fmt.Errorf("%w: no tool call or content", ErrMalformedOutput)
	}
	o.log.Debug(ctx, "no tool call, parsing message content")
	return parseAnalysis(content, req.Concepts)
}

func errorDetail(body string) string {
	if msg := gjson.Get(body, "error.message").String(); msg != "" {
		return msg
	}
	if len(body) > maxErrorDetail {
		return body[:maxErrorDetail]
	}
	return body
}
