package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiOption applies a configuration option to the GeminiJudge.
type GeminiOption func(*geminiSettings)

type geminiSettings struct {
	model       string
	temperature float32
	baseURL     string
	httpClient  *http.Client
	log         logger.Logger
}

// WithGeminiModel sets the model name.
func WithGeminiModel(name string) GeminiOption {
	return func(s *geminiSettings) {
		if name != "" {
			s.model = name
		}
	}
}

// WithGeminiTemperature sets the sampling temperature.
func WithGeminiTemperature(t float32) GeminiOption {
	return func(s *geminiSettings) {
		if t >= 0 {
			s.temperature = t
		}
	}
}

// WithGeminiBaseURL points the client at another endpoint.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(s *geminiSettings) {
		s.baseURL = url
	}
}

// WithGeminiHTTPClient sets the HTTP client used by the SDK.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(s *geminiSettings) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithGeminiLogger sets the logger.
func WithGeminiLogger(l logger.Logger) GeminiOption {
	return func(s *geminiSettings) {
		if l != nil {
			s.log = l
		}
	}
}

// GeminiJudge asks Gemini for a JSON analysis constrained by a response
// schema.
type GeminiJudge struct {
	client      *genai.Client
	model       string
	temperature float32
	log         logger.Logger
}

// NewGemini creates a Gemini-backed judge.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiJudge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is empty", ErrInvalidRequest)
	}
	s := geminiSettings{model: defaultGeminiModel, temperature: 0.1}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("judge")
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: s.httpClient,
	}
	if s.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiJudge{client: client, model: s.model, temperature: s.temperature, log: s.log}, nil
}

// Name implements Judge.
func (g *GeminiJudge) Name() string { return "gemini" }

// Judge implements Judge.
func (g *GeminiJudge) Judge(ctx context.Context, req Request) (model.Judgment, error) {
	if err := req.Validate(); err != nil {
		return model.Judgment{}, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		SystemInstruction: genai.NewContentFromText(systemPrompt(req), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Utterance), cfg)
	if err != nil {
		return model.Judgment{}, classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return model.Judgment{}, fmt.Errorf("%w: empty gemini response", ErrMalformedOutput)
	}
	j, err := parseAnalysis(text, req.Concepts)
	if err != nil {
		g.log.Debug(ctx, "unparseable gemini output", logger.String("text", text))
		return model.Judgment{}, err
	}
	return j, nil
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests && strings.Contains(strings.ToLower(apiErr.Message), "billing") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		}
		return classifyStatus(apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func responseSchema() *genai.Schema {
	list := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			fieldClear:      list("Concepts explained with genuine depth and accuracy"),
			fieldShallow:    list("Concepts mentioned without real understanding"),
			fieldMissing:    list("Core concepts not addressed at all"),
			fieldVagueness:  {Type: genai.TypeNumber, Description: "0 = extremely precise, 10 = entirely vague"},
			fieldConfidence: {Type: genai.TypeBoolean, Description: "Confident language used to mask gaps"},
			fieldDepth:      {Type: genai.TypeNumber, Description: "0 = surface level, 10 = expert depth"},
			fieldFollowUp:   {Type: genai.TypeString, Description: "Adversarial but fair question on the weakest gap"},
			fieldNote:       {Type: genai.TypeString, Description: "Brief note on the candidate's understanding"},
		},
		Required: []string{
			fieldClear, fieldShallow, fieldMissing, fieldVagueness, fieldConfidence, fieldDepth, fieldFollowUp,
		},
	}
}
