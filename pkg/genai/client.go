package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultModel       = "gemini-pro"
	DefaultMaxTokens   = 300
	DefaultTemperature = 0.7
)

// ErrEmptyCompletion is returned when the model answered without any text
var ErrEmptyCompletion = errors.New("genai: empty completion")

// APIError is a non-200 answer from the upstream API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Options configures a Client
type Options struct {
	BaseURL string
	Model   string
	// APIKey is sent as x-goog-api-key. Ignored when AccessToken is set.
	APIKey string
	// AccessToken switches to OAuth2 bearer authentication
	AccessToken       string
	RequestsPerMinute int
	MaxTokens         int
	Temperature       float64
}

// Client calls the Gemini generateContent endpoint with a local request throttle
type Client struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	apiKey      string
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
}

// NewClient creates a new text generation client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}
	if opts.AccessToken != "" {
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken}),
			Base:   http.DefaultTransport,
		}
		opts.APIKey = ""
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		apiKey:      opts.APIKey,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		limiter:     limiter,
	}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// waitRateLimit blocks until a request is allowed
func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// PitchRequest carries the context of one pitch draft
type PitchRequest struct {
	LeadName  string
	TweetText string
	UserBio   string
	Tone      string
}

// Completion is the generated text plus token accounting
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// GeneratePitch drafts a direct message for the lead described by req
func (c *Client) GeneratePitch(ctx context.Context, req PitchRequest) (*Completion, error) {
	return c.Generate(ctx, BuildPitchPrompt(req))
}

// Generate sends a single-turn prompt and returns the first candidate
func (c *Client) Generate(ctx context.Context, prompt string) (*Completion, error) {
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: c.maxTokens,
			Temperature:     c.temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var response generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var sb strings.Builder
	if len(response.Candidates) > 0 {
		for _, p := range response.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, ErrEmptyCompletion
	}

	log.Debug().
		Str("model", c.model).
		Int("total_tokens", response.UsageMetadata.TotalTokenCount).
		Msg("Generated completion")

	return &Completion{
		Text:             text,
		Model:            c.model,
		PromptTokens:     response.UsageMetadata.PromptTokenCount,
		CompletionTokens: response.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      response.UsageMetadata.TotalTokenCount,
	}, nil
}
