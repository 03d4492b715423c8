// Package genai provides GenAI-backed classification and reply voicing using
// the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Defaults used when no option overrides them.
const (
	DefaultModel               = "gpt-4o-mini"
	DefaultTemperature         = 0.2
	DefaultMaxCompletionTokens = 400
)

var (
	// ErrNoChoicesReturned is returned when the API answers without choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrAPIKeyNotSet is returned by NewClient when no API key was provided.
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")
)

// chatService is the part of the chat completions API the client needs.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the SDK completions service to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface is the generation contract used by the classifier and the
// renderer.
type ClientInterface interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var _ ClientInterface = (*Client)(nil)

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int
	BaseURL             string
	DebugMode           bool
	StateDir            string
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the completion length.
func WithMaxCompletionTokens(n int) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithDebugMode writes every request and response under stateDir/debug.
func WithDebugMode(stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = true
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completions service.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int
	debugMode           bool
	stateDir            string
}

// NewClient creates a client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxCompletionTokens: DefaultMaxCompletionTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("genai.NewClient: API key not set")
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "debugMode", cfg.DebugMode)
	return &Client{
		chat:                &openaiChatService{client: openai.NewClient(reqOpts...)},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		debugMode:           cfg.DebugMode,
		stateDir:            cfg.StateDir,
	}, nil
}

func (c *Client) params(systemPrompt, userPrompt string) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxCompletionTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(c.maxCompletionTokens))
	}
	return p
}

// GeneratePromptWithContext returns the model's answer to a system and user
// prompt pair.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, "GeneratePromptWithContext", c.params(systemPrompt, userPrompt))
}

// GenerateJSON is GeneratePromptWithContext in JSON mode: the answer is a
// single JSON object.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	p := c.params(systemPrompt, userPrompt)
	p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	return c.complete(ctx, "GenerateJSON", p)
}

func (c *Client) complete(ctx context.Context, method string, params openai.ChatCompletionNewParams) (string, error) {
	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	c.writeDebug(method, params, resp, err)
	if err != nil {
		slog.Error("Client."+method+": completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Client."+method+": no choices returned", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	slog.Debug("Client."+method+": completion done", "model", c.model, "elapsed", time.Since(start))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// debugEntry is one request/response pair written in debug mode.
type debugEntry struct {
	Timestamp time.Time                      `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  openai.ChatCompletion          `json:"response"`
	Error     string                         `json:"error,omitempty"`
}

// writeDebug persists the exchange when debug mode is on. Failures are only
// logged.
func (c *Client) writeDebug(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	entry := debugEntry{Timestamp: time.Now().UTC(), Method: method, Model: c.model, Params: params, Response: resp}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebug: create dir failed", "dir", dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebug: encode failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Client.writeDebug: write failed", "error", err)
	}
}
