package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "http://localhost:8001/v1"
	DefaultModel     = "nanonets/Nanonets-OCR2-3B"
	DefaultMaxTokens = 15000
	DefaultTimeout   = 600 * time.Second

	// noAPIKey is the placeholder local servers accept; it is never sent.
	noAPIKey = "EMPTY"
)

// ChatOCRConfig holds configuration for the chat-completions OCR client.
type ChatOCRConfig struct {
	Name    string // registry name, defaults to the model
	BaseURL string // e.g. http://localhost:8001/v1
	Model   string
	APIKey  string
	Prompt  string // instruction used when a request carries none

	// SystemPrompt is sent as a leading system message when UseSystemPrompt
	// is set, even if empty.
	SystemPrompt    string
	UseSystemPrompt bool

	MaxTokens         int
	Temperature       float64
	TopK              int     // sent only when > 0
	RepetitionPenalty float64 // sent only when > 0

	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ChatOCRClient implements OCRProvider against an OpenAI-compatible
// /chat/completions endpoint such as vLLM serving a vision OCR model.
type ChatOCRClient struct {
	name              string
	baseURL           string
	model             string
	apiKey            string
	prompt            string
	systemPrompt      *string
	maxTokens         int
	temperature       float64
	topK              int
	repetitionPenalty float64
	rateLimit         float64
	limiter           *rate.Limiter
	client            *http.Client
	logger            *slog.Logger
}

// NewChatOCRClient creates a new chat-completions OCR client.
func NewChatOCRClient(cfg ChatOCRConfig) *ChatOCRClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Model
	}
	if cfg.Prompt == "" {
		cfg.Prompt = PromptGeneral
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &ChatOCRClient{
		name:              cfg.Name,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		model:             cfg.Model,
		apiKey:            cfg.APIKey,
		prompt:            cfg.Prompt,
		maxTokens:         cfg.MaxTokens,
		temperature:       cfg.Temperature,
		topK:              cfg.TopK,
		repetitionPenalty: cfg.RepetitionPenalty,
		rateLimit:         cfg.RateLimit,
		client:            httpClient,
		logger:            cfg.Logger,
	}
	if cfg.UseSystemPrompt {
		system := cfg.SystemPrompt
		c.systemPrompt = &system
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// Name returns the provider identifier.
func (c *ChatOCRClient) Name() string {
	return c.name
}

// Model returns the served model name sent with each request.
func (c *ChatOCRClient) Model() string {
	return c.model
}

// BaseURL returns the API root, e.g. http://localhost:8001/v1.
func (c *ChatOCRClient) BaseURL() string {
	return c.baseURL
}

// Prompt returns the default instruction.
func (c *ChatOCRClient) Prompt() string {
	return c.prompt
}

// HealthCheck verifies the server is reachable using the /models endpoint,
// which does not consume tokens.
func (c *ChatOCRClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &RequestError{StatusCode: resp.StatusCode, Message: "invalid API key"}
	}
	if resp.StatusCode != http.StatusOK {
		return &RequestError{StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

// ProcessImage sends one page to the server and returns choices[0].message.content.
func (c *ChatOCRClient) ProcessImage(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	imageURL := req.ImageURL
	if imageURL == "" {
		if len(req.Image) == 0 {
			err := errors.New("no image data")
			return failed(requestID, start, err), err
		}
		imageURL = DataURI(req.MIMEType, req.Image)
	}

	instruction := req.Instruction
	if instruction == "" {
		instruction = c.prompt
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			rerr := &RequestError{Err: err}
			return failed(requestID, start, rerr), rerr
		}
	}

	resp, err := c.doRequest(ctx, requestID, c.buildRequest(imageURL, instruction, req.MaxTokens))
	if err != nil {
		c.logger.Debug("ocr request failed", "provider", c.name, "page", req.PageNum, "request_id", requestID, "error", err)
		return failed(requestID, start, err), err
	}

	choice := resp.Choices[0]
	c.logger.Debug("ocr request complete",
		"provider", c.name,
		"page", req.PageNum,
		"request_id", requestID,
		"chars", len(choice.Message.Content),
		"elapsed", time.Since(start),
	)

	return &OCRResult{
		Success:   true,
		Text:      choice.Message.Content,
		RequestID: requestID,
		Metadata: map[string]any{
			"model_used":        resp.Model,
			"finish_reason":     choice.FinishReason,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

// buildRequest composes the single-user-message payload: image part first,
// then the instruction.
func (c *ChatOCRClient) buildRequest(imageURL, instruction string, maxTokens int) chatRequest {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]chatMessage, 0, 2)
	if c.systemPrompt != nil {
		messages = append(messages, chatMessage{Role: "system", Content: *c.systemPrompt})
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: []contentPart{imagePart(imageURL), textPart(instruction)},
	})

	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	}
	if c.topK > 0 {
		topK := c.topK
		req.TopK = &topK
	}
	if c.repetitionPenalty > 0 {
		penalty := c.repetitionPenalty
		req.RepetitionPenalty = &penalty
	}
	return req
}

// doRequest posts body to /chat/completions and decodes the reply.
func (c *ChatOCRClient) doRequest(ctx context.Context, requestID string, body chatRequest) (*chatResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, &RequestError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
		}
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	return decodeChatResponse(respBody)
}

func (c *ChatOCRClient) setAuth(req *http.Request) {
	if c.apiKey != "" && c.apiKey != noAPIKey {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Verify interface
var _ OCRProvider = (*ChatOCRClient)(nil)
