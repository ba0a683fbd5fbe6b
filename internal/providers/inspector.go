package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// InspectorConfig holds configuration for the server inspector.
type InspectorConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// Inspector talks to the inference server through the official OpenAI SDK:
// listing served models and sending plain text prompts. It is used to
// check a server before pointing OCR runs at it.
type Inspector struct {
	model  string
	client openai.Client
}

// ModelInfo describes one served model.
type ModelInfo struct {
	ID      string `json:"id" yaml:"id"`
	OwnedBy string `json:"owned_by" yaml:"owned_by"`
	Created int64  `json:"created" yaml:"created"`
}

// PromptRequest is a single text prompt.
type PromptRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// NewInspector creates a new server inspector.
func NewInspector(cfg InspectorConfig) *Inspector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = noAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	)

	return &Inspector{model: cfg.Model, client: client}
}

// Models lists the models the server is serving.
func (i *Inspector) Models(ctx context.Context) ([]ModelInfo, error) {
	page, err := i.client.Models.List(ctx)
	if err != nil {
		return nil, wrapOpenAIError("list models", err)
	}
	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy, Created: m.Created})
	}
	return models, nil
}

// Chat sends a chat completion and returns the first choice.
func (i *Inspector) Chat(ctx context.Context, req PromptRequest) (string, error) {
	resp, err := i.client.Chat.Completions.New(ctx, i.chatParams(req))
	if err != nil {
		return "", wrapOpenAIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ResponseFormatError{Reason: "no choices in chat completion"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Complete sends a legacy text completion.
func (i *Inspector) Complete(ctx context.Context, req PromptRequest) (string, error) {
	params := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(i.model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := i.client.Completions.New(ctx, params)
	if err != nil {
		return "", wrapOpenAIError("completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ResponseFormatError{Reason: "no choices in completion"}
	}
	return resp.Choices[0].Text, nil
}

// Stream sends a streaming chat completion, writing deltas to w as they
// arrive. It returns the number of bytes written.
func (i *Inspector) Stream(ctx context.Context, req PromptRequest, w io.Writer) (int, error) {
	stream := i.client.Chat.Completions.NewStreaming(ctx, i.chatParams(req))
	defer stream.Close()

	written := 0
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		n, err := io.WriteString(w, chunk.Choices[0].Delta.Content)
		written += n
		if err != nil {
			return written, err
		}
	}
	if err := stream.Err(); err != nil {
		return written, wrapOpenAIError("streaming chat completion", err)
	}
	return written, nil
}

func (i *Inspector) chatParams(req PromptRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(i.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// wrapOpenAIError maps SDK errors onto RequestError.
func wrapOpenAIError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &RequestError{StatusCode: apiErr.StatusCode, Message: fmt.Sprintf("%s: %s", op, apiErr.Message), Err: err}
	}
	return &RequestError{Message: op, Err: err}
}
