package providers

import (
	"context"
	"time"
)

// OCRProvider turns one page image into text.
// One call per page; implementations never batch pages or retry.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "nanonets", "hunyuan").
	Name() string

	// ProcessImage extracts text from a single encoded image.
	// The returned result is non-nil even when err is non-nil.
	ProcessImage(ctx context.Context, req *OCRRequest) (*OCRResult, error)
}

// OCRRequest carries a single page to an OCR provider.
type OCRRequest struct {
	// Image is the encoded image (PNG or JPEG bytes).
	Image []byte

	// MIMEType of Image. Defaults to image/png.
	MIMEType string

	// ImageURL replaces the inline data URI when set (e.g. a file:// URI
	// the server can read directly).
	ImageURL string

	// Instruction is the text part sent alongside the image.
	// Empty means the provider's configured prompt.
	Instruction string

	// MaxTokens overrides the provider default when > 0.
	MaxTokens int

	// PageNum is the 1-based page number, used for logging and tracing.
	PageNum int
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	// Success/content
	Success bool   `json:"success"`
	Text    string `json:"text"`

	// Metadata from provider (model, token usage, finish reason)
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Request tracking
	RequestID string `json:"request_id,omitempty"`

	// Error info
	ErrorMessage string `json:"error_message,omitempty"`
}

// failed builds a failure result from err.
func failed(requestID string, start time.Time, err error) *OCRResult {
	return &OCRResult{
		Success:       false,
		RequestID:     requestID,
		ErrorMessage:  err.Error(),
		ExecutionTime: time.Since(start),
	}
}
