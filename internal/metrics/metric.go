// Package metrics tracks per-page OCR outcomes for a run and exposes them
// as Prometheus collectors.
package metrics

import "time"

// Metric is the recorded outcome of one page.
type Metric struct {
	// Attribution
	Source string `json:"source" yaml:"source"`
	Page   int    `json:"page" yaml:"page"`

	// Provider info
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`

	// Tokens and output size
	PromptTokens     int `json:"prompt_tokens,omitempty" yaml:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty" yaml:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty" yaml:"total_tokens,omitempty"`
	Chars            int `json:"chars" yaml:"chars"`

	// Timing
	ExecutionSeconds float64 `json:"execution_seconds" yaml:"execution_seconds"`

	// Status
	Success      bool   `json:"success" yaml:"success"`
	ErrorType    string `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Error types recorded in Metric.ErrorType.
const (
	ErrorTypeRender         = "render"
	ErrorTypeRequest        = "request"
	ErrorTypeResponseFormat = "response_format"
	ErrorTypeOther          = "other"
)

// Status returns the label used for the pages counter.
func (m Metric) Status() string {
	if m.Success {
		return "success"
	}
	return "error"
}
