package providers

import (
	"fmt"
)

// RequestError means the chat-completions call did not complete:
// transport failure, timeout, or a non-2xx status.
type RequestError struct {
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("server error (status %d)", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("request failed: %v", e.Err)
	default:
		return "request failed: " + e.Message
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ResponseFormatError means the server answered but the body did not
// carry choices[0].message.content.
type ResponseFormatError struct {
	Reason string
	Err    error
}

func (e *ResponseFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response format: %s: %v", e.Reason, e.Err)
	}
	return "unexpected response format: " + e.Reason
}

func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}
