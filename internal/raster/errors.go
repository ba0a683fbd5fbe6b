package raster

import (
	"errors"
	"fmt"
)

var (
	// ErrRendererNotFound is returned when the page rendering binary is missing.
	ErrRendererNotFound = errors.New("pdftoppm not found in PATH (install poppler-utils)")

	// ErrClosed is returned when pages are requested from a closed document.
	ErrClosed = errors.New("document is closed")
)

// DocumentOpenError means the source could not be opened or parsed.
// It is fatal: no page is processed.
type DocumentOpenError struct {
	Path string
	Err  error
}

func (e *DocumentOpenError) Error() string {
	return fmt.Sprintf("failed to open document %s: %v", e.Path, e.Err)
}

func (e *DocumentOpenError) Unwrap() error {
	return e.Err
}
