package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// Renderer renders one page of a PDF at the given resolution.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error)
}

// PdftoppmRenderer renders pages with pdftoppm (poppler-utils).
type PdftoppmRenderer struct {
	// Binary overrides the executable (default: pdftoppm from PATH).
	Binary string

	// TempDir is where per-page scratch directories are created
	// (default: os.TempDir()).
	TempDir string
}

// RenderPage renders a single page from a PDF using pdftoppm.
func (r *PdftoppmRenderer) RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error) {
	bin := r.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	bin, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRendererNotFound, err)
	}

	tmpDir, err := os.MkdirTemp(r.TempDir, "dococr-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// -singlefile writes <prefix>.png without a page suffix.
	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	img, err := imaging.Open(outputPrefix + ".png")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
		}
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}

var _ Renderer = (*PdftoppmRenderer)(nil)
