// Package smoke checks an OCR endpoint end to end with a generated image.
package smoke

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bybsong/vllm/internal/providers"
)

const (
	ImageWidth  = 400
	ImageHeight = 200

	// MaxTokens caps the reply for the smoke request.
	MaxTokens = 500
)

// Lines is the text drawn onto the smoke image, one entry per line.
var Lines = []string{"SAMPLE INVOICE", "Total: $1,234.56"}

// Image renders Lines in black on a white 400x200 canvas, starting at (50, 50).
func Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, ImageWidth, ImageHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: color.Black},
		Face: face,
	}

	lineHeight := face.Metrics().Height.Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	for i, line := range Lines {
		drawer.Dot = fixed.P(50, 50+ascent+i*lineHeight)
		drawer.DrawString(line)
	}
	return img
}

// Run sends the smoke image to provider and returns the extracted text.
// A failed request or an unsuccessful result is an error.
func Run(ctx context.Context, provider providers.OCRProvider, logger *slog.Logger) (*providers.OCRResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := providers.EncodePNG(Image())
	if err != nil {
		return nil, fmt.Errorf("failed to encode smoke image: %w", err)
	}

	logger.Info("sending smoke request", "provider", provider.Name(), "bytes", len(data))
	result, err := provider.ProcessImage(ctx, &providers.OCRRequest{
		Image:       data,
		MIMEType:    providers.MIMEPNG,
		Instruction: providers.PromptSmoke,
		MaxTokens:   MaxTokens,
		PageNum:     1,
	})
	if err != nil {
		return result, err
	}
	if !result.Success {
		return result, fmt.Errorf("smoke request failed: %s", result.ErrorMessage)
	}

	logger.Info("smoke request complete", "provider", provider.Name(), "chars", utf8.RuneCountInString(result.Text), "elapsed", result.ExecutionTime)
	return result, nil
}
