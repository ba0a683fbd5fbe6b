package smoke

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"testing"

	"github.com/bybsong/vllm/internal/providers"
)

func TestImage(t *testing.T) {
	img := Image()
	if img.Bounds().Dx() != ImageWidth || img.Bounds().Dy() != ImageHeight {
		t.Fatalf("image is %dx%d, want %dx%d", img.Bounds().Dx(), img.Bounds().Dy(), ImageWidth, ImageHeight)
	}

	// Corners stay white, the text row has dark pixels.
	white := color.RGBA{255, 255, 255, 255}
	if got := img.RGBAAt(0, 0); got != white {
		t.Errorf("top-left = %v, want white", got)
	}
	if got := img.RGBAAt(ImageWidth-1, ImageHeight-1); got != white {
		t.Errorf("bottom-right = %v, want white", got)
	}

	dark := 0
	for y := 50; y < 90; y++ {
		for x := 50; x < 200; x++ {
			if img.RGBAAt(x, y).R < 128 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Error("expected text pixels")
	}
}

func TestRun(t *testing.T) {
	mock := providers.NewMockOCRProvider()
	mock.ResponseText = "SAMPLE INVOICE\nTotal: $1,234.56"

	result, err := Run(context.Background(), mock, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Text != mock.ResponseText {
		t.Errorf("Text = %q, want %q", result.Text, mock.ResponseText)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Instruction != providers.PromptSmoke {
		t.Errorf("Instruction = %q, want smoke prompt", reqs[0].Instruction)
	}
	if reqs[0].MaxTokens != MaxTokens {
		t.Errorf("MaxTokens = %d, want %d", reqs[0].MaxTokens, MaxTokens)
	}
	if reqs[0].MIMEType != providers.MIMEPNG {
		t.Errorf("MIMEType = %q, want %q", reqs[0].MIMEType, providers.MIMEPNG)
	}

	decoded, err := png.Decode(bytes.NewReader(reqs[0].Image))
	if err != nil {
		t.Fatalf("request image is not PNG: %v", err)
	}
	if decoded.Bounds().Dx() != ImageWidth {
		t.Errorf("request image width = %d, want %d", decoded.Bounds().Dx(), ImageWidth)
	}
}

func TestRun_Failure(t *testing.T) {
	mock := providers.NewMockOCRProvider()
	mock.FailPages[1] = errors.New("connection refused")

	if _, err := Run(context.Background(), mock, nil); err == nil {
		t.Error("expected error when the server fails")
	}
}
