package providers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMockOCRProvider(t *testing.T) {
	t.Run("returns response text", func(t *testing.T) {
		m := NewMockOCRProvider()
		m.ResponseText = "hello world"

		result, err := m.ProcessImage(context.Background(), &OCRRequest{Image: []byte("x"), PageNum: 1})
		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if !result.Success || result.Text != "hello world" {
			t.Errorf("unexpected result: %+v", result)
		}
		if m.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", m.RequestCount())
		}
	})

	t.Run("fails configured pages", func(t *testing.T) {
		m := NewMockOCRProvider()
		m.FailPages[2] = &RequestError{Message: "connection refused"}

		if _, err := m.ProcessImage(context.Background(), &OCRRequest{PageNum: 1}); err != nil {
			t.Errorf("page 1 error = %v", err)
		}
		result, err := m.ProcessImage(context.Background(), &OCRRequest{PageNum: 2})
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected RequestError, got %v", err)
		}
		if result.Success {
			t.Error("expected failed result")
		}
	})

	t.Run("latency honors context", func(t *testing.T) {
		m := NewMockOCRProvider()
		m.Latency = time.Second

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := m.ProcessImage(ctx, &OCRRequest{PageNum: 1})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("records requests concurrently", func(t *testing.T) {
		m := NewMockOCRProvider()
		var wg sync.WaitGroup
		for i := 1; i <= 10; i++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				_, _ = m.ProcessImage(context.Background(), &OCRRequest{PageNum: page})
			}(i)
		}
		wg.Wait()
		if len(m.Requests()) != 10 {
			t.Errorf("recorded %d requests, want 10", len(m.Requests()))
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("request error with status", func(t *testing.T) {
		err := &RequestError{StatusCode: 503, Message: "overloaded"}
		if err.Error() != "server error (status 503): overloaded" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("request error unwraps transport failure", func(t *testing.T) {
		err := &RequestError{Err: context.DeadlineExceeded}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Error("expected errors.Is to see wrapped error")
		}
		if !strings.HasPrefix(err.Error(), "request failed") {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("response format error", func(t *testing.T) {
		err := &ResponseFormatError{Reason: "missing choices[0].message.content"}
		if !strings.Contains(err.Error(), "missing choices[0].message.content") {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestEncoding(t *testing.T) {
	t.Run("data uri defaults to png", func(t *testing.T) {
		got := DataURI("", []byte("abc"))
		if got != "data:image/png;base64,YWJj" {
			t.Errorf("DataURI() = %q", got)
		}
	})

	t.Run("file uri is absolute", func(t *testing.T) {
		got, err := FileURI("/tmp/page 1.png")
		if err != nil {
			t.Fatalf("FileURI() error = %v", err)
		}
		if got != "file:///tmp/page%201.png" {
			t.Errorf("FileURI() = %q", got)
		}
	})

	t.Run("encode png round trips dimensions", func(t *testing.T) {
		data, err := EncodePNG(testImage(40, 20))
		if err != nil {
			t.Fatalf("EncodePNG() error = %v", err)
		}
		if http.DetectContentType(data) != MIMEPNG {
			t.Error("expected png bytes")
		}
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cfg.Width != 40 || cfg.Height != 20 {
			t.Errorf("dimensions = %dx%d, want 40x20", cfg.Width, cfg.Height)
		}
	})

	t.Run("prepare passes png through", func(t *testing.T) {
		data, _ := EncodePNG(testImage(4, 4))
		out, mimeType, err := PrepareImage(data)
		if err != nil {
			t.Fatalf("PrepareImage() error = %v", err)
		}
		if mimeType != MIMEPNG || !bytes.Equal(out, data) {
			t.Error("png should pass through unchanged")
		}
	})

	t.Run("prepare re-encodes gif as png", func(t *testing.T) {
		var buf bytes.Buffer
		if err := gif.Encode(&buf, testImage(8, 6), nil); err != nil {
			t.Fatalf("gif encode: %v", err)
		}
		out, mimeType, err := PrepareImage(buf.Bytes())
		if err != nil {
			t.Fatalf("PrepareImage() error = %v", err)
		}
		if mimeType != MIMEPNG || http.DetectContentType(out) != MIMEPNG {
			t.Errorf("expected png output, got %s", mimeType)
		}
	})

	t.Run("prepare rejects garbage", func(t *testing.T) {
		if _, _, err := PrepareImage([]byte("not an image")); err == nil {
			t.Error("expected error")
		}
	})
}
