package providers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

// DataURI embeds data as a base64 data: URI. An empty mimeType means PNG.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = MIMEPNG
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FileURI returns a file:// URI for path, made absolute first.
// The server must be started with access to the same filesystem.
func FileURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// EncodePNG encodes a rendered page as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// PrepareImage returns bytes and a MIME type the server accepts.
// PNG and JPEG pass through untouched; any other decodable format is
// re-encoded as PNG.
func PrepareImage(data []byte) ([]byte, string, error) {
	switch mimeType := http.DetectContentType(data); mimeType {
	case MIMEPNG, MIMEJPEG:
		return data, mimeType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("unsupported image: %w", err)
	}
	png, err := EncodePNG(img)
	if err != nil {
		return nil, "", err
	}
	return png, MIMEPNG, nil
}
