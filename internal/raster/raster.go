// Package raster turns documents into page images.
//
// PDFs are counted and validated with pdfcpu and rendered page by page with
// pdftoppm. Standalone images (PNG, JPEG, GIF, TIFF, WebP, BMP) are treated
// as one-page documents.
package raster

import (
	"context"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/webp"
)

// DefaultDPI is the render resolution used when none is configured.
const DefaultDPI = 300

// Options configures how a document is opened and rendered.
type Options struct {
	// DPI is the render resolution for PDF pages (default: 300).
	DPI int

	// Pages is a selection such as "1-3,7". Empty means all pages.
	Pages string

	// Password decrypts protected PDFs (used as user and owner password).
	Password string

	// MaxDim downscales pages so neither side exceeds it. 0 disables.
	MaxDim int

	// Renderer renders PDF pages (default: pdftoppm).
	Renderer Renderer

	Logger *slog.Logger
}

// Page is one rendered page. Number is 1-based and is the page's only identity.
type Page struct {
	Number int
	Image  image.Image
	DPI    int
}

// Width returns the pixel width, 0 when the page failed to render.
func (p Page) Width() int {
	if p.Image == nil {
		return 0
	}
	return p.Image.Bounds().Dx()
}

// Height returns the pixel height, 0 when the page failed to render.
func (p Page) Height() int {
	if p.Image == nil {
		return 0
	}
	return p.Image.Bounds().Dy()
}

// Document is an opened source. Its pages can be iterated once; the
// iteration releases every resource when it ends.
type Document struct {
	path      string
	isImage   bool
	pdfPath   string // original or decrypted copy
	tmpDir    string // scratch space, removed on Close
	pageCount int
	pages     []int
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".tif": true, ".tiff": true, ".webp": true, ".bmp": true,
}

// IsImagePath reports whether path names a standalone image by extension.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Open opens path for rasterization. It fails with *DocumentOpenError when
// the file is missing or cannot be parsed.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Renderer == nil {
		opts.Renderer = &PdftoppmRenderer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &DocumentOpenError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &DocumentOpenError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	d := &Document{path: path, pdfPath: path, opts: opts, logger: opts.Logger}

	if IsImagePath(path) {
		if err := checkImage(path); err != nil {
			return nil, &DocumentOpenError{Path: path, Err: err}
		}
		d.isImage = true
		d.pageCount = 1
	} else if err := d.openPDF(ctx); err != nil {
		d.Close()
		return nil, &DocumentOpenError{Path: path, Err: err}
	}

	pages, err := ParsePages(opts.Pages, d.pageCount)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.pages = pages

	d.logger.Debug("document opened", "path", path, "pages", d.pageCount, "selected", len(pages), "dpi", opts.DPI)
	return d, nil
}

// openPDF validates the PDF and counts pages, decrypting first if needed.
func (d *Document) openPDF(ctx context.Context) error {
	count, err := pdfPageCount(d.path)
	if err != nil && d.opts.Password != "" && isEncryptionError(err) {
		if err := ctx.Err(); err != nil {
			return err
		}
		decrypted, derr := d.decrypt()
		if derr != nil {
			return derr
		}
		d.pdfPath = decrypted
		count, err = pdfPageCount(decrypted)
	}
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("document has no pages")
	}
	d.pageCount = count
	return nil
}

func (d *Document) decrypt() (string, error) {
	tmpDir, err := os.MkdirTemp("", "dococr-decrypt-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	d.tmpDir = tmpDir

	conf := pdfConfig()
	conf.UserPW = d.opts.Password
	conf.OwnerPW = d.opts.Password

	out := filepath.Join(tmpDir, "decrypted.pdf")
	if err := api.DecryptFile(d.path, out, conf); err != nil {
		return "", fmt.Errorf("failed to decrypt PDF: %w", err)
	}
	return out, nil
}

// PageCount returns the total number of pages in the source.
func (d *Document) PageCount() int {
	return d.pageCount
}

// Selected returns the page numbers Pages will yield, in order.
func (d *Document) Selected() []int {
	out := make([]int, len(d.pages))
	copy(out, d.pages)
	return out
}

// Path returns the source path.
func (d *Document) Path() string {
	return d.path
}

// Pages renders the selected pages lazily and in page order. A page that
// fails to render is yielded with its Number set and a non-nil error.
// The document is closed when iteration ends, including on early break,
// so Pages can only be ranged over once.
func (d *Document) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		d.mu.Lock()
		if d.closed || d.started {
			d.mu.Unlock()
			yield(Page{}, ErrClosed)
			return
		}
		d.started = true
		d.mu.Unlock()
		defer d.Close()

		for _, n := range d.pages {
			img, err := d.render(ctx, n)
			if err != nil {
				d.logger.Warn("page render failed", "path", d.path, "page", n, "error", err)
				if !yield(Page{Number: n, DPI: d.opts.DPI}, err) {
					return
				}
				continue
			}
			if !yield(Page{Number: n, Image: img, DPI: d.opts.DPI}, nil) {
				return
			}
		}
	}
}

func (d *Document) render(ctx context.Context, n int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		img image.Image
		err error
	)
	if d.isImage {
		img, err = imaging.Open(d.path, imaging.AutoOrientation(true))
	} else {
		img, err = d.opts.Renderer.RenderPage(ctx, d.pdfPath, n, d.opts.DPI)
	}
	if err != nil {
		return nil, err
	}

	if limit := d.opts.MaxDim; limit > 0 {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		}
	}
	return img, nil
}

// Close releases scratch files. It is safe to call more than once.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.tmpDir != "" {
		return os.RemoveAll(d.tmpDir)
	}
	return nil
}

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func pdfPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return api.PageCount(f, pdfConfig())
}

func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypt") ||
		strings.Contains(msg, "password") ||
		strings.Contains(msg, "decrypt")
}

func checkImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return fmt.Errorf("not a decodable image: %w", err)
	}
	return nil
}
