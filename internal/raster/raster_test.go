package raster

import (
	"context"
	"errors"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/bybsong/vllm/internal/testutil"
)

// fakeRenderer draws a Letter-sized blank page at the requested DPI.
type fakeRenderer struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]error
}

func (r *fakeRenderer) RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error) {
	r.mu.Lock()
	r.calls = append(r.calls, page)
	r.mu.Unlock()

	if err := r.fail[page]; err != nil {
		return nil, err
	}
	w, h := 612*dpi/72, 792*dpi/72
	return image.NewGray(image.Rect(0, 0, w, h)), nil
}

func collect(t *testing.T, doc *Document) ([]Page, []error) {
	t.Helper()
	var (
		pages []Page
		errs  []error
	)
	for p, err := range doc.Pages(context.Background()) {
		pages = append(pages, p)
		errs = append(errs, err)
	}
	return pages, errs
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(context.Background(), filepath.Join(dir, "nope.pdf"), Options{})
		var openErr *DocumentOpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected DocumentOpenError, got %v", err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist in chain, got %v", err)
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.pdf")
		if err := os.WriteFile(path, []byte("this is not a pdf"), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := Open(context.Background(), path, Options{})
		var openErr *DocumentOpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected DocumentOpenError, got %v", err)
		}
		if openErr.Path != path {
			t.Errorf("openErr.Path = %q, want %q", openErr.Path, path)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := Open(context.Background(), dir, Options{})
		var openErr *DocumentOpenError
		if !errors.As(err, &openErr) {
			t.Errorf("expected DocumentOpenError, got %v", err)
		}
	})

	t.Run("corrupt image", func(t *testing.T) {
		path := filepath.Join(dir, "broken.png")
		if err := os.WriteFile(path, []byte("not png"), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := Open(context.Background(), path, Options{})
		var openErr *DocumentOpenError
		if !errors.As(err, &openErr) {
			t.Errorf("expected DocumentOpenError, got %v", err)
		}
	})

	t.Run("page selection out of range", func(t *testing.T) {
		path := filepath.Join(dir, "two.pdf")
		testutil.WritePDF(t, path, 2)

		_, err := Open(context.Background(), path, Options{Pages: "3", Renderer: &fakeRenderer{}})
		if err == nil {
			t.Fatal("expected selection error")
		}
		var openErr *DocumentOpenError
		if errors.As(err, &openErr) {
			t.Errorf("selection errors are not open errors: %v", err)
		}
	})
}

// decryptDirs counts the scratch directories left by password-protected opens.
func decryptDirs(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "dococr-decrypt-*"))
	if err != nil {
		t.Fatal(err)
	}
	return len(matches)
}

func TestOpen_Encrypted(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.pdf")
	locked := filepath.Join(dir, "locked.pdf")
	testutil.WritePDF(t, plain, 2)
	if err := api.EncryptFile(plain, locked, model.NewAESConfiguration("secret", "secret", 256)); err != nil {
		t.Fatalf("EncryptFile() error = %v", err)
	}

	t.Run("no password", func(t *testing.T) {
		_, err := Open(context.Background(), locked, Options{Renderer: &fakeRenderer{}})
		var openErr *DocumentOpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected DocumentOpenError, got %v", err)
		}
		if n := decryptDirs(t); n != 0 {
			t.Errorf("scratch dirs = %d, want 0", n)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := Open(context.Background(), locked, Options{Password: "nope", Renderer: &fakeRenderer{}})
		var openErr *DocumentOpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected DocumentOpenError, got %v", err)
		}
		if n := decryptDirs(t); n != 0 {
			t.Errorf("failed open left %d scratch dirs behind", n)
		}
	})

	t.Run("right password", func(t *testing.T) {
		r := &fakeRenderer{}
		doc, err := Open(context.Background(), locked, Options{Password: "secret", Renderer: r})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if doc.PageCount() != 2 {
			t.Errorf("PageCount() = %d, want 2", doc.PageCount())
		}
		if n := decryptDirs(t); n != 1 {
			t.Errorf("scratch dirs while open = %d, want 1", n)
		}

		pages, errs := collect(t, doc)
		if len(pages) != 2 {
			t.Fatalf("got %d pages, want 2", len(pages))
		}
		for i, err := range errs {
			if err != nil {
				t.Errorf("page %d: %v", i+1, err)
			}
		}

		if err := doc.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		if n := decryptDirs(t); n != 0 {
			t.Errorf("scratch dirs after Close = %d, want 0", n)
		}
	})
}

func TestDocument_Pages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "three.pdf")
	testutil.WritePDF(t, path, 3)

	t.Run("yields every page in order", func(t *testing.T) {
		r := &fakeRenderer{}
		doc, err := Open(context.Background(), path, Options{Renderer: r})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if doc.PageCount() != 3 {
			t.Errorf("PageCount() = %d, want 3", doc.PageCount())
		}

		pages, errs := collect(t, doc)
		if len(pages) != 3 {
			t.Fatalf("got %d pages, want 3", len(pages))
		}
		for i, p := range pages {
			if errs[i] != nil {
				t.Errorf("page %d: %v", i+1, errs[i])
			}
			if p.Number != i+1 {
				t.Errorf("pages[%d].Number = %d, want %d", i, p.Number, i+1)
			}
			if p.DPI != DefaultDPI {
				t.Errorf("pages[%d].DPI = %d, want %d", i, p.DPI, DefaultDPI)
			}
			if p.Width() != 2550 || p.Height() != 3300 {
				t.Errorf("pages[%d] is %dx%d, want 2550x3300", i, p.Width(), p.Height())
			}
		}
		if !slices.Equal(r.calls, []int{1, 2, 3}) {
			t.Errorf("render calls = %v, want [1 2 3]", r.calls)
		}
	})

	t.Run("same dimensions on every run", func(t *testing.T) {
		dims := func() [][2]int {
			doc, err := Open(context.Background(), path, Options{DPI: 150, Renderer: &fakeRenderer{}})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			pages, _ := collect(t, doc)
			out := make([][2]int, len(pages))
			for i, p := range pages {
				out[i] = [2]int{p.Width(), p.Height()}
			}
			return out
		}
		first, second := dims(), dims()
		if len(first) != 3 {
			t.Fatalf("got %d pages, want 3", len(first))
		}
		if !slices.Equal(first, second) {
			t.Errorf("dimensions changed between runs: %v vs %v", first, second)
		}
	})

	t.Run("page selection", func(t *testing.T) {
		r := &fakeRenderer{}
		doc, err := Open(context.Background(), path, Options{Pages: "2-", Renderer: r})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if got := doc.Selected(); !slices.Equal(got, []int{2, 3}) {
			t.Errorf("Selected() = %v, want [2 3]", got)
		}

		pages, _ := collect(t, doc)
		if len(pages) != 2 {
			t.Fatalf("got %d pages, want 2", len(pages))
		}
		if pages[0].Number != 2 || pages[1].Number != 3 {
			t.Errorf("page numbers = %d,%d, want 2,3", pages[0].Number, pages[1].Number)
		}
	})

	t.Run("render failure is yielded and iteration continues", func(t *testing.T) {
		r := &fakeRenderer{fail: map[int]error{2: errors.New("boom")}}
		doc, err := Open(context.Background(), path, Options{Renderer: r})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		pages, errs := collect(t, doc)
		if len(pages) != 3 {
			t.Fatalf("got %d pages, want 3", len(pages))
		}
		if errs[0] != nil || errs[2] != nil {
			t.Errorf("unexpected errors on pages 1 and 3: %v, %v", errs[0], errs[2])
		}
		if errs[1] == nil || errs[1].Error() != "boom" {
			t.Errorf("page 2 error = %v, want boom", errs[1])
		}
		if pages[1].Number != 2 {
			t.Errorf("failed page Number = %d, want 2", pages[1].Number)
		}
		if pages[1].Image != nil {
			t.Error("failed page should carry no image")
		}
	})

	t.Run("early break closes the document", func(t *testing.T) {
		r := &fakeRenderer{}
		doc, err := Open(context.Background(), path, Options{Renderer: r})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		for p := range doc.Pages(context.Background()) {
			if p.Number != 1 {
				t.Errorf("first page Number = %d, want 1", p.Number)
			}
			break
		}
		if !slices.Equal(r.calls, []int{1}) {
			t.Errorf("pages after the break must not render, calls = %v", r.calls)
		}

		_, errs := collect(t, doc)
		if len(errs) != 1 {
			t.Fatalf("got %d results after close, want 1", len(errs))
		}
		if !errors.Is(errs[0], ErrClosed) {
			t.Errorf("error = %v, want ErrClosed", errs[0])
		}
		if err := doc.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
	})

	t.Run("cancelled context fails remaining pages", func(t *testing.T) {
		r := &fakeRenderer{}
		doc, err := Open(context.Background(), path, Options{Renderer: r})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		count := 0
		for p, err := range doc.Pages(ctx) {
			count++
			if !errors.Is(err, context.Canceled) {
				t.Errorf("page %d error = %v, want context.Canceled", p.Number, err)
			}
			if p.Number == 0 {
				t.Error("cancelled page should keep its number")
			}
		}
		if count != 3 {
			t.Errorf("yielded %d pages, want 3", count)
		}
		if len(r.calls) != 0 {
			t.Errorf("renderer called %v after cancel", r.calls)
		}
	})

	t.Run("max dimension downscales", func(t *testing.T) {
		doc, err := Open(context.Background(), path, Options{Pages: "1", MaxDim: 1000, Renderer: &fakeRenderer{}})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		pages, _ := collect(t, doc)
		if len(pages) != 1 {
			t.Fatalf("got %d pages, want 1", len(pages))
		}
		if pages[0].Width() > 1000 {
			t.Errorf("width = %d, want <= 1000", pages[0].Width())
		}
		if pages[0].Height() != 1000 {
			t.Errorf("height = %d, want 1000", pages[0].Height())
		}
	})
}

func TestDocument_Image(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	testutil.WritePNG(t, path, 30, 20)

	doc, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if doc.PageCount() != 1 {
		t.Errorf("PageCount() = %d, want 1", doc.PageCount())
	}

	pages, errs := collect(t, doc)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if errs[0] != nil {
		t.Fatalf("page error = %v", errs[0])
	}
	if pages[0].Number != 1 {
		t.Errorf("Number = %d, want 1", pages[0].Number)
	}
	if pages[0].Width() != 30 || pages[0].Height() != 20 {
		t.Errorf("image is %dx%d, want 30x20", pages[0].Width(), pages[0].Height())
	}
}

func TestIsImagePath(t *testing.T) {
	tests := map[string]bool{
		"a/b/scan.PNG": true,
		"photo.jpeg":   true,
		"fax.tiff":     true,
		"report.pdf":   false,
		"noext":        false,
	}
	for path, want := range tests {
		if got := IsImagePath(path); got != want {
			t.Errorf("IsImagePath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestPdftoppmRenderer(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "two.pdf")
	testutil.WritePDF(t, path, 2)

	render := func() []Page {
		doc, err := Open(context.Background(), path, Options{DPI: 72})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		pages, errs := collect(t, doc)
		for _, err := range errs {
			if err != nil {
				t.Fatalf("render error = %v", err)
			}
		}
		return pages
	}

	first := render()
	second := render()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("got %d and %d pages, want 2", len(first), len(second))
	}
	within := func(got, want int) bool { return got >= want-1 && got <= want+1 }
	for i := range first {
		if !within(first[i].Width(), 612) || !within(first[i].Height(), 792) {
			t.Errorf("page %d is %dx%d, want about 612x792", i+1, first[i].Width(), first[i].Height())
		}
		if first[i].Width() != second[i].Width() || first[i].Height() != second[i].Height() {
			t.Errorf("page %d dimensions differ between runs", i+1)
		}
	}
}

func TestPdftoppmRenderer_MissingBinary(t *testing.T) {
	r := &PdftoppmRenderer{Binary: "definitely-not-pdftoppm-12345"}
	_, err := r.RenderPage(context.Background(), "x.pdf", 1, 72)
	if !errors.Is(err, ErrRendererNotFound) {
		t.Errorf("error = %v, want ErrRendererNotFound", err)
	}
}
