package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testRepo   = "acme/tiny-ocr"
	testCommit = "0123456789abcdef"
)

// fakeHub serves one repository at one commit.
type fakeHub struct {
	t     *testing.T
	files map[string][]byte

	mu         sync.Mutex
	ranges     map[string]string
	authHeader string
	failFirst  map[string]int // file -> remaining 500 responses
	fileHits   atomic.Int32
	infoHits   atomic.Int32
}

func newFakeHub(t *testing.T) (*fakeHub, *httptest.Server) {
	t.Helper()
	h := &fakeHub{
		t: t,
		files: map[string][]byte{
			"config.json":          []byte(`{"model_type":"ocr"}`),
			"model.safetensors":    bytes.Repeat([]byte("w"), 4096),
			"tokenizer/vocab.json": []byte(`{"a":1}`),
			"README.md":            []byte("# tiny"),
			"onnx/model_fp16.onnx": bytes.Repeat([]byte("o"), 128),
		},
		ranges:    make(map[string]string),
		failFirst: make(map[string]int),
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.authHeader = r.Header.Get("Authorization")
	h.mu.Unlock()

	infoPrefix := "/api/models/" + testRepo + "/revision/"
	filePrefix := "/" + testRepo + "/resolve/" + testCommit + "/"

	switch {
	case strings.HasPrefix(r.URL.Path, infoPrefix):
		h.infoHits.Add(1)
		rev := strings.TrimPrefix(r.URL.Path, infoPrefix)
		if rev != "main" && rev != testCommit {
			http.NotFound(w, r)
			return
		}
		type sibling struct {
			Name string `json:"rfilename"`
			Size int    `json:"size"`
		}
		var siblings []sibling
		for name, data := range h.files {
			siblings = append(siblings, sibling{Name: name, Size: len(data)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       testRepo,
			"sha":      testCommit,
			"siblings": siblings,
		})

	case strings.HasPrefix(r.URL.Path, filePrefix):
		h.fileHits.Add(1)
		name := strings.TrimPrefix(r.URL.Path, filePrefix)
		data, ok := h.files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.mu.Lock()
		if rg := r.Header.Get("Range"); rg != "" {
			h.ranges[name] = rg
		}
		if h.failFirst[name] > 0 {
			h.failFirst[name]--
			h.mu.Unlock()
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		h.mu.Unlock()
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))

	default:
		http.NotFound(w, r)
	}
}

func (h *fakeHub) auth() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authHeader
}

func (h *fakeHub) rangeFor(name string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ranges[name]
}

func newTestClient(srv *httptest.Server, token string) *Client {
	return NewClient(Config{
		Endpoint:   srv.URL,
		Token:      token,
		Workers:    2,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
}

// fileExists reports whether path names a regular file or directory.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRepoInfo(t *testing.T) {
	h, srv := newFakeHub(t)
	c := newTestClient(srv, "hf_secret")

	info, err := c.RepoInfo(context.Background(), testRepo, "")
	if err != nil {
		t.Fatalf("RepoInfo() error = %v", err)
	}
	if info.SHA != testCommit {
		t.Errorf("SHA = %q, want %q", info.SHA, testCommit)
	}
	if len(info.Siblings) != len(h.files) {
		t.Errorf("got %d siblings, want %d", len(info.Siblings), len(h.files))
	}
	if got := h.auth(); got != "Bearer hf_secret" {
		t.Errorf("Authorization = %q, want bearer token", got)
	}

	if _, err := c.RepoInfo(context.Background(), testRepo, "v9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown revision error = %v, want ErrNotFound", err)
	}
	if _, err := c.RepoInfo(context.Background(), "no-slash", ""); err == nil {
		t.Error("expected error for malformed repo id")
	}
}

func TestRepoInfo_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gated", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "").RepoInfo(context.Background(), testRepo, "main")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RepoInfo() error = %v, want ErrUnauthorized", err)
	}
}

func TestDownload_CacheLayout(t *testing.T) {
	h, srv := newFakeHub(t)
	c := newTestClient(srv, "")
	cache := t.TempDir()

	res, err := c.Download(context.Background(), testRepo, Options{CacheDir: cache})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	snapshot := filepath.Join(cache, "models--acme--tiny-ocr", "snapshots", testCommit)
	if res.Path != snapshot {
		t.Errorf("Path = %q, want %q", res.Path, snapshot)
	}
	if res.Commit != testCommit {
		t.Errorf("Commit = %q, want %q", res.Commit, testCommit)
	}
	if res.Files != len(h.files) || res.Downloaded != len(h.files) || res.Skipped != 0 {
		t.Errorf("Files/Downloaded/Skipped = %d/%d/%d, want %d/%d/0", res.Files, res.Downloaded, res.Skipped, len(h.files), len(h.files))
	}

	var total int64
	for name, want := range h.files {
		got, err := os.ReadFile(filepath.Join(snapshot, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s content mismatch", name)
		}
		total += int64(len(want))
	}
	if res.Bytes != total {
		t.Errorf("Bytes = %d, want %d", res.Bytes, total)
	}

	ref, err := os.ReadFile(filepath.Join(cache, "models--acme--tiny-ocr", "refs", "main"))
	if err != nil {
		t.Fatalf("failed to read ref: %v", err)
	}
	if string(ref) != testCommit {
		t.Errorf("refs/main = %q, want %q", ref, testCommit)
	}
}

func TestDownload_Idempotent(t *testing.T) {
	h, srv := newFakeHub(t)
	c := newTestClient(srv, "")
	cache := t.TempDir()

	if _, err := c.Download(context.Background(), testRepo, Options{CacheDir: cache}); err != nil {
		t.Fatalf("first Download() error = %v", err)
	}
	hits := h.fileHits.Load()

	res, err := c.Download(context.Background(), testRepo, Options{CacheDir: cache})
	if err != nil {
		t.Fatalf("second Download() error = %v", err)
	}
	if res.Downloaded != 0 || res.Skipped != len(h.files) {
		t.Errorf("Downloaded/Skipped = %d/%d, want 0/%d", res.Downloaded, res.Skipped, len(h.files))
	}
	if got := h.fileHits.Load(); got != hits {
		t.Errorf("complete files fetched again: %d file requests, want %d", got, hits)
	}
}

func TestDownload_ResumesPartialFile(t *testing.T) {
	h, srv := newFakeHub(t)
	c := newTestClient(srv, "")
	local := t.TempDir()

	partial := h.files["model.safetensors"][:1000]
	if err := os.WriteFile(filepath.Join(local, "model.safetensors"+incompleteSuffix), partial, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Download(context.Background(), testRepo, Options{LocalDir: local, AllowPatterns: []string{"*.safetensors"}}); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	if got := h.rangeFor("model.safetensors"); got != "bytes=1000-" {
		t.Errorf("Range = %q, want bytes=1000-", got)
	}
	got, err := os.ReadFile(filepath.Join(local, "model.safetensors"))
	if err != nil {
		t.Fatalf("failed to read resumed file: %v", err)
	}
	if !bytes.Equal(got, h.files["model.safetensors"]) {
		t.Error("resumed file content mismatch")
	}
	if fileExists(filepath.Join(local, "model.safetensors"+incompleteSuffix)) {
		t.Error("incomplete file left behind")
	}
}

func TestDownload_Patterns(t *testing.T) {
	_, srv := newFakeHub(t)
	c := newTestClient(srv, "")
	local := t.TempDir()

	res, err := c.Download(context.Background(), testRepo, Options{
		LocalDir:       local,
		AllowPatterns:  []string{"*.json", "*.safetensors", "*.onnx"},
		IgnorePatterns: []string{"onnx/*"},
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	if res.Files != 3 {
		t.Errorf("Files = %d, want 3", res.Files)
	}
	for _, name := range []string{"config.json", "tokenizer/vocab.json", "model.safetensors"} {
		if !fileExists(filepath.Join(local, filepath.FromSlash(name))) {
			t.Errorf("expected %s to be downloaded", name)
		}
	}
	for _, name := range []string{"README.md", "onnx/model_fp16.onnx"} {
		if fileExists(filepath.Join(local, filepath.FromSlash(name))) {
			t.Errorf("expected %s to be filtered out", name)
		}
	}

	if _, err := c.Download(context.Background(), testRepo, Options{LocalDir: local, AllowPatterns: []string{"["}}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestDownload_RetriesTransientFailures(t *testing.T) {
	h, srv := newFakeHub(t)
	h.failFirst["config.json"] = 2
	c := newTestClient(srv, "")

	res, err := c.Download(context.Background(), testRepo, Options{LocalDir: t.TempDir(), AllowPatterns: []string{"config.json"}})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", res.Downloaded)
	}
}

func TestDownload_GivesUpAfterMaxRetries(t *testing.T) {
	h, srv := newFakeHub(t)
	h.failFirst["config.json"] = 10
	c := newTestClient(srv, "")

	_, err := c.Download(context.Background(), testRepo, Options{LocalDir: t.TempDir(), AllowPatterns: []string{"config.json"}})
	if err == nil {
		t.Fatal("expected error after retries are exhausted")
	}
	for _, want := range []string{"config.json", "503"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestDownload_Marker(t *testing.T) {
	h, srv := newFakeHub(t)
	c := newTestClient(srv, "")
	root := t.TempDir()
	local := filepath.Join(root, "acme--tiny-ocr")
	marker := filepath.Join(root, ".acme--tiny-ocr.downloaded")

	res, err := c.Download(context.Background(), testRepo, Options{LocalDir: local, MarkerPath: marker})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Cached {
		t.Error("first download should not be cached")
	}
	if !fileExists(marker) {
		t.Error("expected marker file")
	}

	infoHits := h.infoHits.Load()
	res, err = c.Download(context.Background(), testRepo, Options{LocalDir: local, MarkerPath: marker})
	if err != nil {
		t.Fatalf("Download() with marker error = %v", err)
	}
	if !res.Cached || res.Path != local || res.Bytes <= 0 {
		t.Errorf("cached result = %+v, want Cached with path %s and a size", res, local)
	}
	if got := h.infoHits.Load(); got != infoHits {
		t.Errorf("marker should short-circuit the hub, info requests %d -> %d", infoHits, got)
	}

	// Marker without the directory downloads again.
	if err := os.RemoveAll(local); err != nil {
		t.Fatal(err)
	}
	res, err = c.Download(context.Background(), testRepo, Options{LocalDir: local, MarkerPath: marker})
	if err != nil {
		t.Fatalf("Download() after removal error = %v", err)
	}
	if res.Cached || res.Downloaded != len(h.files) {
		t.Errorf("Cached/Downloaded = %v/%d, want false/%d", res.Cached, res.Downloaded, len(h.files))
	}
}

func TestDownload_RequiresTarget(t *testing.T) {
	_, srv := newFakeHub(t)
	if _, err := newTestClient(srv, "").Download(context.Background(), testRepo, Options{}); err == nil {
		t.Error("expected error without a cache or local dir")
	}
}

func TestSelectFiles(t *testing.T) {
	files := []Sibling{{Filename: "a.json"}, {Filename: "sub/b.json"}, {Filename: "c.bin"}}

	got, err := selectFiles(files, nil, nil)
	if err != nil {
		t.Fatalf("selectFiles() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("no patterns selected %d files, want 3", len(got))
	}

	got, err = selectFiles(files, []string{"*.json"}, []string{"sub/*"})
	if err != nil {
		t.Fatalf("selectFiles() error = %v", err)
	}
	if len(got) != 1 || got[0].Filename != "a.json" {
		t.Errorf("selectFiles() = %v, want [a.json]", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536 * 1024, "1.50 MiB"},
		{2 << 30, "2.00 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
