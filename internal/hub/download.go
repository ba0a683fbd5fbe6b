package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"
)

const incompleteSuffix = ".incomplete"

// Options selects what to download and where.
type Options struct {
	// Revision is a branch, tag or commit (default: main).
	Revision string

	// CacheDir stores files in the hub cache layout.
	CacheDir string

	// LocalDir stores files flat under this directory. Takes precedence
	// over CacheDir.
	LocalDir string

	// AllowPatterns keeps only files matching at least one glob.
	// IgnorePatterns drops files matching any glob. A pattern matches
	// either the full repository path or the base name.
	AllowPatterns  []string
	IgnorePatterns []string

	// MarkerPath is touched after a complete download. When it exists
	// along with the target directory the download is skipped.
	MarkerPath string
}

// Result summarizes a download.
type Result struct {
	RepoID     string `json:"repo_id" yaml:"repo_id"`
	Revision   string `json:"revision" yaml:"revision"`
	Commit     string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Path       string `json:"path" yaml:"path"`
	Files      int    `json:"files" yaml:"files"`
	Downloaded int    `json:"downloaded" yaml:"downloaded"`
	Skipped    int    `json:"skipped" yaml:"skipped"`
	Bytes      int64  `json:"bytes" yaml:"bytes"`
	Cached     bool   `json:"cached,omitempty" yaml:"cached,omitempty"`
	Elapsed    string `json:"elapsed" yaml:"elapsed"`
}

// CacheRepoDir returns <cacheDir>/models--org--name.
func CacheRepoDir(cacheDir, repoID string) string {
	return filepath.Join(cacheDir, "models--"+strings.ReplaceAll(repoID, "/", "--"))
}

// Download fetches every selected file of repoID.
func (c *Client) Download(ctx context.Context, repoID string, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Revision == "" {
		opts.Revision = DefaultRevision
	}
	if opts.LocalDir == "" && opts.CacheDir == "" {
		return nil, fmt.Errorf("a cache dir or local dir is required")
	}
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}

	res := &Result{RepoID: repoID, Revision: opts.Revision}

	if existing := c.existingTarget(repoID, opts); existing != "" {
		res.Path = existing
		res.Cached = true
		bytes, err := DirSize(existing)
		if err != nil {
			return nil, err
		}
		res.Bytes = bytes
		res.Elapsed = time.Since(start).Round(time.Millisecond).String()
		c.logger.Info("model already downloaded", "repo", repoID, "path", existing)
		return res, nil
	}

	info, err := c.RepoInfo(ctx, repoID, opts.Revision)
	if err != nil {
		return nil, err
	}
	res.Commit = info.SHA

	files, err := selectFiles(info.Siblings, opts.AllowPatterns, opts.IgnorePatterns)
	if err != nil {
		return nil, err
	}
	res.Files = len(files)

	target := opts.LocalDir
	if target == "" {
		target = filepath.Join(CacheRepoDir(opts.CacheDir, repoID), "snapshots", info.SHA)
	}
	res.Path = target
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	c.logger.Info("downloading model",
		"repo", repoID,
		"revision", opts.Revision,
		"commit", info.SHA,
		"files", len(files),
		"bytes", TotalSize(files),
		"target", target,
	)

	var downloaded, skipped atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, f := range files {
		g.Go(func() error {
			fetched, err := c.downloadFile(gctx, repoID, info.SHA, f, target)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Filename, err)
			}
			if fetched {
				downloaded.Add(1)
			} else {
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Downloaded = int(downloaded.Load())
	res.Skipped = int(skipped.Load())

	if opts.LocalDir == "" && opts.Revision != info.SHA {
		if err := writeRef(CacheRepoDir(opts.CacheDir, repoID), opts.Revision, info.SHA); err != nil {
			return nil, err
		}
	}
	if opts.MarkerPath != "" {
		if err := touch(opts.MarkerPath); err != nil {
			return nil, err
		}
	}

	if res.Bytes, err = DirSize(target); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	c.logger.Info("download complete", "repo", repoID, "path", target, "downloaded", res.Downloaded, "skipped", res.Skipped, "bytes", res.Bytes)
	return res, nil
}

// existingTarget returns the target directory when the marker says a
// previous download finished and the directory is still there.
func (c *Client) existingTarget(repoID string, opts Options) string {
	if opts.MarkerPath == "" {
		return ""
	}
	if _, err := os.Stat(opts.MarkerPath); err != nil {
		return ""
	}

	dir := opts.LocalDir
	if dir == "" {
		repoDir := CacheRepoDir(opts.CacheDir, repoID)
		commit := opts.Revision
		if ref, err := os.ReadFile(filepath.Join(repoDir, "refs", opts.Revision)); err == nil {
			commit = strings.TrimSpace(string(ref))
		}
		dir = filepath.Join(repoDir, "snapshots", commit)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return ""
	}
	return dir
}

// downloadFile fetches one file, resuming a partial download. It reports
// false when the file was already complete.
func (c *Client) downloadFile(ctx context.Context, repoID, commit string, f Sibling, target string) (bool, error) {
	if !filepath.IsLocal(filepath.FromSlash(f.Filename)) {
		return false, fmt.Errorf("refusing to write outside target directory")
	}
	dest := filepath.Join(target, filepath.FromSlash(f.Filename))

	if st, err := os.Stat(dest); err == nil && (f.Size == 0 || st.Size() == f.Size) {
		c.logger.Debug("file up to date", "file", f.Filename)
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	fileURL := c.fileURL(repoID, commit, f.Filename)
	err := retry.Do(
		func() error {
			return c.fetch(ctx, fileURL, dest, f.Size)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnauthorized)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying download", "file", f.Filename, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return false, err
	}

	c.logger.Info("downloaded file", "file", f.Filename, "bytes", f.Size)
	return true, nil
}

// fetch downloads url into dest via dest.incomplete, resuming from its
// current length.
func (c *Client) fetch(ctx context.Context, fileURL, dest string, size int64) error {
	tmp := dest + incompleteSuffix

	var offset int64
	if st, err := os.Stat(tmp); err == nil {
		offset = st.Size()
	}
	if size > 0 && offset == size {
		return os.Rename(tmp, dest)
	}
	if size > 0 && offset > size {
		offset = 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file already holds everything the server has.
		return os.Rename(tmp, dest)
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
	default:
		return statusError(resp, filepath.Base(dest))
	}

	out, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}
	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("download interrupted: %w", copyErr)
	}
	if closeErr != nil {
		return closeErr
	}

	if size > 0 {
		st, err := os.Stat(tmp)
		if err != nil {
			return err
		}
		if st.Size() != size {
			return fmt.Errorf("size mismatch: got %d bytes, want %d", st.Size(), size)
		}
	}
	return os.Rename(tmp, dest)
}

// selectFiles applies allow and ignore patterns.
func selectFiles(files []Sibling, allow, ignore []string) ([]Sibling, error) {
	for _, p := range append(append([]string{}, allow...), ignore...) {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}

	out := make([]Sibling, 0, len(files))
	for _, f := range files {
		if len(allow) > 0 && !matchAny(allow, f.Filename) {
			continue
		}
		if matchAny(ignore, f.Filename) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func matchAny(patterns []string, name string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

func writeRef(repoDir, revision, commit string) error {
	refPath := filepath.Join(repoDir, "refs", filepath.FromSlash(revision))
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("failed to create refs directory: %w", err)
	}
	return os.WriteFile(refPath, []byte(commit), 0o644)
}

func touch(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create marker: %w", err)
	}
	now := time.Now()
	_ = os.Chtimes(p, now, now)
	return f.Close()
}

// DirSize sums the size of regular files under dir, skipping partial files.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, incompleteSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", dir, err)
	}
	return total, nil
}

// FormatBytes renders n in binary units, e.g. 1.50 GiB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
