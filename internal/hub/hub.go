// Package hub downloads model snapshots from a Hugging Face compatible hub.
//
// Files land either in the hub cache layout that vLLM reads with
// HF_HUB_OFFLINE=1 (<cache>/models--org--name/snapshots/<commit>/...) or in
// a flat local directory. Partial files are kept as *.incomplete and resumed
// with HTTP Range requests; complete files are skipped.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEndpoint   = "https://huggingface.co"
	DefaultRevision   = "main"
	DefaultWorkers    = 8
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Second
)

var (
	// ErrNotFound is returned when the repository or revision does not exist.
	ErrNotFound = errors.New("repository or revision not found")

	// ErrUnauthorized is returned for gated or private repositories
	// without a valid token.
	ErrUnauthorized = errors.New("unauthorized: set hub.token for gated or private repositories")
)

// Config configures a hub client.
type Config struct {
	Endpoint   string // default: https://huggingface.co
	Token      string // sent as a bearer token when set
	Workers    int    // concurrent file downloads
	MaxRetries int    // attempts per file
	RetryDelay time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the hub API and file endpoints.
type Client struct {
	endpoint   string
	token      string
	workers    int
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewClient creates a hub client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.HTTPClient == nil {
		// No overall timeout: weight files take many minutes.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		token:      cfg.Token,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// RepoInfo describes one revision of a model repository.
type RepoInfo struct {
	ID       string    `json:"id"`
	SHA      string    `json:"sha"`
	Siblings []Sibling `json:"siblings"`
}

// Sibling is one file in a repository. Size is 0 when the hub omits it.
type Sibling struct {
	Filename string `json:"rfilename"`
	Size     int64  `json:"size"`
}

// TotalSize sums the sizes reported for files.
func TotalSize(files []Sibling) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}

// RepoInfo fetches the file list and commit of repoID at revision.
func (c *Client) RepoInfo(ctx context.Context, repoID, revision string) (*RepoInfo, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}
	if revision == "" {
		revision = DefaultRevision
	}

	u := fmt.Sprintf("%s/api/models/%s/revision/%s?blobs=true", c.endpoint, repoID, url.PathEscape(revision))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repo info: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, repoID+"@"+revision); err != nil {
		return nil, err
	}

	var info RepoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode repo info: %w", err)
	}
	if info.SHA == "" {
		return nil, fmt.Errorf("repo info for %s has no commit sha", repoID)
	}
	return &info, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "dococr")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) fileURL(repoID, commit, filename string) string {
	parts := strings.Split(filename, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repoID, commit, strings.Join(parts, "/"))
}

// statusError maps a non-success response to an error.
func statusError(resp *http.Response, what string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (%s, status %d)", ErrUnauthorized, what, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub returned status %d for %s: %s", resp.StatusCode, what, strings.TrimSpace(string(body)))
	}
}

func validateRepoID(repoID string) error {
	org, name, ok := strings.Cut(repoID, "/")
	if !ok || org == "" || name == "" || strings.Contains(name, "/") || strings.Contains(repoID, "..") {
		return fmt.Errorf("invalid repository id %q (want org/name)", repoID)
	}
	return nil
}
