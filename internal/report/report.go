// Package report drives a document through the OCR client page by page and
// assembles the combined transcript.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/bybsong/vllm/internal/metrics"
	"github.com/bybsong/vllm/internal/providers"
	"github.com/bybsong/vllm/internal/raster"
)

// DefaultConcurrency keeps one request in flight at a time.
const DefaultConcurrency = 1

// Config configures a Driver.
type Config struct {
	// Provider performs OCR on each page (required).
	Provider providers.OCRProvider

	// Instruction replaces the document-class instruction when set.
	Instruction string

	// MaxTokens overrides the provider's max_tokens when > 0.
	MaxTokens int

	// Concurrency caps in-flight OCR requests (default: 1).
	Concurrency int

	// Raster controls page rendering.
	Raster raster.Options

	// Metrics receives one record per page. Optional.
	Metrics *metrics.Recorder

	Logger *slog.Logger
}

// Driver runs documents through OCR.
type Driver struct {
	provider    providers.OCRProvider
	instruction string
	maxTokens   int
	concurrency int
	raster      raster.Options
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// NewDriver creates a driver from cfg.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("OCR provider is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Raster.Logger == nil {
		cfg.Raster.Logger = cfg.Logger
	}

	return &Driver{
		provider:    cfg.Provider,
		instruction: cfg.Instruction,
		maxTokens:   cfg.MaxTokens,
		concurrency: cfg.Concurrency,
		raster:      cfg.Raster,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

// Run OCRs every selected page of the document at path.
//
// Opening the document is the only fatal step: a *raster.DocumentOpenError
// (or an invalid page selection) is returned with a nil report. After that
// every page gets exactly one PageResult, in page order, whether it
// succeeded or not. If ctx is cancelled the remaining pages are recorded as
// failures and the report is returned together with ctx.Err().
func (d *Driver) Run(ctx context.Context, path string, class providers.DocumentClass) (*Report, error) {
	instruction := d.instruction
	if instruction == "" {
		var err error
		if instruction, err = class.Instruction(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	doc, err := raster.Open(ctx, path, d.raster)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	selected := doc.Selected()
	rep := &Report{
		Source:    path,
		Class:     class,
		Provider:  d.provider.Name(),
		PageCount: doc.PageCount(),
		Pages:     make([]PageResult, len(selected)),
	}

	d.logger.Info("processing document",
		"path", path,
		"provider", rep.Provider,
		"class", class,
		"pages", len(selected),
		"concurrency", d.concurrency,
	)

	// Pages render in order on this goroutine; OCR calls fan out up to the
	// limit and write into their own slot, so results stay in page order.
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	i := 0
	for page, renderErr := range doc.Pages(ctx) {
		if i >= len(rep.Pages) {
			break
		}
		slot := &rep.Pages[i]
		i++

		if renderErr != nil {
			*slot = PageResult{Page: page.Number, Err: renderErr}
			d.record(path, *slot, metrics.ErrorTypeRender)
			continue
		}

		g.Go(func() error {
			*slot = d.processPage(ctx, page, instruction, len(selected))
			d.record(path, *slot, errorType(slot.Err))
			return nil
		})
	}
	_ = g.Wait()

	// Pages the iterator never reached (closed document) still get a record.
	for ; i < len(rep.Pages); i++ {
		rep.Pages[i] = PageResult{Page: selected[i], Err: raster.ErrClosed}
	}

	rep.Elapsed = time.Since(start)
	d.logger.Info("document complete",
		"path", path,
		"pages", len(rep.Pages),
		"failed", len(rep.Failed()),
		"chars", rep.Chars(),
		"elapsed", rep.Elapsed,
	)

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

func (d *Driver) processPage(ctx context.Context, page raster.Page, instruction string, total int) PageResult {
	start := time.Now()
	res := PageResult{Page: page.Number}

	data, err := providers.EncodePNG(page.Image)
	if err != nil {
		res.Err = fmt.Errorf("failed to encode page: %w", err)
		res.Elapsed = time.Since(start)
		return res
	}

	d.logger.Debug("sending page", "page", page.Number, "of", total, "bytes", len(data))
	result, err := d.provider.ProcessImage(ctx, &providers.OCRRequest{
		Image:       data,
		MIMEType:    providers.MIMEPNG,
		Instruction: instruction,
		MaxTokens:   d.maxTokens,
		PageNum:     page.Number,
	})
	res.Elapsed = time.Since(start)
	res.Result = result
	if err == nil && result != nil && !result.Success {
		err = errors.New(result.ErrorMessage)
	}
	if err != nil {
		res.Err = err
		d.logger.Warn("page failed", "page", page.Number, "of", total, "error", err)
		return res
	}

	res.Text = result.Text
	d.logger.Info("page complete", "page", page.Number, "of", total, "chars", utf8.RuneCountInString(res.Text), "elapsed", res.Elapsed)
	return res
}

func (d *Driver) record(source string, r PageResult, errType string) {
	if d.metrics == nil {
		return
	}
	m := metrics.Metric{
		Source:           source,
		Page:             r.Page,
		Provider:         d.provider.Name(),
		Chars:            utf8.RuneCountInString(r.Text),
		ExecutionSeconds: r.Elapsed.Seconds(),
		Success:          r.OK(),
	}
	if r.Result != nil {
		m.Model, _ = r.Result.Metadata["model_used"].(string)
		m.PromptTokens = metaInt(r.Result.Metadata, "prompt_tokens")
		m.CompletionTokens = metaInt(r.Result.Metadata, "completion_tokens")
		m.TotalTokens = metaInt(r.Result.Metadata, "total_tokens")
	}
	if r.Err != nil {
		m.ErrorType = errType
		m.ErrorMessage = r.Err.Error()
	}
	d.metrics.Record(m)
}

func errorType(err error) string {
	var (
		formatErr  *providers.ResponseFormatError
		requestErr *providers.RequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &formatErr):
		return metrics.ErrorTypeResponseFormat
	case errors.As(err, &requestErr):
		return metrics.ErrorTypeRequest
	default:
		return metrics.ErrorTypeOther
	}
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// PageResult is the outcome of one page: text on success, Err otherwise.
type PageResult struct {
	Page    int
	Text    string
	Err     error
	Elapsed time.Duration

	// Result is the provider's raw result, nil when no request was made.
	Result *providers.OCRResult
}

// OK reports whether the page was transcribed.
func (r PageResult) OK() bool {
	return r.Err == nil
}

// Content returns the text, or the inline error marker for a failed page.
func (r PageResult) Content() string {
	if r.Err != nil {
		return fmt.Sprintf("[Error processing page %d: %v]", r.Page, r.Err)
	}
	return r.Text
}

// Report is the result of one document run.
type Report struct {
	Source    string
	Class     providers.DocumentClass
	Provider  string
	PageCount int
	Pages     []PageResult
	Elapsed   time.Duration
}

// Text returns the combined transcript.
func (r *Report) Text() string {
	return Combine(r.Pages)
}

// Failed returns the page numbers that failed.
func (r *Report) Failed() []int {
	var out []int
	for _, p := range r.Pages {
		if !p.OK() {
			out = append(out, p.Page)
		}
	}
	return out
}

// Chars returns the number of characters in the combined transcript.
func (r *Report) Chars() int {
	return utf8.RuneCountInString(r.Text())
}

// Combine renders results as "# Page N" sections joined by a blank line.
func Combine(pages []PageResult) string {
	entries := make([]string, len(pages))
	for i, p := range pages {
		entries[i] = fmt.Sprintf("# Page %d\n\n%s\n\n", p.Page, p.Content())
	}
	return strings.Join(entries, "\n")
}
