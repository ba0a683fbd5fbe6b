package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/config"
	"github.com/bybsong/vllm/internal/metrics"
	"github.com/bybsong/vllm/internal/providers"
	"github.com/bybsong/vllm/internal/raster"
	"github.com/bybsong/vllm/internal/report"
	"github.com/bybsong/vllm/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Transcribe PDFs as they arrive in a directory",
	Long: `Watch a directory and OCR every new PDF, writing the transcript next to it
as <name>.ocr.md. Edits to the config file are picked up without restarting:
the next document uses the new provider settings.

Examples:
  dococr watch ~/scans/inbox
  dococr watch ./inbox --existing --provider hunyuan
  dococr watch ./inbox --pattern "*.pdf" --pattern "*.png"`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringArray("pattern", nil, `file name glob to process, repeatable (default: "*.pdf")`)
	f.Duration("settle", watch.DefaultSettle, "wait this long after the last write before processing")
	f.Bool("existing", false, "also process files already in the directory without a transcript")
	f.String("provider", "", "provider profile from config (default: defaults.provider)")
	f.Bool("financial", false, "use the financial document instruction")
	f.String("class", "", "document class: general or financial (default: defaults.document_class)")
	f.String("metrics-file", "", "rewrite prometheus metrics to this file after every document")

	rootCmd.AddCommand(watchCmd)
}

// watchRunner transcribes one document per call using the latest config.
type watchRunner struct {
	provider    string // --provider, empty = defaults.provider
	class       string // --class or --financial, empty = defaults.document_class
	metricsFile string
	registry    *providers.Registry
	recorder    *metrics.Recorder
	logger      *slog.Logger

	mu  sync.RWMutex
	cfg *config.Config
}

func newWatchRunner(cfg *config.Config, logger *slog.Logger) *watchRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &watchRunner{
		registry: providers.NewRegistryFromConfig(cfg.ToRegistryConfig(logger)),
		recorder: metrics.NewRecorder(),
		logger:   logger,
		cfg:      cfg,
	}
}

// reload swaps in a new config and re-registers changed providers.
func (w *watchRunner) reload(cfg *config.Config) {
	w.registry.Reload(cfg.ToRegistryConfig(w.logger))
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

func (w *watchRunner) current() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// handle OCRs path and returns the combined transcript. A run that was
// cancelled part way returns the error so no partial transcript is written.
func (w *watchRunner) handle(ctx context.Context, path string) (string, error) {
	cfg := w.current()

	name := w.provider
	if name == "" {
		name = cfg.Defaults.Provider
	}
	provider, err := w.registry.Get(name)
	if err != nil {
		return "", fmt.Errorf("provider %q: %w", name, err)
	}

	className := w.class
	if className == "" {
		className = cfg.Defaults.DocumentClass
	}
	class, err := providers.ParseDocumentClass(className)
	if err != nil {
		return "", err
	}

	var instruction string
	if pc, err := cfg.Provider(name); err == nil && pc.Prompt != "" && w.class == "" {
		instruction = pc.Prompt
	}

	driver, err := report.NewDriver(report.Config{
		Provider:    provider,
		Instruction: instruction,
		Concurrency: cfg.Defaults.Concurrency,
		Raster: raster.Options{
			DPI:    cfg.Defaults.DPI,
			MaxDim: cfg.Defaults.MaxDim,
		},
		Metrics: w.recorder,
		Logger:  w.logger,
	})
	if err != nil {
		return "", err
	}

	rep, err := driver.Run(ctx, path, class)
	if err != nil {
		return "", err
	}

	if w.metricsFile != "" {
		if err := w.recorder.WriteTextfile(w.metricsFile); err != nil {
			w.logger.Warn("failed to write metrics", "path", w.metricsFile, "error", err)
		}
	}
	return rep.Text(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cm, _, err := loadConfig(logger)
	if err != nil {
		return err
	}
	cfg := cm.Get()

	runner := newWatchRunner(cfg, logger)
	runner.provider, _ = cmd.Flags().GetString("provider")
	runner.metricsFile, _ = cmd.Flags().GetString("metrics-file")
	if classChosen(cmd) {
		class, err := resolveClass(cmd, cfg)
		if err != nil {
			return err
		}
		runner.class = string(class)
	}

	cm.OnChange(runner.reload)
	cm.WatchConfig()

	patterns, _ := cmd.Flags().GetStringArray("pattern")
	settle, _ := cmd.Flags().GetDuration("settle")
	existing, _ := cmd.Flags().GetBool("existing")

	w, err := watch.New(watch.Config{
		Dir:             args[0],
		Patterns:        patterns,
		Settle:          settle,
		ProcessExisting: existing,
		Handler:         runner.handle,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	err = w.Run(cmd.Context())
	summary := runner.recorder.Summary()
	logger.Info("watch stopped",
		"pages", summary.Count,
		"failed", summary.ErrorCount,
		"uptime", time.Since(start).Round(time.Second),
	)
	return err
}
