package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/config"
	"github.com/bybsong/vllm/internal/metrics"
	"github.com/bybsong/vllm/internal/providers"
	"github.com/bybsong/vllm/internal/raster"
	"github.com/bybsong/vllm/internal/report"
)

var pdfCmd = &cobra.Command{
	Use:   "pdf <file>",
	Short: "OCR every page of a PDF (or image) into one transcript",
	Long: `Render each page of a PDF, send it to the OCR server and print the combined
transcript. Every page gets a "# Page N" heading; a page that fails is replaced
by "[Error processing page N: ...]" and the run continues.

Examples:
  dococr pdf report.pdf
  dococr pdf statement.pdf --financial -o statement.md
  dococr pdf scan.pdf --pages 1-3 --concurrency 4 --summary
  dococr pdf scan.pdf --provider hunyuan`,
	Args: cobra.ExactArgs(1),
	RunE: runPDF,
}

var imageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "OCR a single image",
	Long: `Send one image (PNG, JPEG, GIF, TIFF, WebP or BMP) to the OCR server and
print the extracted text. PNG and JPEG are sent as-is; other formats are
re-encoded as PNG.

Examples:
  dococr image receipt.jpg
  dococr image scan.tiff --financial -o scan.md
  dococr image /data/page.png --file-uri`,
	Args: cobra.ExactArgs(1),
	RunE: runImage,
}

func init() {
	f := pdfCmd.Flags()
	f.StringP("out", "o", "", "write the transcript to this file (default: stdout)")
	f.Int("dpi", raster.DefaultDPI, "render resolution")
	f.Int("concurrency", report.DefaultConcurrency, "maximum in-flight OCR requests")
	f.String("pages", "", `page selection such as "1-3,7" (default: all)`)
	f.String("password", "", "password for encrypted PDFs")
	f.Int("max-dim", 0, "downscale pages so neither side exceeds this many pixels (0: off)")
	f.String("metrics-file", "", "write prometheus metrics for the run to this file")
	f.Bool("summary", false, "print a run summary to stderr")
	addOCRFlags(pdfCmd)

	f = imageCmd.Flags()
	f.StringP("out", "o", "", "write the text to this file (default: stdout)")
	f.Bool("file-uri", false, "send a file:// URI instead of inline data (server must see the path)")
	addOCRFlags(imageCmd)

	rootCmd.AddCommand(pdfCmd, imageCmd)
}

// addOCRFlags adds the flags shared by every command that calls the OCR server.
func addOCRFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("provider", "", "provider profile from config (default: defaults.provider)")
	f.String("url", "", "override the provider's base URL, e.g. http://localhost:8001/v1")
	f.String("model", "", "override the provider's model")
	f.Int("max-tokens", 0, "override the provider's max_tokens")
	f.Bool("financial", false, "use the financial document instruction")
	f.String("class", "", "document class: general or financial (default: defaults.document_class)")
}

// resolveProvider builds the OCR client for the selected provider profile,
// applying --url and --model.
func resolveProvider(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*providers.ChatOCRClient, config.ProviderCfg, error) {
	name, _ := cmd.Flags().GetString("provider")
	if name == "" {
		name = cfg.Defaults.Provider
	}
	pc, err := cfg.Provider(name)
	if err != nil {
		return nil, pc, err
	}
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		pc.BaseURL = u
	}
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		pc.Model = m
	}

	client := providers.NewChatOCRClient(pc.ProviderConfig().ChatConfig(name, logger))
	return client, pc, nil
}

// resolveClass picks the document class from --financial, --class or config.
func resolveClass(cmd *cobra.Command, cfg *config.Config) (providers.DocumentClass, error) {
	if financial, _ := cmd.Flags().GetBool("financial"); financial {
		return providers.ClassFinancial, nil
	}
	name, _ := cmd.Flags().GetString("class")
	if name == "" {
		name = cfg.Defaults.DocumentClass
	}
	return providers.ParseDocumentClass(name)
}

// classChosen reports whether the document class was picked on the command line.
func classChosen(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("financial") || cmd.Flags().Changed("class")
}

// providerInstruction returns the provider's own prompt when it has one and
// no class was requested explicitly.
func providerInstruction(cmd *cobra.Command, pc config.ProviderCfg) string {
	if pc.Prompt != "" && !classChosen(cmd) {
		return pc.Prompt
	}
	return ""
}

// intFlag returns the flag value when set on the command line, else fallback.
func intFlag(cmd *cobra.Command, name string, fallback int) int {
	if cmd.Flags().Changed(name) || fallback == 0 {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return fallback
}

func runPDF(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger(cmd)

	cm, _, err := loadConfig(logger)
	if err != nil {
		return err
	}
	cfg := cm.Get()

	class, err := resolveClass(cmd, cfg)
	if err != nil {
		return err
	}
	client, pc, err := resolveProvider(cmd, cfg, logger)
	if err != nil {
		return err
	}

	pages, _ := cmd.Flags().GetString("pages")
	password, _ := cmd.Flags().GetString("password")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	rec := metrics.NewRecorder()

	driver, err := report.NewDriver(report.Config{
		Provider:    client,
		Instruction: providerInstruction(cmd, pc),
		MaxTokens:   maxTokens,
		Concurrency: intFlag(cmd, "concurrency", cfg.Defaults.Concurrency),
		Raster: raster.Options{
			DPI:      intFlag(cmd, "dpi", cfg.Defaults.DPI),
			Pages:    pages,
			Password: password,
			MaxDim:   intFlag(cmd, "max-dim", cfg.Defaults.MaxDim),
		},
		Metrics: rec,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	rep, runErr := driver.Run(ctx, args[0], class)
	if rep == nil {
		return runErr
	}

	out, _ := cmd.Flags().GetString("out")
	if err := writeText(cmd, out, rep.Text()); err != nil {
		return err
	}
	if out != "" {
		logger.Info("saved transcript",
			"path", out,
			"pages", len(rep.Pages),
			"chars", rep.Chars(),
			"failed", len(rep.Failed()),
		)
	}

	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			return err
		}
		logger.Debug("wrote metrics", "path", path)
	}

	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		view := runSummary{
			Source:   rep.Source,
			Provider: rep.Provider,
			Class:    string(rep.Class),
			Pages:    len(rep.Pages),
			Chars:    rep.Chars(),
			Failed:   rep.Failed(),
			Elapsed:  rep.Elapsed.Round(time.Millisecond).String(),
			Metrics:  rec.Summary(),
		}
		if err := writeSummary(cmd, cfg, view); err != nil {
			return err
		}
	}
	return runErr
}

// runSummary is the --summary record of a pdf run.
type runSummary struct {
	Source   string          `json:"source" yaml:"source"`
	Provider string          `json:"provider" yaml:"provider"`
	Class    string          `json:"class" yaml:"class"`
	Pages    int             `json:"pages" yaml:"pages"`
	Chars    int             `json:"chars" yaml:"chars"`
	Failed   []int           `json:"failed,omitempty" yaml:"failed,omitempty"`
	Elapsed  string          `json:"elapsed" yaml:"elapsed"`
	Metrics  metrics.Summary `json:"metrics" yaml:"metrics"`
}

func writeSummary(cmd *cobra.Command, cfg *config.Config, view runSummary) error {
	return writeTo(cmd.ErrOrStderr(), cfg, view)
}

func runImage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger(cmd)

	cm, _, err := loadConfig(logger)
	if err != nil {
		return err
	}
	cfg := cm.Get()

	class, err := resolveClass(cmd, cfg)
	if err != nil {
		return err
	}
	client, pc, err := resolveProvider(cmd, cfg, logger)
	if err != nil {
		return err
	}

	instruction := providerInstruction(cmd, pc)
	if instruction == "" {
		if instruction, err = class.Instruction(); err != nil {
			return err
		}
	}
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	req := &providers.OCRRequest{
		Instruction: instruction,
		MaxTokens:   maxTokens,
		PageNum:     1,
	}

	path := args[0]
	if fileURI, _ := cmd.Flags().GetBool("file-uri"); fileURI {
		if req.ImageURL, err = providers.FileURI(path); err != nil {
			return err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if req.Image, req.MIMEType, err = providers.PrepareImage(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	logger.Info("sending OCR request", "path", path, "provider", client.Name(), "model", client.Model())
	result, err := client.ProcessImage(ctx, req)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if err := writeText(cmd, out, result.Text); err != nil {
		return err
	}
	logger.Info("OCR complete", "chars", utf8.RuneCountInString(result.Text), "elapsed", result.ExecutionTime.Round(time.Millisecond))
	return nil
}

// writeText writes a transcript to path, or to stdout when path is empty.
func writeText(cmd *cobra.Command, path, text string) error {
	if path == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
