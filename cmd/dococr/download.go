package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/hub"
)

var downloadCmd = &cobra.Command{
	Use:   "download [repo]",
	Short: "Download a model snapshot from the hub",
	Long: `Download every file of a model repository so the server can run offline.

By default files go to the hub cache (~/.dococr/models/hub) in the layout the
vLLM container reads with HF_HUB_OFFLINE=1. --local stores them flat under
~/.dococr/models/<org>--<name> instead, and --local-dir picks any directory.

Interrupted downloads resume from where they stopped. Files already present
with the expected size are skipped. A marker file is written after a complete
download so later runs return immediately.

The repository defaults to server.model from config. The token is read from
hub.token (default: ${HF_TOKEN}).

Examples:
  dococr download
  dococr download nanonets/Nanonets-OCR2-3B
  dococr download tencent/HunyuanOCR --local
  dococr download Qwen/Qwen3-VL-4B-Instruct --allow "*.json" --allow "*.safetensors"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.String("revision", hub.DefaultRevision, "branch, tag or commit")
	f.Bool("local", false, "store files flat under the home models directory")
	f.String("local-dir", "", "store files flat under this directory")
	f.String("cache-dir", "", "hub cache directory (default: hub.cache_dir or ~/.dococr/models/hub)")
	f.StringArray("allow", nil, "only download files matching this glob (repeatable)")
	f.StringArray("ignore", nil, "skip files matching this glob (repeatable)")
	f.Bool("no-marker", false, "do not read or write the download marker")
	f.Int("workers", 0, "concurrent file downloads (default: hub.workers)")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cm, h, err := loadConfig(logger)
	if err != nil {
		return err
	}
	cfg := cm.Get()

	repoID := cfg.Server.Model
	if len(args) == 1 {
		repoID = args[0]
	}
	if repoID == "" {
		return fmt.Errorf("no repository given and server.model is not set")
	}

	f := cmd.Flags()
	revision, _ := f.GetString("revision")
	local, _ := f.GetBool("local")
	localDir, _ := f.GetString("local-dir")
	cacheDir, _ := f.GetString("cache-dir")
	allow, _ := f.GetStringArray("allow")
	ignore, _ := f.GetStringArray("ignore")
	noMarker, _ := f.GetBool("no-marker")

	if local && localDir == "" {
		localDir = h.LocalModelDir(repoID)
	}
	if cacheDir == "" {
		cacheDir = cfg.Hub.CacheDir
	}
	if cacheDir == "" {
		if err := h.EnsureExists(); err != nil {
			return err
		}
		cacheDir = h.HubCachePath()
	}

	opts := hub.Options{
		Revision:       revision,
		CacheDir:       cacheDir,
		LocalDir:       localDir,
		AllowPatterns:  allow,
		IgnorePatterns: ignore,
	}
	if !noMarker {
		opts.MarkerPath = h.MarkerPath(repoID)
	}

	client := hub.NewClient(hub.Config{
		Endpoint:   cfg.Hub.Endpoint,
		Token:      cfg.HubToken(),
		Workers:    intFlag(cmd, "workers", cfg.Hub.Workers),
		MaxRetries: cfg.Hub.MaxRetries,
		Logger:     logger,
	})

	res, err := client.Download(cmd.Context(), repoID, opts)
	if err != nil {
		return fmt.Errorf("download %s: %w", repoID, err)
	}
	logger.Info("model ready", "repo", repoID, "path", res.Path, "size", hub.FormatBytes(res.Bytes))
	return writeOutput(cmd, cfg, res)
}
