package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the dococr home directory.
	DefaultDirName = ".dococr"

	// ModelsDirName holds downloaded model weights.
	ModelsDirName = "models"

	// HubDirName is the hub cache inside ModelsDirName. Its layout
	// (models--org--name/snapshots/<sha>) is what vLLM reads offline.
	HubDirName = "hub"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the dococr home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.dococr).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ModelsPath returns the directory holding downloaded models.
func (d *Dir) ModelsPath() string {
	return filepath.Join(d.path, ModelsDirName)
}

// HubCachePath returns the hub cache directory mounted into the server container.
func (d *Dir) HubCachePath() string {
	return filepath.Join(d.ModelsPath(), HubDirName)
}

// LocalModelDir returns a flat download directory for a repository,
// e.g. Qwen/Qwen3-VL-4B -> models/Qwen--Qwen3-VL-4B.
func (d *Dir) LocalModelDir(repoID string) string {
	return filepath.Join(d.ModelsPath(), repoDirName(repoID))
}

// MarkerPath returns the offline marker touched after a complete download.
func (d *Dir) MarkerPath(repoID string) string {
	return filepath.Join(d.ModelsPath(), "."+repoDirName(repoID)+".downloaded")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Creating the hub cache also creates the parents
	if err := os.MkdirAll(d.HubCachePath(), 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

func repoDirName(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "--")
}
