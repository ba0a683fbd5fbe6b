// Package config loads dococr configuration from defaults, a YAML file and
// DOCOCR_* environment variables, and reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/bybsong/vllm/internal/providers"
)

// EnvPrefix prefixes every environment override (DOCOCR_DEFAULTS_DPI=150).
const EnvPrefix = "DOCOCR"

// ErrUnknownProvider is returned when a provider name is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	logger    *slog.Logger
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// An empty cfgFile searches ./config.yaml and searchDirs in order.
func NewManager(cfgFile string, searchDirs ...string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		logger:    slog.Default(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile, searchDirs); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used for reload messages.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string, searchDirs []string) error {
	cm.setDefaults()

	cm.v.SetEnvPrefix(EnvPrefix)
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		for _, dir := range searchDirs {
			cm.v.AddConfigPath(dir)
		}
	}

	// Config file is optional
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file, empty when running on defaults.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// It is a no-op when no config file was loaded.
func (cm *Manager) WatchConfig() {
	if cm.v.ConfigFileUsed() == "" {
		return
	}
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		cm.logger.Info("config reloaded", "file", e.Name)

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Provider returns a provider config by name.
func (c *Config) Provider(name string) (ProviderCfg, error) {
	cfg, ok := c.Providers[name]
	if !ok {
		return ProviderCfg{}, fmt.Errorf("%w: %q (configured: %s)", ErrUnknownProvider, name, strings.Join(c.ProviderNames(), ", "))
	}
	return cfg, nil
}

// ProviderNames returns configured provider names, sorted.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// ProviderConfig converts a provider entry for the providers package,
// resolving ${ENV_VAR} references in the API key.
func (p ProviderCfg) ProviderConfig() providers.ProviderConfig {
	return providers.ProviderConfig{
		Type:              p.Type,
		BaseURL:           p.BaseURL,
		Model:             p.Model,
		APIKey:            ResolveEnvVars(p.APIKey),
		Prompt:            p.Prompt,
		SystemPrompt:      p.SystemPrompt,
		UseSystemPrompt:   p.UseSystemPrompt,
		MaxTokens:         p.MaxTokens,
		Temperature:       p.Temperature,
		TopK:              p.TopK,
		RepetitionPenalty: p.RepetitionPenalty,
		Timeout:           time.Duration(p.TimeoutSeconds) * time.Second,
		RateLimit:         p.RateLimit,
		Enabled:           p.Enabled,
	}
}

// ToRegistryConfig converts the config to a format suitable for providers.Registry.
func (c *Config) ToRegistryConfig(logger *slog.Logger) providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Providers: make(map[string]providers.ProviderConfig, len(c.Providers)),
		Logger:    logger,
	}
	for name, p := range c.Providers {
		cfg.Providers[name] = p.ProviderConfig()
	}
	return cfg
}

// HubToken returns the hub token with ${ENV_VAR} references resolved.
func (c *Config) HubToken() string {
	return ResolveEnvVars(c.Hub.Token)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# dococr configuration
# API keys and tokens use ${ENV_VAR} syntax to reference environment variables
# Every key can be overridden with DOCOCR_<SECTION>_<KEY>, e.g. DOCOCR_DEFAULTS_DPI=150

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
