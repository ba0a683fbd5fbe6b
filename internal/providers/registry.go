package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("OCR provider not found")

// Registry holds the configured OCR providers.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]OCRProvider
	configs   map[string]ProviderConfig
	logger    *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]OCRProvider),
		configs:   make(map[string]ProviderConfig),
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers an OCR provider by name.
func (r *Registry) Register(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	delete(r.configs, name)
	r.logger.Info("registered OCR provider", "name", name)
}

// Unregister removes an OCR provider by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.configs, name)
	r.logger.Info("unregistered OCR provider", "name", name)
}

// Get returns an OCR provider by name.
func (r *Registry) Get(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return provider, nil
}

// Has checks if an OCR provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
	Logger    *slog.Logger
}

// ProviderConfig matches config.ProviderCfg with the API key resolved.
type ProviderConfig struct {
	Type              string // "openai-chat"
	BaseURL           string
	Model             string
	APIKey            string
	Prompt            string
	SystemPrompt      string
	UseSystemPrompt   bool
	MaxTokens         int
	Temperature       float64
	TopK              int
	RepetitionPenalty float64
	Timeout           time.Duration
	RateLimit         float64
	Enabled           bool
}

// TypeOpenAIChat is the only provider type: an OpenAI-compatible
// chat-completions server.
const TypeOpenAIChat = "openai-chat"

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers are registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	if cfg.Logger != nil {
		r.logger = cfg.Logger
	}
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.Providers {
		if !provCfg.Enabled {
			continue
		}
		existing, hasExisting := r.configs[name]
		if hasExisting && existing == provCfg {
			want[name] = true
			continue
		}

		provider := r.createProvider(name, provCfg)
		if provider == nil {
			r.logger.Warn("skipping OCR provider with unknown type", "name", name, "type", provCfg.Type)
			continue
		}
		want[name] = true
		r.providers[name] = provider
		r.configs[name] = provCfg
		if hasExisting {
			r.logger.Info("updated OCR provider", "name", name, "model", provCfg.Model)
		} else {
			r.logger.Info("registered OCR provider", "name", name, "model", provCfg.Model)
		}
	}

	for name := range r.configs {
		if !want[name] {
			delete(r.providers, name)
			delete(r.configs, name)
			r.logger.Info("unregistered OCR provider", "name", name)
		}
	}
}

// createProvider creates an OCR provider based on provider type.
func (r *Registry) createProvider(name string, cfg ProviderConfig) OCRProvider {
	switch cfg.Type {
	case TypeOpenAIChat, "":
		return NewChatOCRClient(cfg.ChatConfig(name, r.logger))
	default:
		return nil
	}
}

// ChatConfig converts a provider entry into a chat client config.
func (cfg ProviderConfig) ChatConfig(name string, logger *slog.Logger) ChatOCRConfig {
	return ChatOCRConfig{
		Name:              name,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		APIKey:            cfg.APIKey,
		Prompt:            cfg.Prompt,
		SystemPrompt:      cfg.SystemPrompt,
		UseSystemPrompt:   cfg.UseSystemPrompt,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		TopK:              cfg.TopK,
		RepetitionPenalty: cfg.RepetitionPenalty,
		Timeout:           cfg.Timeout,
		RateLimit:         cfg.RateLimit,
		Logger:            logger,
	}
}
