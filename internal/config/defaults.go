package config

import (
	"github.com/bybsong/vllm/internal/providers"
)

// Default provider names.
const (
	ProviderNanonets = "nanonets"
	ProviderHunyuan  = "hunyuan"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			ProviderNanonets: {
				Type:           providers.TypeOpenAIChat,
				BaseURL:        providers.DefaultBaseURL,
				Model:          providers.DefaultModel,
				APIKey:         "EMPTY",
				MaxTokens:      providers.DefaultMaxTokens,
				TimeoutSeconds: int(providers.DefaultTimeout.Seconds()),
				Enabled:        true,
			},
			ProviderHunyuan: {
				Type:              providers.TypeOpenAIChat,
				BaseURL:           "http://localhost:8006/v1",
				Model:             "tencent/HunyuanOCR",
				APIKey:            "EMPTY",
				Prompt:            providers.PromptHunyuan,
				UseSystemPrompt:   true,
				MaxTokens:         4096,
				TopK:              1,
				RepetitionPenalty: 1.0,
				TimeoutSeconds:    120,
				Enabled:           true,
			},
		},
		Defaults: DefaultsCfg{
			Provider:      ProviderNanonets,
			DocumentClass: string(providers.ClassGeneral),
			DPI:           300,
			Concurrency:   1,
			MaxDim:        0,
			OutputFormat:  "yaml",
		},
		Hub: HubCfg{
			Endpoint:   "https://huggingface.co",
			Token:      "${HF_TOKEN}",
			Workers:    8,
			MaxRetries: 5,
		},
		Server: ServerCfg{
			ContainerName:       "dococr-vllm",
			Image:               "vllm/vllm-openai:latest",
			Port:                "8001",
			Model:               providers.DefaultModel,
			GPUs:                "all",
			ReadyTimeoutSeconds: 600,
		},
	}
}

// setDefaults registers defaults leaf by leaf so env overrides such as
// DOCOCR_DEFAULTS_DPI resolve and a config file that sets one field of a
// built-in provider keeps the rest of that profile.
func (cm *Manager) setDefaults() {
	d := DefaultConfig()
	v := cm.v

	for name, p := range d.Providers {
		cm.setProviderDefaults(name, p)
	}

	v.SetDefault("defaults.provider", d.Defaults.Provider)
	v.SetDefault("defaults.document_class", d.Defaults.DocumentClass)
	v.SetDefault("defaults.dpi", d.Defaults.DPI)
	v.SetDefault("defaults.concurrency", d.Defaults.Concurrency)
	v.SetDefault("defaults.max_dim", d.Defaults.MaxDim)
	v.SetDefault("defaults.output_format", d.Defaults.OutputFormat)

	v.SetDefault("hub.endpoint", d.Hub.Endpoint)
	v.SetDefault("hub.token", d.Hub.Token)
	v.SetDefault("hub.cache_dir", d.Hub.CacheDir)
	v.SetDefault("hub.workers", d.Hub.Workers)
	v.SetDefault("hub.max_retries", d.Hub.MaxRetries)

	v.SetDefault("server.container_name", d.Server.ContainerName)
	v.SetDefault("server.image", d.Server.Image)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.model", d.Server.Model)
	v.SetDefault("server.gpus", d.Server.GPUs)
	v.SetDefault("server.extra_args", d.Server.ExtraArgs)
	v.SetDefault("server.ready_timeout_seconds", d.Server.ReadyTimeoutSeconds)
}

func (cm *Manager) setProviderDefaults(name string, p ProviderCfg) {
	prefix := "providers." + name + "."
	v := cm.v

	v.SetDefault(prefix+"type", p.Type)
	v.SetDefault(prefix+"base_url", p.BaseURL)
	v.SetDefault(prefix+"model", p.Model)
	v.SetDefault(prefix+"api_key", p.APIKey)
	v.SetDefault(prefix+"prompt", p.Prompt)
	v.SetDefault(prefix+"enabled", p.Enabled)
	v.SetDefault(prefix+"system_prompt", p.SystemPrompt)
	v.SetDefault(prefix+"use_system_prompt", p.UseSystemPrompt)
	v.SetDefault(prefix+"max_tokens", p.MaxTokens)
	v.SetDefault(prefix+"temperature", p.Temperature)
	v.SetDefault(prefix+"top_k", p.TopK)
	v.SetDefault(prefix+"repetition_penalty", p.RepetitionPenalty)
	v.SetDefault(prefix+"timeout_seconds", p.TimeoutSeconds)
	v.SetDefault(prefix+"rate_limit", p.RateLimit)
}
