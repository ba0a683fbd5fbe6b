package config

// Config holds dococr configuration.
// Loaded from: --config, ./config.yaml or ~/.dococr/config.yaml
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" json:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
	Hub       HubCfg                 `mapstructure:"hub" yaml:"hub" json:"hub"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server" json:"server"`
}

// ProviderCfg configures an OCR endpoint.
type ProviderCfg struct {
	Type    string `mapstructure:"type" yaml:"type" json:"type"`             // "openai-chat"
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"` // e.g. http://localhost:8001/v1
	Model   string `mapstructure:"model" yaml:"model" json:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key" json:"api_key"` // supports ${ENV_VAR} syntax
	Prompt  string `mapstructure:"prompt" yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	SystemPrompt    string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	UseSystemPrompt bool   `mapstructure:"use_system_prompt" yaml:"use_system_prompt,omitempty" json:"use_system_prompt,omitempty"`

	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	TopK              int     `mapstructure:"top_k" yaml:"top_k,omitempty" json:"top_k,omitempty"`
	RepetitionPenalty float64 `mapstructure:"repetition_penalty" yaml:"repetition_penalty,omitempty" json:"repetition_penalty,omitempty"`

	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"` // requests per second
}

// DefaultsCfg holds per-run defaults that CLI flags override.
type DefaultsCfg struct {
	Provider      string `mapstructure:"provider" yaml:"provider" json:"provider"`
	DocumentClass string `mapstructure:"document_class" yaml:"document_class" json:"document_class"` // general or financial
	DPI           int    `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Concurrency   int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"` // in-flight OCR requests
	MaxDim        int    `mapstructure:"max_dim" yaml:"max_dim" json:"max_dim"`             // 0 = no downscale
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format" json:"output_format"`
}

// HubCfg configures model snapshot downloads.
type HubCfg struct {
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Token      string `mapstructure:"token" yaml:"token" json:"token"`             // supports ${ENV_VAR} syntax
	CacheDir   string `mapstructure:"cache_dir" yaml:"cache_dir" json:"cache_dir"` // empty = ~/.dococr/models/hub
	Workers    int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
}

// ServerCfg configures the local vLLM container.
type ServerCfg struct {
	// ContainerName is the Docker container name (default: dococr-vllm)
	ContainerName string `mapstructure:"container_name" yaml:"container_name" json:"container_name"`
	// Image is the Docker image to use (default: vllm/vllm-openai:latest)
	Image string `mapstructure:"image" yaml:"image" json:"image"`
	// Port is the host port mapped to the server's 8000 (default: 8001)
	Port string `mapstructure:"port" yaml:"port" json:"port"`
	// Model is the hub repository served by the container.
	Model string `mapstructure:"model" yaml:"model" json:"model"`
	// GPUs is passed as the device request count ("all" or a number).
	GPUs string `mapstructure:"gpus" yaml:"gpus" json:"gpus"`
	// ExtraArgs are appended to the vllm serve command line.
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args" json:"extra_args"`
	// ReadyTimeoutSeconds bounds the wait for /health after start.
	ReadyTimeoutSeconds int `mapstructure:"ready_timeout_seconds" yaml:"ready_timeout_seconds" json:"ready_timeout_seconds"`
}
