package providers

import (
	"os"
)

// TestConfig holds live-server settings loaded from environment variables.
// Integration tests skip unless DOCOCR_TEST_BASE_URL is set.
type TestConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// LoadTestConfig loads live-server settings from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		BaseURL: os.Getenv("DOCOCR_TEST_BASE_URL"),
		Model:   os.Getenv("DOCOCR_TEST_MODEL"),
		APIKey:  os.Getenv("DOCOCR_TEST_API_KEY"),
	}
}

// HasServer returns true if a live server is configured.
func (c TestConfig) HasServer() bool {
	return c.BaseURL != ""
}

// NewChatOCRClient creates a client against the live server.
// Returns nil if not configured.
func (c TestConfig) NewChatOCRClient() *ChatOCRClient {
	if !c.HasServer() {
		return nil
	}
	return NewChatOCRClient(ChatOCRConfig{
		BaseURL: c.BaseURL,
		Model:   c.Model,
		APIKey:  c.APIKey,
	})
}

// NewInspector creates an inspector against the live server.
// Returns nil if not configured.
func (c TestConfig) NewInspector() *Inspector {
	if !c.HasServer() {
		return nil
	}
	return NewInspector(InspectorConfig{
		BaseURL: c.BaseURL,
		Model:   c.Model,
		APIKey:  c.APIKey,
	})
}
