package providers

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockOCRProvider()

		r.Register("test-ocr", mock)

		provider, err := r.Get("test-ocr")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if provider != mock {
			t.Error("got different provider than registered")
		}
		if !r.Has("test-ocr") {
			t.Error("Has() = false after Register")
		}
	})

	t.Run("get nonexistent", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.Get("nonexistent")
		if !errors.Is(err, ErrUnknownProvider) {
			t.Errorf("expected ErrUnknownProvider, got %v", err)
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		r := NewRegistry()
		r.Register("nanonets", NewMockOCRProvider())
		r.Register("hunyuan", NewMockOCRProvider())

		names := r.List()
		if len(names) != 2 || names[0] != "hunyuan" || names[1] != "nanonets" {
			t.Errorf("List() = %v", names)
		}
	})

	t.Run("unregister", func(t *testing.T) {
		r := NewRegistry()
		r.Register("test", NewMockOCRProvider())
		r.Unregister("test")

		if r.Has("test") {
			t.Error("provider still registered after Unregister")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.Register("p", NewMockOCRProvider())
			}()
			go func() {
				defer wg.Done()
				_ = r.List()
				_, _ = r.Get("p")
			}()
		}
		wg.Wait()
	})
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := RegistryConfig{
		Providers: map[string]ProviderConfig{
			"nanonets": {
				Type:      TypeOpenAIChat,
				BaseURL:   "http://localhost:8001/v1",
				Model:     "nanonets/Nanonets-OCR2-3B",
				MaxTokens: 15000,
				Enabled:   true,
			},
			"hunyuan": {
				Type:            TypeOpenAIChat,
				BaseURL:         "http://localhost:8006/v1",
				Model:           "tencent/HunyuanOCR",
				UseSystemPrompt: true,
				TopK:            1,
				Enabled:         true,
			},
			"disabled": {
				Type:    TypeOpenAIChat,
				Enabled: false,
			},
			"unknown": {
				Type:    "carrier-pigeon",
				Enabled: true,
			},
		},
	}

	t.Run("only enabled known providers", func(t *testing.T) {
		r := NewRegistryFromConfig(cfg)

		names := r.List()
		if len(names) != 2 {
			t.Fatalf("expected 2 providers, got %v", names)
		}
		p, err := r.Get("hunyuan")
		if err != nil {
			t.Fatalf("Get(hunyuan) error = %v", err)
		}
		client, ok := p.(*ChatOCRClient)
		if !ok {
			t.Fatalf("expected *ChatOCRClient, got %T", p)
		}
		if client.Name() != "hunyuan" {
			t.Errorf("Name() = %s, want hunyuan", client.Name())
		}
		if client.Model() != "tencent/HunyuanOCR" {
			t.Errorf("Model() = %s", client.Model())
		}
		if client.systemPrompt == nil || client.topK != 1 {
			t.Error("expected system prompt and top_k carried from config")
		}
	})

	t.Run("reload keeps unchanged providers", func(t *testing.T) {
		r := NewRegistryFromConfig(cfg)
		before, _ := r.Get("nanonets")

		r.Reload(cfg)

		after, _ := r.Get("nanonets")
		if before != after {
			t.Error("unchanged provider was recreated on reload")
		}
	})

	t.Run("reload updates changed and removes dropped providers", func(t *testing.T) {
		r := NewRegistryFromConfig(cfg)
		before, _ := r.Get("nanonets")

		changed := RegistryConfig{Providers: map[string]ProviderConfig{
			"nanonets": {
				Type:      TypeOpenAIChat,
				BaseURL:   "http://gpu-box:8001/v1",
				Model:     "nanonets/Nanonets-OCR2-3B",
				MaxTokens: 15000,
				Enabled:   true,
			},
		}}
		r.Reload(changed)

		after, err := r.Get("nanonets")
		if err != nil {
			t.Fatalf("Get(nanonets) error = %v", err)
		}
		if before == after {
			t.Error("changed provider was not recreated")
		}
		if got := after.(*ChatOCRClient).BaseURL(); got != "http://gpu-box:8001/v1" {
			t.Errorf("BaseURL = %s", got)
		}
		if r.Has("hunyuan") {
			t.Error("dropped provider still registered")
		}
	})
}
