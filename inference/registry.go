package inference

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig is the configuration of one provider table entry.
type ProviderConfig struct {
	ID       string            `mapstructure:"id" toml:"id"`
	Kind     string            `mapstructure:"kind" toml:"kind"`
	Endpoint string            `mapstructure:"endpoint" toml:"endpoint,omitempty"`
	APIKey   string            `mapstructure:"api_key" toml:"api_key,omitempty"`
	Model    string            `mapstructure:"model" toml:"model,omitempty"`
	Headers  map[string]string `mapstructure:"headers" toml:"headers,omitempty"`
	// Responses maps prompt substrings to canned replies (mock kind only).
	Responses map[string]string `mapstructure:"responses" toml:"responses,omitempty"`
}

// Factory builds a Provider from configuration.
type Factory func(cfg ProviderConfig) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory makes a provider kind available to Build. Registering the
// same kind twice replaces the earlier factory.
func RegisterFactory(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// Kinds lists the registered provider kinds.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates the providers of a configuration. An unknown kind or a
// duplicate id is a configuration error.
func Build(cfgs []ProviderConfig) ([]Provider, error) {
	out := make([]Provider, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			cfg.ID = cfg.Kind
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("provider %q configured twice", cfg.ID)
		}
		seen[cfg.ID] = true

		factoriesMu.RLock()
		f, ok := factories[strings.ToLower(cfg.Kind)]
		factoriesMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("provider %q has kind %q: %w", cfg.ID, cfg.Kind, ErrUnknownProvider)
		}
		p, err := f(cfg)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", cfg.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Builtin returns the descriptor template for an HTTP provider kind.
func Builtin(kind string) (Descriptor, bool) {
	switch strings.ToLower(kind) {
	case "chat", "openai-compatible":
		return Descriptor{AuthHeader: "Authorization", AuthScheme: "Bearer", Request: ChatCompletionsRequest, Response: ChatCompletionsResponse}, true
	case "deepseek":
		return Descriptor{
			Endpoint:     "https://api.deepseek.com/chat/completions",
			AuthHeader:   "Authorization",
			AuthScheme:   "Bearer",
			DefaultModel: "deepseek-chat",
			Request:      ChatCompletionsRequest,
			Response:     ChatCompletionsResponse,
		}, true
	case "ollama":
		return Descriptor{
			Endpoint:     "http://localhost:11434/v1/chat/completions",
			DefaultModel: "llama3.1",
			Request:      ChatCompletionsRequest,
			Response:     ChatCompletionsResponse,
		}, true
	case "gemini":
		return Descriptor{
			Endpoint:     "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent",
			AuthHeader:   "x-goog-api-key",
			DefaultModel: "gemini-2.0-flash",
			Request:      GeminiRequest,
			Response:     GeminiResponse,
		}, true
	case "anthropic-http":
		return Descriptor{
			Endpoint:     "https://api.anthropic.com/v1/messages",
			AuthHeader:   "x-api-key",
			DefaultModel: "claude-3-5-haiku-latest",
			Headers:      map[string]string{"anthropic-version": "2023-06-01"},
			Request:      AnthropicRequest,
			Response:     AnthropicResponse,
		}, true
	}
	return Descriptor{}, false
}

func descriptorFactory(kind string) Factory {
	return func(cfg ProviderConfig) (Provider, error) {
		desc, _ := Builtin(kind)
		desc.ID = cfg.ID
		desc.APIKey = cfg.APIKey
		if cfg.Endpoint != "" {
			desc.Endpoint = cfg.Endpoint
		}
		if cfg.Model != "" {
			desc.DefaultModel = cfg.Model
		}
		if len(cfg.Headers) > 0 {
			headers := make(map[string]string, len(desc.Headers)+len(cfg.Headers))
			for k, v := range desc.Headers {
				headers[k] = v
			}
			for k, v := range cfg.Headers {
				headers[k] = v
			}
			desc.Headers = headers
		}
		return NewHTTPProvider(desc)
	}
}

func init() {
	for _, kind := range []string{"chat", "openai-compatible", "deepseek", "ollama", "gemini", "anthropic-http"} {
		RegisterFactory(kind, descriptorFactory(kind))
	}
	RegisterFactory("mock", func(cfg ProviderConfig) (Provider, error) {
		m := NewMockProvider(cfg.ID)
		for substr, reply := range cfg.Responses {
			m.AddResponse(substr, reply)
		}
		return m, nil
	})
}
