package inference

import (
	"context"
	"time"
)

// Request is a provider neutral inference request.
type Request struct {
	ProviderID  string  `json:"provider_id"`
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Response carries the raw provider payload and the extracted text.
type Response struct {
	ProviderID string        `json:"provider_id"`
	Model      string        `json:"model"`
	RawPayload []byte        `json:"-"`
	ParsedText string        `json:"parsed_text"`
	Latency    time.Duration `json:"latency"`
	Attempts   int           `json:"attempts"`
}

// Provider performs a single attempt against one backend. Implementations
// classify failures with NewTransportError and NewParseError and must honour
// ctx cancellation.
type Provider interface {
	ID() string
	Do(ctx context.Context, req Request) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	Name string
	Fn   func(ctx context.Context, req Request) (Response, error)
}

// ID returns the provider id.
func (p ProviderFunc) ID() string { return p.Name }

// Do calls Fn.
func (p ProviderFunc) Do(ctx context.Context, req Request) (Response, error) { return p.Fn(ctx, req) }

// Inferer is the consumer side of the Gateway.
type Inferer interface {
	Infer(ctx context.Context, req Request) (Response, error)
	// InferWithFallback walks the configured fallback chain when the
	// requested provider fails.
	InferWithFallback(ctx context.Context, req Request, fallbacks ...string) (Response, error)
}
