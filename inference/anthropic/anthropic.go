// Package anthropic provides an inference.Provider backed by the Anthropic
// Messages API. Importing the package registers the "anthropic" kind.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agenttown/inference"
)

// Options configures the Anthropic provider.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider adapts the Anthropic client to inference.Provider.
type Provider struct {
	id     string
	client *anthropic.Client
	opts   Options
}

var _ inference.Provider = (*Provider)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// NewProvider creates a provider with its own client. SDK retries are
// disabled so the gateway controls retries.
func NewProvider(id string, reqOpts []option.RequestOption, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := append([]option.RequestOption{option.WithMaxRetries(0)}, reqOpts...)
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{id: id, client: &client, opts: opts}
}

// NewProviderFromClient wraps an existing client.
func NewProviderFromClient(id string, client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{id: id, client: client, opts: opts}
}

// ID returns the provider id.
func (p *Provider) ID() string { return p.id }

// Do issues one Messages API call.
func (p *Provider) Do(ctx context.Context, req inference.Request) (inference.Response, error) {
	model := p.opts.Model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	temperature := p.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := p.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return inference.Response{}, ctx.Err()
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return inference.Response{}, inference.NewTransportError(p.id, apiErr.StatusCode, err)
		}
		return inference.Response{}, inference.NewTransportError(p.id, 0, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return inference.Response{}, inference.NewParseError(p.id, fmt.Errorf("no text content (stop reason %q)", resp.StopReason))
	}
	return inference.Response{
		ProviderID: p.id,
		Model:      string(model),
		RawPayload: []byte(resp.RawJSON()),
		ParsedText: text,
	}, nil
}

func init() {
	inference.RegisterFactory("anthropic", func(cfg inference.ProviderConfig) (inference.Provider, error) {
		var reqOpts []option.RequestOption
		if cfg.Endpoint != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.Endpoint))
		}
		for k, v := range cfg.Headers {
			reqOpts = append(reqOpts, option.WithHeader(k, v))
		}
		return NewProvider(cfg.ID, reqOpts, func(o *Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}
		}), nil
	})
}
