// Package openai provides an inference.Provider backed by the OpenAI Chat
// Completions API. Importing the package registers the "openai" kind.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agenttown/inference"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI provider.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Provider adapts the OpenAI client to inference.Provider.
type Provider struct {
	id     string
	client *openai.Client
	opts   Options
}

var _ inference.Provider = (*Provider)(nil)

// NewProvider creates a provider with an SDK client configured from the
// environment plus reqOpts. SDK level retries are disabled; the gateway owns
// the retry policy.
func NewProvider(id string, reqOpts []option.RequestOption, optFns ...func(o *Options)) *Provider {
	reqOpts = append([]option.RequestOption{option.WithMaxRetries(0)}, reqOpts...)
	client := openai.NewClient(reqOpts...)
	return NewProviderFromClient(id, &client, optFns...)
}

// NewProviderFromClient wraps an existing client.
func NewProviderFromClient(id string, client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{id: id, client: client, opts: opts}
}

// ID returns the provider id.
func (p *Provider) ID() string { return p.id }

// Do issues one chat completion.
func (p *Provider) Do(ctx context.Context, req inference.Request) (inference.Response, error) {
	model := req.Model
	if model == "" {
		model = p.opts.Model
	}
	temperature := p.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := p.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return inference.Response{}, p.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return inference.Response{}, inference.NewParseError(p.id, fmt.Errorf("no choices returned"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return inference.Response{}, inference.NewParseError(p.id, fmt.Errorf("empty completion"))
	}
	return inference.Response{
		ProviderID: p.id,
		Model:      model,
		RawPayload: []byte(resp.RawJSON()),
		ParsedText: text,
	}, nil
}

func (p *Provider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return inference.NewTransportError(p.id, apiErr.StatusCode, err)
	}
	return inference.NewTransportError(p.id, 0, err)
}

func init() {
	inference.RegisterFactory("openai", func(cfg inference.ProviderConfig) (inference.Provider, error) {
		var reqOpts []option.RequestOption
		if cfg.APIKey != "" {
			reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.Endpoint != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.Endpoint))
		}
		for k, v := range cfg.Headers {
			reqOpts = append(reqOpts, option.WithHeader(k, v))
		}
		return NewProvider(cfg.ID, reqOpts, func(o *Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	})
}
