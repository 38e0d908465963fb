package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RequestAdapter encodes a request body for a backend.
type RequestAdapter func(req Request, model string) ([]byte, error)

// ResponseAdapter extracts the generated text from a backend payload.
type ResponseAdapter func(body []byte) (string, error)

// Descriptor statically describes an HTTP backend.
type Descriptor struct {
	ID string
	// Endpoint may contain the placeholder {model}.
	Endpoint string
	// AuthHeader names the header carrying the key; AuthScheme (e.g.
	// "Bearer") is prepended to the key when set.
	AuthHeader   string
	AuthScheme   string
	APIKey       string
	DefaultModel string
	Headers      map[string]string
	Request      RequestAdapter
	Response     ResponseAdapter
}

// Validate checks the fields required to issue calls.
func (d Descriptor) Validate() error {
	switch {
	case d.ID == "":
		return errors.New("descriptor: missing id")
	case d.Endpoint == "":
		return fmt.Errorf("descriptor %s: missing endpoint", d.ID)
	case d.Request == nil || d.Response == nil:
		return fmt.Errorf("descriptor %s: missing adapter", d.ID)
	}
	return nil
}

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	Client *http.Client
	// MaxBodyBytes bounds how much of a response is read.
	MaxBodyBytes int64
}

// HTTPProvider executes a Descriptor over HTTP.
type HTTPProvider struct {
	desc Descriptor
	opts HTTPOptions
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider validates desc and creates a provider for it.
func NewHTTPProvider(desc Descriptor, optFns ...func(o *HTTPOptions)) (*HTTPProvider, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	opts := HTTPOptions{
		Client:       &http.Client{Timeout: 2 * time.Minute},
		MaxBodyBytes: 4 << 20,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPProvider{desc: desc, opts: opts}, nil
}

// ID returns the descriptor id.
func (p *HTTPProvider) ID() string { return p.desc.ID }

// Do performs one HTTP round trip.
func (p *HTTPProvider) Do(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.desc.DefaultModel
	}
	body, err := p.desc.Request(req, model)
	if err != nil {
		return Response{}, NewParseError(p.desc.ID, fmt.Errorf("encode request: %w", err))
	}

	endpoint := strings.ReplaceAll(p.desc.Endpoint, "{model}", model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, NewTransportError(p.desc.ID, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.desc.Headers {
		httpReq.Header.Set(k, v)
	}
	if p.desc.AuthHeader != "" && p.desc.APIKey != "" {
		value := p.desc.APIKey
		if p.desc.AuthScheme != "" {
			value = p.desc.AuthScheme + " " + value
		}
		httpReq.Header.Set(p.desc.AuthHeader, value)
	}

	resp, err := p.opts.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, NewTransportError(p.desc.ID, 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBodyBytes))
	if err != nil {
		return Response{}, NewTransportError(p.desc.ID, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, NewTransportError(p.desc.ID, resp.StatusCode, fmt.Errorf("%s", truncate(string(payload), 256)))
	}

	text, err := p.desc.Response(payload)
	if err != nil {
		return Response{}, NewParseError(p.desc.ID, err)
	}
	return Response{ProviderID: p.desc.ID, Model: model, RawPayload: payload, ParsedText: text}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
