package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/agenttown/logging"
)

// Options configures a Gateway.
type Options struct {
	// DefaultProvider is used when a request names no provider.
	DefaultProvider string
	// Fallbacks are tried in order by InferWithFallback when no explicit
	// fallbacks are given.
	Fallbacks []string
	// Timeout is the per-call deadline covering all attempts.
	Timeout time.Duration
	// Timeouts overrides Timeout per provider id.
	Timeouts map[string]time.Duration
	// MaxRetries bounds retries of transport failures.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	Logger     logging.Logger
}

// DefaultOptions returns the baseline gateway policy.
func DefaultOptions() Options {
	return Options{
		Timeout:    30 * time.Second,
		Timeouts:   map[string]time.Duration{},
		MaxRetries: 2,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 8 * time.Second,
		Logger:     logging.NoOpLogger{},
	}
}

type inferenceLogger interface {
	LogInferenceCall(provider, model string, attempts int, dur time.Duration, err error)
}

// Gateway routes requests to providers under a deadline and retry policy.
type Gateway struct {
	providers map[string]Provider
	opts      Options
	stats     *statsRecorder
}

var _ Inferer = (*Gateway)(nil)

// New builds a gateway over a fixed provider table. Duplicate ids and an
// unknown default or fallback provider are configuration errors.
func New(providers []Provider, optFns ...func(o *Options)) (*Gateway, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	table := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("inference: nil provider")
		}
		if _, dup := table[p.ID()]; dup {
			return nil, fmt.Errorf("inference: duplicate provider id %q", p.ID())
		}
		table[p.ID()] = p
	}

	g := &Gateway{providers: table, opts: opts, stats: newStatsRecorder()}
	if opts.DefaultProvider != "" {
		if err := g.Validate(opts.DefaultProvider); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(opts.Fallbacks...); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate fails with ErrUnknownProvider for the first id not in the table.
func (g *Gateway) Validate(ids ...string) error {
	for _, id := range ids {
		if _, ok := g.providers[id]; !ok {
			return newUnknownProviderError(id)
		}
	}
	return nil
}

// Providers lists the configured provider ids in sorted order.
func (g *Gateway) Providers() []string {
	ids := make([]string, 0, len(g.providers))
	for id := range g.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultProvider returns the provider used for requests without one.
func (g *Gateway) DefaultProvider() string { return g.opts.DefaultProvider }

func (g *Gateway) timeoutFor(id string) time.Duration {
	if d, ok := g.opts.Timeouts[id]; ok && d > 0 {
		return d
	}
	return g.opts.Timeout
}

// Infer performs one logical call. Transport failures are retried with
// backoff inside the provider's deadline; timeouts and parse failures are
// returned at once.
func (g *Gateway) Infer(ctx context.Context, req Request) (Response, error) {
	if req.ProviderID == "" {
		req.ProviderID = g.opts.DefaultProvider
	}
	p, ok := g.providers[req.ProviderID]
	if !ok {
		return Response{}, newUnknownProviderError(req.ProviderID)
	}

	if d := g.timeoutFor(req.ProviderID); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	delay := g.opts.Backoff
	attempts := 0
	var err error
	for {
		attempts++
		var resp Response
		resp, err = g.attempt(ctx, p, req)
		if err == nil {
			resp.ProviderID = req.ProviderID
			resp.Attempts = attempts
			resp.Latency = time.Since(start)
			if resp.Model == "" {
				resp.Model = req.Model
			}
			g.record(req, attempts, resp.Latency, nil)
			return resp, nil
		}
		if !IsRetryable(err) || attempts > g.opts.MaxRetries {
			break
		}
		g.opts.Logger.Debug("retrying inference call", "provider", req.ProviderID, "attempt", attempts, "delay", delay, "error", err)
		if werr := sleepContext(ctx, delay); werr != nil {
			err = g.contextError(req.ProviderID, werr)
			break
		}
		delay *= 2
		if g.opts.MaxBackoff > 0 && delay > g.opts.MaxBackoff {
			delay = g.opts.MaxBackoff
		}
	}

	g.record(req, attempts, time.Since(start), err)
	return Response{}, err
}

// attempt runs one provider call. When ctx ends first the call is abandoned;
// the buffered channel lets the provider goroutine finish and its late
// result is dropped.
func (g *Gateway) attempt(ctx context.Context, p Provider, req Request) (Response, error) {
	type result struct {
		resp Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := p.Do(ctx, req)
		ch <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return Response{}, g.contextError(p.ID(), ctx.Err())
	case r := <-ch:
		if r.err == nil {
			return r.resp, nil
		}
		return Response{}, g.classify(ctx, p.ID(), r.err)
	}
}

func (g *Gateway) classify(ctx context.Context, id string, err error) error {
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	if ctx.Err() != nil {
		return g.contextError(id, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newTimeoutError(id, err)
	}
	return NewTransportError(id, 0, err)
}

func (g *Gateway) contextError(id string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newTimeoutError(id, err)
	}
	return fmt.Errorf("inference %s: %w", id, err)
}

func (g *Gateway) record(req Request, attempts int, dur time.Duration, err error) {
	g.stats.observe(req.ProviderID, attempts, dur, err)
	if il, ok := g.opts.Logger.(inferenceLogger); ok {
		il.LogInferenceCall(req.ProviderID, req.Model, attempts, dur, err)
		return
	}
	if err != nil {
		g.opts.Logger.Warn("inference call failed", "provider", req.ProviderID, "attempts", attempts, "duration", dur, "error", err)
		return
	}
	g.opts.Logger.Debug("inference call completed", "provider", req.ProviderID, "attempts", attempts, "duration", dur)
}

// InferAsync runs Infer in a goroutine. Exactly one of the channels receives
// a value; both are closed afterwards.
func (g *Gateway) InferAsync(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		resp, err := g.Infer(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		out <- resp
	}()
	return out, errCh
}

// InferWithFallback tries the requested provider and then each fallback in
// order (the configured Fallbacks when none are given). The last error is
// returned when all fail.
func (g *Gateway) InferWithFallback(ctx context.Context, req Request, fallbacks ...string) (Response, error) {
	if len(fallbacks) == 0 {
		fallbacks = g.opts.Fallbacks
	}
	if req.ProviderID == "" {
		req.ProviderID = g.opts.DefaultProvider
	}
	chain := append([]string{req.ProviderID}, fallbacks...)
	seen := make(map[string]bool, len(chain))

	var lastErr error
	for _, id := range chain {
		if seen[id] {
			continue
		}
		seen[id] = true
		if ctx.Err() != nil {
			break
		}
		attempt := req
		attempt.ProviderID = id
		if id != req.ProviderID {
			attempt.Model = ""
		}
		resp, err := g.Infer(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		g.opts.Logger.Warn("provider failed, trying next", "provider", id, "error", err)
	}
	if lastErr == nil {
		lastErr = g.contextError(req.ProviderID, ctx.Err())
	}
	return Response{}, lastErr
}

// Stats returns a snapshot of per-provider counters.
func (g *Gateway) Stats() map[string]ProviderStats {
	return g.stats.snapshot()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
