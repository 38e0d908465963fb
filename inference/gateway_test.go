package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
	id string
}

func (m *mockProvider) ID() string { return m.id }

func (m *mockProvider) Do(ctx context.Context, req Request) (Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Response), args.Error(1)
}

func fastOptions(o *Options) {
	o.Timeout = time.Second
	o.Backoff = time.Millisecond
	o.MaxBackoff = 2 * time.Millisecond
	o.MaxRetries = 2
}

func TestGateway_RetriesTransportErrors(t *testing.T) {
	p := &mockProvider{id: "p"}
	p.On("Do", mock.Anything, mock.Anything).Return(Response{}, NewTransportError("p", 503, errors.New("unavailable"))).Twice()
	p.On("Do", mock.Anything, mock.Anything).Return(Response{ParsedText: "ok"}, nil).Once()

	g, err := New([]Provider{p}, fastOptions)
	require.NoError(t, err)

	resp, err := g.Infer(context.Background(), Request{ProviderID: "p", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ParsedText)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, "p", resp.ProviderID)
	p.AssertNumberOfCalls(t, "Do", 3)

	stats := g.Stats()["p"]
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, 1, stats.Successes)
}

func TestGateway_GivesUpAfterMaxRetries(t *testing.T) {
	p := &mockProvider{id: "p"}
	p.On("Do", mock.Anything, mock.Anything).Return(Response{}, errors.New("connection refused"))

	g, err := New([]Provider{p}, fastOptions)
	require.NoError(t, err)

	_, err = g.Infer(context.Background(), Request{ProviderID: "p"})
	require.ErrorIs(t, err, ErrTransport)
	p.AssertNumberOfCalls(t, "Do", 3)
}

func TestGateway_ParseErrorNotRetried(t *testing.T) {
	p := &mockProvider{id: "p"}
	p.On("Do", mock.Anything, mock.Anything).Return(Response{}, NewParseError("p", errors.New("garbage")))

	g, err := New([]Provider{p}, fastOptions)
	require.NoError(t, err)

	_, err = g.Infer(context.Background(), Request{ProviderID: "p"})
	require.ErrorIs(t, err, ErrParse)
	p.AssertNumberOfCalls(t, "Do", 1)
	assert.Equal(t, 1, g.Stats()["p"].ParseErrors)
}

func TestGateway_ClientErrorNotRetried(t *testing.T) {
	p := &mockProvider{id: "p"}
	p.On("Do", mock.Anything, mock.Anything).Return(Response{}, NewTransportError("p", 401, errors.New("bad key")))

	g, err := New([]Provider{p}, fastOptions)
	require.NoError(t, err)

	_, err = g.Infer(context.Background(), Request{ProviderID: "p"})
	require.ErrorIs(t, err, ErrTransport)
	p.AssertNumberOfCalls(t, "Do", 1)
}

func TestGateway_TimeoutAbandonsCall(t *testing.T) {
	p := NewMockProvider("slow")
	p.SetBlocking(true)

	g, err := New([]Provider{p}, func(o *Options) {
		fastOptions(o)
		o.Timeouts = map[string]time.Duration{"slow": 20 * time.Millisecond}
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Infer(context.Background(), Request{ProviderID: "slow"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, 1, g.Stats()["slow"].Timeouts)
}

func TestGateway_LateResultDiscarded(t *testing.T) {
	p := &ProviderFunc{Name: "late", Fn: func(ctx context.Context, req Request) (Response, error) {
		time.Sleep(50 * time.Millisecond)
		return Response{ParsedText: "too late"}, nil
	}}
	g, err := New([]Provider{p}, func(o *Options) { o.Timeout = 10 * time.Millisecond })
	require.NoError(t, err)

	resp, err := g.Infer(context.Background(), Request{ProviderID: "late"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, resp.ParsedText)
}

func TestGateway_UnknownProvider(t *testing.T) {
	g, err := New([]Provider{NewMockProvider("a")})
	require.NoError(t, err)

	_, err = g.Infer(context.Background(), Request{ProviderID: "zzz"})
	require.ErrorIs(t, err, ErrUnknownProvider)
	require.ErrorIs(t, g.Validate("a", "zzz"), ErrUnknownProvider)
	require.NoError(t, g.Validate("a"))

	_, err = New([]Provider{NewMockProvider("a")}, func(o *Options) { o.DefaultProvider = "b" })
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New([]Provider{NewMockProvider("a"), NewMockProvider("a")})
	require.Error(t, err)
}

func TestGateway_DefaultProviderAndFallback(t *testing.T) {
	bad := NewMockProvider("bad")
	bad.Enqueue("", NewParseError("bad", errors.New("nonsense")))
	good := NewMockProvider("good")
	good.AddResponse("hello", "world")

	g, err := New([]Provider{bad, good}, func(o *Options) {
		fastOptions(o)
		o.DefaultProvider = "bad"
		o.Fallbacks = []string{"good"}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "good"}, g.Providers())

	resp, err := g.InferWithFallback(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "good", resp.ProviderID)
	assert.Equal(t, "world", resp.ParsedText)
}

func TestGateway_InferAsync(t *testing.T) {
	m := NewMockProvider("m")
	m.AddResponse("ping", "pong")
	g, err := New([]Provider{m})
	require.NoError(t, err)

	out, errCh := g.InferAsync(context.Background(), Request{ProviderID: "m", Prompt: "ping"})
	resp, ok := <-out
	require.True(t, ok)
	assert.Equal(t, "pong", resp.ParsedText)
	_, open := <-errCh
	assert.False(t, open)
}

func TestErrorIs(t *testing.T) {
	cause := errors.New("root")
	err := NewTransportError("p", 500, cause)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrParse)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(NewTransportError("p", 404, cause)))
	assert.True(t, IsRetryable(NewTransportError("p", 429, cause)))
	assert.Contains(t, err.Error(), "status 500")
}
