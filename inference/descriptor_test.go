package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_ChatCompletions(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" hi there "}}]}`))
	}))
	defer srv.Close()

	desc, ok := Builtin("deepseek")
	require.True(t, ok)
	desc.ID = "ds"
	desc.Endpoint = srv.URL
	desc.APIKey = "secret"
	p, err := NewHTTPProvider(desc)
	require.NoError(t, err)

	resp, err := p.Do(context.Background(), Request{System: "be brief", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.ParsedText)
	assert.Equal(t, "deepseek-chat", resp.Model)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "hello", gotBody.Messages[1].Content)
}

func TestHTTPProvider_GeminiModelPlaceholder(t *testing.T) {
	var path, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`))
	}))
	defer srv.Close()

	p, err := Build([]ProviderConfig{{ID: "gem", Kind: "gemini", Endpoint: srv.URL + "/models/{model}:generateContent", APIKey: "k", Model: "flash"}})
	require.NoError(t, err)

	resp, err := p[0].Do(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.ParsedText)
	assert.Equal(t, "/models/flash:generateContent", path)
	assert.Equal(t, "k", key)
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	body := `{}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Descriptor{ID: "x", Endpoint: srv.URL, Request: ChatCompletionsRequest, Response: ChatCompletionsResponse})
	require.NoError(t, err)

	_, err = p.Do(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsRetryable(err))

	status = http.StatusOK
	body = `not json`
	_, err = p.Do(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrParse)

	body = `{"choices":[]}`
	_, err = p.Do(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrParse)
}

func TestAnthropicAdapters(t *testing.T) {
	raw, err := AnthropicRequest(Request{Prompt: "hi", System: "sys"}, "claude")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"max_tokens":1024`))

	text, err := AnthropicResponse([]byte(`{"content":[{"type":"text","text":"yo"},{"type":"tool_use"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "yo", text)
}

func TestBuild_UnknownKind(t *testing.T) {
	_, err := Build([]ProviderConfig{{ID: "x", Kind: "carrier-pigeon"}})
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = Build([]ProviderConfig{{ID: "m", Kind: "mock"}, {ID: "m", Kind: "mock"}})
	require.Error(t, err)

	ps, err := Build([]ProviderConfig{{Kind: "mock", Responses: map[string]string{"ping": "pong"}}})
	require.NoError(t, err)
	assert.Equal(t, "mock", ps[0].ID())
	assert.Contains(t, Kinds(), "gemini")
}
