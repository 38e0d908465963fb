package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type mockStep struct {
	text string
	err  error
}

// MockProvider is a deterministic in-memory Provider useful for tests,
// examples and offline runs.
type MockProvider struct {
	id string

	mu        sync.Mutex
	responses map[string]string
	queue     []mockStep
	delay     time.Duration
	block     bool
	calls     int
	prompts   []string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock with no canned responses.
func NewMockProvider(id string) *MockProvider {
	return &MockProvider{id: id, responses: map[string]string{}}
}

// ID returns the provider id.
func (m *MockProvider) ID() string { return m.id }

// AddResponse replies with response to any prompt containing substr. When
// several substrings match, the longest wins.
func (m *MockProvider) AddResponse(substr, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[substr] = response
}

// Enqueue schedules a one-shot result consumed before canned responses.
func (m *MockProvider) Enqueue(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockStep{text: text, err: err})
}

// SetDelay makes every call wait d (honouring ctx).
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetBlocking makes calls never return until ctx ends.
func (m *MockProvider) SetBlocking(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = block
}

// Calls returns the number of Do invocations.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Do implements Provider.
func (m *MockProvider) Do(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	delay, block := m.delay, m.block
	var step *mockStep
	if len(m.queue) > 0 {
		s := m.queue[0]
		m.queue = m.queue[1:]
		step = &s
	}
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	if delay > 0 {
		if err := sleepContext(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	if step != nil {
		if step.err != nil {
			return Response{}, step.err
		}
		return m.reply(req, step.text), nil
	}
	return m.reply(req, m.match(req.Prompt)), nil
}

func (m *MockProvider) match(prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.responses))
	for k := range m.responses {
		if strings.Contains(prompt, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return fmt.Sprintf("Mock response to: %s", prompt)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return m.responses[keys[0]]
}

func (m *MockProvider) reply(req Request, text string) Response {
	return Response{ProviderID: m.id, Model: req.Model, RawPayload: []byte(text), ParsedText: text}
}
