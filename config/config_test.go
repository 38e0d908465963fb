package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
)

const sample = `
[simulation]
tick_period = "5s"
jitter_max = "1s"
memory_cap = 50

[gateway]
default_provider = "mock"
fallbacks = ["backup"]
max_retries = 1

[[providers]]
id = "mock"
kind = "mock"

[[providers]]
id = "backup"
kind = "openai"
model = "gpt-4o-mini"
api_key_env = "TEST_AGENTTOWN_KEY"
timeout = "10s"

[store]
driver = "sqlite"
path = "town.db"

[[world.locations]]
name = "Plaza"
objects = ["fountain"]

[[world.locations]]
name = "Library"

[[agents]]
id = "ada"
name = "Ada"
personality = "curious"
location = "Library"

[[agents]]
id = "bo"
name = "Bo"
personality = "outgoing"
traits = ["loud"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "town.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnvFiles(o *LoadOptions) { o.EnvFiles = nil }

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10*time.Second, cfg.Simulation.TickPeriod)
	assert.Equal(t, 2*time.Second, cfg.Simulation.JitterMax)
	assert.Equal(t, 200, cfg.Simulation.MemoryCap)
	assert.Equal(t, 12, cfg.Conversation.MaxTurns)
	assert.Equal(t, 500*time.Millisecond, cfg.Conversation.TurnInterval)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	t.Setenv("TEST_AGENTTOWN_KEY", "sk-test")
	cfg, err := Load(writeConfig(t, sample), noEnvFiles)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Simulation.TickPeriod)
	assert.Equal(t, time.Second, cfg.Simulation.JitterMax)
	assert.Equal(t, 50, cfg.Simulation.MemoryCap)
	assert.Equal(t, 10, cfg.Simulation.MaxPromptMemories)
	assert.Equal(t, "mock", cfg.Gateway.DefaultProvider)
	assert.Equal(t, []string{"backup"}, cfg.Gateway.Fallbacks)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-test", cfg.Providers[1].APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers[1].Model)
	assert.Equal(t, map[string]time.Duration{"backup": 10 * time.Second}, cfg.ProviderTimeouts())

	ps := cfg.InferenceProviders()
	require.Len(t, ps, 2)
	assert.Equal(t, "mock", ps[0].Kind)

	require.Len(t, cfg.World.Locations, 2)
	assert.Equal(t, []string{"fountain"}, cfg.World.Locations[0].Objects)

	require.Len(t, cfg.Agents, 2)
	ada := cfg.Agents[0].Resolve()
	assert.Equal(t, "curious", ada.Name)
	bo := cfg.Agents[1].Resolve()
	assert.Equal(t, []string{"loud"}, bo.Traits)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGENTTOWN_SIMULATION_TICK_PERIOD", "3s")
	t.Setenv("AGENTTOWN_LOGGING_LEVEL", "debug")
	cfg, err := Load(writeConfig(t, sample), noEnvFiles)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Simulation.TickPeriod)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENTTOWN_CONVERSATION_MAX_TURNS=7\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("AGENTTOWN_CONVERSATION_MAX_TURNS") })

	cfg, err := Load("", func(o *LoadOptions) { o.EnvFiles = []string{envFile, filepath.Join(dir, "missing.env")} })
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Conversation.MaxTurns)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), noEnvFiles)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		target error
	}{
		{name: "zero tick", mutate: func(c *Config) { c.Simulation.TickPeriod = 0 }},
		{name: "inverted jitter", mutate: func(c *Config) { c.Simulation.JitterMin = 3 * time.Second }},
		{name: "zero turns", mutate: func(c *Config) { c.Conversation.MaxTurns = 0 }},
		{
			name:   "unknown default provider",
			mutate: func(c *Config) { c.Gateway.DefaultProvider = "ghost" },
			target: inference.ErrUnknownProvider,
		},
		{
			name:   "unknown fallback",
			mutate: func(c *Config) { c.Gateway.Fallbacks = []string{"ghost"} },
			target: inference.ErrUnknownProvider,
		},
		{name: "store without path", mutate: func(c *Config) { c.Store.Driver = "sqlite" }},
		{name: "mysql without dsn", mutate: func(c *Config) { c.Store.Driver = "mysql" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "etcd" }},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }},
		{
			name: "duplicate agent",
			mutate: func(c *Config) {
				c.Agents = []AgentConfig{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}}
			},
			target: core.ErrDuplicateAgent,
		},
		{
			name:   "unknown personality",
			mutate: func(c *Config) { c.Agents = []AgentConfig{{ID: "a", Name: "A", Personality: "grumpy"}} },
		},
		{
			name: "unknown location",
			mutate: func(c *Config) {
				c.World.Locations = []LocationConfig{{Name: "Plaza"}}
				c.Agents = []AgentConfig{{ID: "a", Name: "A", Location: "Moon"}}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestEncode_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{ProviderConfig: inference.ProviderConfig{ID: "x", Kind: "openai", APIKey: "sk-secret"}}}

	out, err := cfg.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-secret")
	assert.Contains(t, string(out), "[simulation]")
	assert.Equal(t, "sk-secret", cfg.Providers[0].APIKey)
}
