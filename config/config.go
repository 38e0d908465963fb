// Package config loads the process configuration of a town from a TOML file,
// optional .env files and AGENTTOWN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTTOWN_SIMULATION_TICK_PERIOD=5s.
const EnvPrefix = "AGENTTOWN"

// Config is the full process configuration.
type Config struct {
	Simulation   SimulationConfig   `mapstructure:"simulation" toml:"simulation"`
	Conversation ConversationConfig `mapstructure:"conversation" toml:"conversation"`
	Gateway      GatewayConfig      `mapstructure:"gateway" toml:"gateway"`
	Providers    []ProviderConfig   `mapstructure:"providers" toml:"providers"`
	Store        StoreConfig        `mapstructure:"store" toml:"store"`
	Lease        LeaseConfig        `mapstructure:"lease" toml:"lease"`
	Server       ServerConfig       `mapstructure:"server" toml:"server"`
	Logging      LoggingConfig      `mapstructure:"logging" toml:"logging"`
	World        WorldConfig        `mapstructure:"world" toml:"world"`
	Agents       []AgentConfig      `mapstructure:"agents" toml:"agents"`
}

// SimulationConfig drives the scheduler.
type SimulationConfig struct {
	TickPeriod        time.Duration `mapstructure:"tick_period" toml:"tick_period"`
	JitterMin         time.Duration `mapstructure:"jitter_min" toml:"jitter_min"`
	JitterMax         time.Duration `mapstructure:"jitter_max" toml:"jitter_max"`
	Seed              uint64        `mapstructure:"seed" toml:"seed"`
	MemoryCap         int           `mapstructure:"memory_cap" toml:"memory_cap"`
	MaxPromptMemories int           `mapstructure:"max_prompt_memories" toml:"max_prompt_memories"`
	DecisionTimeout   time.Duration `mapstructure:"decision_timeout" toml:"decision_timeout"`
	TaskRetention     time.Duration `mapstructure:"task_retention" toml:"task_retention"`
	Provider          string        `mapstructure:"provider" toml:"provider,omitempty"`
	Model             string        `mapstructure:"model" toml:"model,omitempty"`
}

// ConversationConfig drives the conversation manager.
type ConversationConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" toml:"idle_timeout"`
	MaxTurns      int           `mapstructure:"max_turns" toml:"max_turns"`
	TurnInterval  time.Duration `mapstructure:"turn_interval" toml:"turn_interval"`
	MaxLineLength int           `mapstructure:"max_line_length" toml:"max_line_length"`
	RelationDelta float64       `mapstructure:"relation_delta" toml:"relation_delta"`
}

// GatewayConfig is the retry and routing policy of the inference gateway.
type GatewayConfig struct {
	DefaultProvider string        `mapstructure:"default_provider" toml:"default_provider"`
	Fallbacks       []string      `mapstructure:"fallbacks" toml:"fallbacks,omitempty"`
	Timeout         time.Duration `mapstructure:"timeout" toml:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" toml:"max_retries"`
	Backoff         time.Duration `mapstructure:"backoff" toml:"backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" toml:"max_backoff"`
}

// ProviderConfig is one entry of the provider table.
type ProviderConfig struct {
	inference.ProviderConfig `mapstructure:",squash"`

	// APIKeyEnv names an environment variable holding the API key.
	APIKeyEnv string        `mapstructure:"api_key_env" toml:"api_key_env,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" toml:"timeout,omitempty"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"`
	Path   string `mapstructure:"path" toml:"path,omitempty"`
	DSN    string `mapstructure:"dsn" toml:"dsn,omitempty"`
	// Autosave periodically saves all agents; 0 saves only on shutdown.
	Autosave time.Duration `mapstructure:"autosave" toml:"autosave,omitempty"`
}

// LeaseConfig enables cross-process conversation leases.
type LeaseConfig struct {
	RedisAddr string        `mapstructure:"redis_addr" toml:"redis_addr,omitempty"`
	TTL       time.Duration `mapstructure:"ttl" toml:"ttl,omitempty"`
}

// ServerConfig configures the inspection API.
type ServerConfig struct {
	Listen string `mapstructure:"listen" toml:"listen"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

// WorldConfig describes the static world.
type WorldConfig struct {
	Locations []LocationConfig `mapstructure:"locations" toml:"locations"`
}

// LocationConfig is one place of the world.
type LocationConfig struct {
	Name    string   `mapstructure:"name" toml:"name"`
	Objects []string `mapstructure:"objects" toml:"objects,omitempty"`
}

// AgentConfig is one agent of the roster.
type AgentConfig struct {
	ID          string   `mapstructure:"id" toml:"id"`
	Name        string   `mapstructure:"name" toml:"name"`
	Personality string   `mapstructure:"personality" toml:"personality"`
	Description string   `mapstructure:"description" toml:"description,omitempty"`
	Traits      []string `mapstructure:"traits" toml:"traits,omitempty"`
	Location    string   `mapstructure:"location" toml:"location,omitempty"`
	Tasks       []string `mapstructure:"tasks" toml:"tasks,omitempty"`
}

// LoadOptions configures Load.
type LoadOptions struct {
	// EnvFiles are loaded with godotenv before the environment is read.
	// Missing files are ignored.
	EnvFiles []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulation.tick_period", "10s")
	v.SetDefault("simulation.jitter_min", "0s")
	v.SetDefault("simulation.jitter_max", "2s")
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.memory_cap", 200)
	v.SetDefault("simulation.max_prompt_memories", 10)
	v.SetDefault("simulation.decision_timeout", "30s")
	v.SetDefault("simulation.task_retention", "1h")
	v.SetDefault("simulation.provider", "")
	v.SetDefault("simulation.model", "")

	v.SetDefault("conversation.idle_timeout", "60s")
	v.SetDefault("conversation.max_turns", 12)
	v.SetDefault("conversation.turn_interval", "500ms")
	v.SetDefault("conversation.max_line_length", 500)
	v.SetDefault("conversation.relation_delta", 0.1)

	v.SetDefault("gateway.default_provider", "")
	v.SetDefault("gateway.timeout", "30s")
	v.SetDefault("gateway.max_retries", 2)
	v.SetDefault("gateway.backoff", "500ms")
	v.SetDefault("gateway.max_backoff", "8s")

	v.SetDefault("store.driver", "none")
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.autosave", "0s")

	v.SetDefault("lease.redis_addr", "")
	v.SetDefault("lease.ttl", "10m")

	v.SetDefault("server.listen", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path (may be empty), applies environment overrides and
// validates the result.
func Load(path string, optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{EnvFiles: []string{".env"}}
	for _, fn := range optFns {
		fn(&opts)
	}
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolveSecrets() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
}

// Validate checks ranges and cross references. Unknown provider ids in the
// gateway or simulation section wrap inference.ErrUnknownProvider.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.TickPeriod <= 0 {
		return errors.New("simulation.tick_period must be > 0")
	}
	if s.JitterMin < 0 || s.JitterMax < s.JitterMin {
		return fmt.Errorf("simulation jitter range [%s, %s) is invalid", s.JitterMin, s.JitterMax)
	}
	if s.MemoryCap < 0 {
		return errors.New("simulation.memory_cap must be >= 0")
	}
	if s.MaxPromptMemories <= 0 {
		return errors.New("simulation.max_prompt_memories must be > 0")
	}
	if s.DecisionTimeout < 0 || s.TaskRetention < 0 {
		return errors.New("simulation durations must be >= 0")
	}

	cv := c.Conversation
	if cv.MaxTurns <= 0 {
		return errors.New("conversation.max_turns must be > 0")
	}
	if cv.IdleTimeout < 0 || cv.TurnInterval < 0 {
		return errors.New("conversation durations must be >= 0")
	}

	if c.Gateway.MaxRetries < 0 {
		return errors.New("gateway.max_retries must be >= 0")
	}
	ids := map[string]bool{}
	for _, p := range c.Providers {
		id := p.ID
		if id == "" {
			id = p.Kind
		}
		if id == "" {
			return errors.New("provider entry without id or kind")
		}
		if ids[id] {
			return fmt.Errorf("provider %q configured twice", id)
		}
		ids[id] = true
	}
	refs := append([]string{c.Gateway.DefaultProvider, c.Simulation.Provider}, c.Gateway.Fallbacks...)
	for _, id := range refs {
		if id != "" && !ids[id] {
			return fmt.Errorf("%w: %q", inference.ErrUnknownProvider, id)
		}
	}

	switch c.Store.Driver {
	case "", "none":
	case "sqlite", "toml":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %s", c.Store.Driver)
		}
	case "mysql":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for driver mysql")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	locations := map[string]bool{}
	for _, l := range c.World.Locations {
		if l.Name == "" {
			return errors.New("world location without name")
		}
		locations[l.Name] = true
	}
	agents := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			return errors.New("agent entries need id and name")
		}
		if agents[a.ID] {
			return fmt.Errorf("agent %q: %w", a.ID, core.ErrDuplicateAgent)
		}
		agents[a.ID] = true
		if a.Personality != "" {
			if _, ok := core.PersonalityTemplate(a.Personality); !ok {
				return fmt.Errorf("agent %q: unknown personality %q (known: %s)", a.ID, a.Personality, strings.Join(core.PersonalityTemplates(), ", "))
			}
		}
		if a.Location != "" && len(locations) > 0 && !locations[a.Location] {
			return fmt.Errorf("agent %q: unknown location %q", a.ID, a.Location)
		}
	}
	return nil
}

// InferenceProviders returns the provider table for inference.Build.
func (c *Config) InferenceProviders() []inference.ProviderConfig {
	out := make([]inference.ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		out[i] = p.ProviderConfig
	}
	return out
}

// ProviderTimeouts returns the per-provider deadline overrides.
func (c *Config) ProviderTimeouts() map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, p := range c.Providers {
		if p.Timeout > 0 {
			id := p.ID
			if id == "" {
				id = p.Kind
			}
			out[id] = p.Timeout
		}
	}
	return out
}

// Resolve returns the personality of an agent entry. Explicit
// description and traits override the template.
func (a AgentConfig) Resolve() core.Personality {
	p, _ := core.PersonalityTemplate(a.Personality)
	if a.Description != "" {
		p.Description = a.Description
	}
	if len(a.Traits) > 0 {
		p.Traits = a.Traits
	}
	if len(a.Tasks) > 0 {
		p.TaskSeeds = a.Tasks
	}
	return p
}

// Encode renders the configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.Providers[i] = p
	}
	data, err := toml.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
