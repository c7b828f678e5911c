// Package config loads the server configuration from a JSON file with
// environment variable substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/nidhogg/nyx/internal/embedding"
	"github.com/nidhogg/nyx/internal/gateway"
	"github.com/nidhogg/nyx/internal/imagegen"
	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/prompt"
	"github.com/nidhogg/nyx/internal/provider"
	"github.com/nidhogg/nyx/internal/vectorstore"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/nyx.json"

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Model     ModelConfig     `json:"model"`
	Persona   PersonaConfig   `json:"persona"`
	Memory    MemoryConfig    `json:"memory"`
	Cache     CacheConfig     `json:"cache"`
	Image     ImageConfig     `json:"image"`
	Embedding EmbeddingConfig `json:"embedding"`
	Database  DatabaseConfig  `json:"database"`
	Gateway   GatewayConfig   `json:"gateway"`
}

type ServerConfig struct {
	Port        int      `json:"port"`
	LogLevel    string   `json:"log_level"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

type ModelConfig struct {
	Endpoint    string   `json:"endpoint"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	Timeout     Duration `json:"timeout"`
	Stream      bool     `json:"stream"`
}

type PersonaConfig struct {
	Name         string `json:"name"`
	Identity     string `json:"identity"`
	Appearance   string `json:"appearance"`
	Instructions string `json:"instructions"`
	ProfilePath  string `json:"profile_path"`
	IconURL      string `json:"icon_url"`
	Emoji        string `json:"emoji"`
}

type MemoryConfig struct {
	// Backend is one of local, postgres, sqlite, neo4j.
	Backend       string   `json:"backend"`
	SQLitePath    string   `json:"sqlite_path"`
	Seed          *bool    `json:"seed,omitempty"`
	PruneInterval Duration `json:"prune_interval"`
	MaxAge        Duration `json:"max_age"`
	ExpireBelow   int      `json:"expire_below"`
	RecallLimit   int      `json:"recall_limit"`
	WindowSize    int      `json:"window_size"`
	RestoreLimit  int      `json:"restore_limit"`
	LLMExtraction bool     `json:"llm_extraction"`
}

type CacheConfig struct {
	// Backend is memory or redis.
	Backend string   `json:"backend"`
	TTL     Duration `json:"ttl"`
}

type ImageConfig struct {
	Enabled         bool     `json:"enabled"`
	AutoLaunch      bool     `json:"auto_launch"`
	SelfDescription string   `json:"self_description"`
	Retention       Duration `json:"retention"`
	JobTimeout      Duration `json:"job_timeout"`
	Runware         struct {
		Endpoint        string   `json:"endpoint"`
		APIKey          string   `json:"api_key"`
		Model           string   `json:"model"`
		NegativePrompt  string   `json:"negative_prompt"`
		Width           int      `json:"width"`
		Height          int      `json:"height"`
		PromptMaxLength int      `json:"prompt_max_length"`
		Timeout         Duration `json:"timeout"`
	} `json:"runware"`
}

type EmbeddingConfig struct {
	Provider  string   `json:"provider"`
	Endpoint  string   `json:"endpoint"`
	Model     string   `json:"model"`
	APIKey    string   `json:"api_key"`
	Dimension int      `json:"dimension"`
	Timeout   Duration `json:"timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
	REST    RESTGatewayConfig    `json:"rest"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool              `json:"enabled"`
	BotToken string            `json:"bot_token"`
	Webhooks map[string]string `json:"webhooks,omitempty"` // channelID -> webhook URL
}

type RESTGatewayConfig struct {
	Enabled bool     `json:"enabled"`
	Timeout Duration `json:"timeout"`
}

// Duration is a time.Duration that reads from JSON as a Go duration string
// ("90s", "24h") or as a number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(b, &secs); err != nil {
			return fmt.Errorf("duration must be a string or number of seconds: %s", b)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// LoadEnv loads a .env file into the process environment when one exists.
// Variables already set win.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config JSON. See Load.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "local"
	}
	if c.Memory.SQLitePath == "" {
		c.Memory.SQLitePath = "data/nyx.db"
	}
	if c.Memory.Seed == nil {
		seed := true
		c.Memory.Seed = &seed
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(24 * time.Hour)
	}
	if c.Gateway.REST.Timeout == 0 {
		c.Gateway.REST.Timeout = Duration(gateway.DefaultRESTTimeout)
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case "local", "sqlite":
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("memory backend postgres needs database.postgres.dsn")
		}
	case "neo4j":
		if c.Database.Neo4j.URI == "" {
			return fmt.Errorf("memory backend neo4j needs database.neo4j.uri")
		}
	default:
		return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Database.Redis.URL == "" {
			return fmt.Errorf("cache backend redis needs database.redis.url")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	return nil
}

// ProviderOptions converts the model section.
func (c *Config) ProviderOptions() provider.Config {
	return provider.Config{
		Endpoint:    c.Model.Endpoint,
		APIKey:      c.Model.APIKey,
		Model:       c.Model.Model,
		MaxTokens:   c.Model.MaxTokens,
		Temperature: c.Model.Temperature,
		Stop:        c.Model.Stop,
		Timeout:     c.Model.Timeout.D(),
		Stream:      c.Model.Stream,
	}
}

// PersonaValue converts the persona section, filling gaps from the default
// persona. A profile file, when set, replaces the identity text.
func (c *Config) PersonaValue() (prompt.Persona, error) {
	p := prompt.Persona{
		Name:         c.Persona.Name,
		Identity:     c.Persona.Identity,
		Appearance:   c.Persona.Appearance,
		Instructions: c.Persona.Instructions,
	}
	p, err := p.LoadIdentity(c.Persona.ProfilePath)
	if err != nil {
		return p, err
	}
	return p.WithDefaults(), nil
}

// GatewayPersona is how replies are labelled on chat platforms.
func (c *Config) GatewayPersona() gateway.Persona {
	name := c.Persona.Name
	if name == "" {
		name = prompt.DefaultPersona.Name
	}
	return gateway.Persona{Name: name, IconURL: c.Persona.IconURL, Emoji: c.Persona.Emoji}
}

// DecayOptions converts the pruning settings.
func (c *Config) DecayOptions() memory.DecayConfig {
	d := memory.DefaultDecayConfig()
	if c.Memory.MaxAge > 0 {
		d.MaxAge = c.Memory.MaxAge.D()
	}
	if c.Memory.ExpireBelow > 0 {
		d.ExpireBelow = c.Memory.ExpireBelow
	}
	if c.Memory.PruneInterval > 0 {
		d.PruneInterval = c.Memory.PruneInterval.D()
	}
	return d
}

// ImageOptions converts the image orchestrator settings.
func (c *Config) ImageOptions() imagegen.Config {
	ic := imagegen.DefaultConfig()
	if c.Image.SelfDescription != "" {
		ic.SelfDescription = c.Image.SelfDescription
	}
	if c.Image.Retention > 0 {
		ic.Retention = c.Image.Retention.D()
	}
	if c.Image.JobTimeout > 0 {
		ic.JobTimeout = c.Image.JobTimeout.D()
	}
	return ic
}

// RunwareOptions converts the image provider settings.
func (c *Config) RunwareOptions() imagegen.RunwareConfig {
	r := c.Image.Runware
	return imagegen.RunwareConfig{
		Endpoint:        r.Endpoint,
		APIKey:          r.APIKey,
		Model:           r.Model,
		NegativePrompt:  r.NegativePrompt,
		Width:           r.Width,
		Height:          r.Height,
		PromptMaxLength: r.PromptMaxLength,
		Timeout:         r.Timeout.D(),
	}
}

// EmbeddingOptions converts the embedding section.
func (c *Config) EmbeddingOptions() embedding.Config {
	e := c.Embedding
	return embedding.Config{
		Provider:  e.Provider,
		Endpoint:  e.Endpoint,
		Model:     e.Model,
		APIKey:    e.APIKey,
		Dimension: e.Dimension,
		Timeout:   e.Timeout.D(),
	}
}

// SemanticIndexEnabled reports whether both an embedder and Qdrant are set.
func (c *Config) SemanticIndexEnabled() bool {
	return c.Embedding.Endpoint != "" && c.Database.Qdrant.Host != ""
}

// QdrantOptions converts the vector store section.
func (c *Config) QdrantOptions() vectorstore.QdrantConfig {
	q := c.Database.Qdrant
	return vectorstore.QdrantConfig{Host: q.Host, Port: q.Port, APIKey: q.APIKey, Collection: q.Collection}
}
