package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete relay configuration
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Dispatch   DispatchConfig          `mapstructure:"dispatch"`
	Stream     StreamConfig            `mapstructure:"stream"`
	Checkpoint CheckpointConfig        `mapstructure:"checkpoint"`
	LLM        LLMConfig               `mapstructure:"llm"`
	Search     SearchConfig            `mapstructure:"search"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	Logging    LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls the HTTP transport
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr string `mapstructure:"addr"`
	// AllowedOrigins lists CORS origins; "*" allows any origin
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ReadHeaderTimeoutSeconds bounds how long a client may take to send headers
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
}

// DispatchConfig controls how tasks are fanned out to workers
type DispatchConfig struct {
	// WorkerTimeoutSeconds is the per-invocation deadline (default: 60)
	WorkerTimeoutSeconds int `mapstructure:"worker_timeout_seconds"`
	// MaxParallel caps concurrent invocations across all turns, 0 = unlimited
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxRetries is the number of extra attempts for retryable failures (default: 2)
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelayMs is the first backoff delay; each retry doubles it (default: 2000)
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
	// RetryMaxDelayMs caps the backoff delay (default: 8000)
	RetryMaxDelayMs int `mapstructure:"retry_max_delay_ms"`
}

// StreamConfig controls per-turn stream queues and thought pacing
type StreamConfig struct {
	// QueueCapacity bounds buffered events per turn before publishers block (default: 256)
	QueueCapacity int `mapstructure:"queue_capacity"`
	// ChunkSize is the number of characters per thought event (default: 1)
	ChunkSize int `mapstructure:"chunk_size"`
	// ChunkDelayMs is the pause between thought events (default: 10)
	ChunkDelayMs int `mapstructure:"chunk_delay_ms"`
	// ConsumeTimeoutMs is how long a consumer waits before reporting no event (default: 1000)
	ConsumeTimeoutMs int `mapstructure:"consume_timeout_ms"`
}

// CheckpointConfig controls which tier stores conversation history
type CheckpointConfig struct {
	// Tiers is the preference order; the first tier that connects wins
	// Options: "redis", "postgres", "sqlite", "memory"
	Tiers []string `mapstructure:"tiers"`
	// RedisAddr enables the redis tier when non-empty (e.g. "localhost:6379")
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// RedisKeyPrefix namespaces keys (default: "relay:")
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
	// PostgresDSN enables the postgres tier when non-empty
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// SQLitePath is the embedded database file (default: "./db/checkpoints/checkpoints.sqlite")
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LLMConfig controls the OpenAI-compatible chat completion client
type LLMConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// SearchConfig controls the web worker's search backend
type SearchConfig struct {
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
	// MaxResults bounds search results per query (default: 5)
	MaxResults int `mapstructure:"max_results"`
}

// WorkerConfig controls a single registered worker
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Enabled turns logging on (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir writes logs to {dir}/relay.log; empty logs to stderr
	Dir string `mapstructure:"dir"`
	// MaxSizeMB rotates relay.log at this size; 0 disables rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Checkpoint tier names
const (
	TierRedis    = "redis"
	TierPostgres = "postgres"
	TierSQLite   = "sqlite"
	TierMemory   = "memory"
)

// Default worker names
const (
	WorkerGeneral = "general"
	WorkerMath    = "math"
	WorkerWeb     = "web"
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                     ":8080",
			AllowedOrigins:           []string{"*"},
			ReadHeaderTimeoutSeconds: 10,
		},
		Dispatch: DispatchConfig{
			WorkerTimeoutSeconds: 60,
			MaxParallel:          0,
			MaxRetries:           2,
			RetryBaseDelayMs:     2000,
			RetryMaxDelayMs:      8000,
		},
		Stream: StreamConfig{
			QueueCapacity:    256,
			ChunkSize:        1,
			ChunkDelayMs:     10,
			ConsumeTimeoutMs: 1000,
		},
		Checkpoint: CheckpointConfig{
			Tiers:          []string{TierRedis, TierPostgres, TierSQLite, TierMemory},
			RedisKeyPrefix: "relay:",
			SQLitePath:     filepath.Join("db", "checkpoints", "checkpoints.sqlite"),
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Temperature:    0.2,
			TimeoutSeconds: 60,
		},
		Search: SearchConfig{
			MaxResults: 5,
		},
		Workers: map[string]WorkerConfig{
			WorkerGeneral: {Enabled: true},
			WorkerMath:    {Enabled: true},
			WorkerWeb:     {Enabled: true},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// WorkerTimeout returns the per-invocation deadline.
func (c *DispatchConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the first retry backoff.
func (c *DispatchConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling.
func (c *DispatchConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

// ChunkDelay returns the pause between thought events.
func (c *StreamConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMs) * time.Millisecond
}

// ConsumeTimeout returns how long a consumer waits for the next event.
func (c *StreamConfig) ConsumeTimeout() time.Duration {
	return time.Duration(c.ConsumeTimeoutMs) * time.Millisecond
}

// Timeout returns the HTTP client timeout for LLM calls.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReadHeaderTimeout returns the server's header read deadline.
func (c *ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// WorkerEnabled reports whether the named worker is enabled. Workers absent
// from the map are enabled.
func (c *Config) WorkerEnabled(name string) bool {
	wc, ok := c.Workers[strings.ToLower(name)]
	if !ok {
		return true
	}
	return wc.Enabled
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	viper.SetDefault("server.read_header_timeout_seconds", defaults.Server.ReadHeaderTimeoutSeconds)

	viper.SetDefault("dispatch.worker_timeout_seconds", defaults.Dispatch.WorkerTimeoutSeconds)
	viper.SetDefault("dispatch.max_parallel", defaults.Dispatch.MaxParallel)
	viper.SetDefault("dispatch.max_retries", defaults.Dispatch.MaxRetries)
	viper.SetDefault("dispatch.retry_base_delay_ms", defaults.Dispatch.RetryBaseDelayMs)
	viper.SetDefault("dispatch.retry_max_delay_ms", defaults.Dispatch.RetryMaxDelayMs)

	viper.SetDefault("stream.queue_capacity", defaults.Stream.QueueCapacity)
	viper.SetDefault("stream.chunk_size", defaults.Stream.ChunkSize)
	viper.SetDefault("stream.chunk_delay_ms", defaults.Stream.ChunkDelayMs)
	viper.SetDefault("stream.consume_timeout_ms", defaults.Stream.ConsumeTimeoutMs)

	viper.SetDefault("checkpoint.tiers", defaults.Checkpoint.Tiers)
	viper.SetDefault("checkpoint.redis_addr", defaults.Checkpoint.RedisAddr)
	viper.SetDefault("checkpoint.redis_password", defaults.Checkpoint.RedisPassword)
	viper.SetDefault("checkpoint.redis_db", defaults.Checkpoint.RedisDB)
	viper.SetDefault("checkpoint.redis_key_prefix", defaults.Checkpoint.RedisKeyPrefix)
	viper.SetDefault("checkpoint.postgres_dsn", defaults.Checkpoint.PostgresDSN)
	viper.SetDefault("checkpoint.sqlite_path", defaults.Checkpoint.SQLitePath)

	viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	viper.SetDefault("llm.model", defaults.LLM.Model)
	viper.SetDefault("llm.temperature", defaults.LLM.Temperature)
	viper.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)

	viper.SetDefault("search.tavily_api_key", defaults.Search.TavilyAPIKey)
	viper.SetDefault("search.max_results", defaults.Search.MaxResults)

	for name, wc := range defaults.Workers {
		viper.SetDefault("workers."+name+".enabled", wc.Enabled)
	}

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "relay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".config", "relay")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
