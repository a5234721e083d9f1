package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the boardroom service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string        `mapstructure:"address"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
	AllowOrigins  []string      `mapstructure:"allow_origins"`
	AutoMigrate   bool          `mapstructure:"auto_migrate"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai or any openai-compatible endpoint
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	JSONMode   bool                `mapstructure:"json_mode"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model serves each pipeline call site
type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning"`
	Responding string `mapstructure:"responding"`
	Validation string `mapstructure:"validation"`
	Synthesis  string `mapstructure:"synthesis"`
	Fallback   string `mapstructure:"fallback"`
}

// Validate ensures at least one provider with at least one model exists.
func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers must configure at least one provider")
	}
	for name, p := range l.Providers {
		if strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("llm.providers.%s.type required", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("llm.providers.%s.models must not be empty", name)
		}
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port with the default Redis port applied.
func (r RedisConfig) Addr() string {
	port := strings.TrimSpace(r.Port)
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" && strings.TrimSpace(p.DBName) == "" {
		// not configured; the serve command reports this when it needs a database
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// MemoryConfig controls the long-term memory store and its janitor.
type MemoryConfig struct {
	KeyPrefix     string `mapstructure:"key_prefix"`
	MaxPerUser    int    `mapstructure:"max_per_user"`
	RetentionDays int    `mapstructure:"retention_days"`
	PruneCron     string `mapstructure:"prune_cron"`
}

// Normalize applies defaults for unset memory values.
func (m MemoryConfig) Normalize() MemoryConfig {
	if strings.TrimSpace(m.KeyPrefix) == "" {
		m.KeyPrefix = "boardroom:memory"
	}
	if m.MaxPerUser <= 0 {
		m.MaxPerUser = 500
	}
	if strings.TrimSpace(m.PruneCron) == "" {
		m.PruneCron = "@daily"
	}
	return m
}

func (m MemoryConfig) Validate() error {
	if m.RetentionDays < 0 {
		return fmt.Errorf("memory.retention_days cannot be negative")
	}
	return nil
}

// PipelineConfig tunes the planning / dispatch / validation pipeline.
type PipelineConfig struct {
	PoolSize            int           `mapstructure:"pool_size"`
	MaxRetries          int           `mapstructure:"max_retries"`
	PassThreshold       float64       `mapstructure:"pass_threshold"`
	KeepBetterAttempt   bool          `mapstructure:"keep_better_attempt"`
	HistoryTurns        int           `mapstructure:"history_turns"`
	MemoryLimit         int           `mapstructure:"memory_limit"`
	DefaultResponder    string        `mapstructure:"default_responder"`
	MaxKeywordMatches   int           `mapstructure:"max_keyword_matches"`
	ValidatorInputLimit int           `mapstructure:"validator_input_limit"`
	MemorySummaryLimit  int           `mapstructure:"memory_summary_limit"`
	MemoryWriteTimeout  time.Duration `mapstructure:"memory_write_timeout"`
	RespondersFile      string        `mapstructure:"responders_file"`
}

// Normalize applies pipeline defaults for unset values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.PoolSize <= 0 {
		p.PoolSize = 8
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.PassThreshold <= 0 {
		p.PassThreshold = 6.5
	}
	if p.HistoryTurns <= 0 {
		p.HistoryTurns = 6
	}
	if p.MemoryLimit <= 0 {
		p.MemoryLimit = 5
	}
	p.DefaultResponder = strings.TrimSpace(p.DefaultResponder)
	if p.DefaultResponder == "" {
		p.DefaultResponder = "CEO"
	}
	if p.MaxKeywordMatches <= 0 {
		p.MaxKeywordMatches = 3
	}
	if p.ValidatorInputLimit <= 0 {
		p.ValidatorInputLimit = 2000
	}
	if p.MemorySummaryLimit <= 0 {
		p.MemorySummaryLimit = 600
	}
	if p.MemoryWriteTimeout <= 0 {
		p.MemoryWriteTimeout = 30 * time.Second
	}
	return p
}

// Validate checks the pipeline configuration after normalisation.
func (p PipelineConfig) Validate() error {
	if p.PassThreshold > 10 {
		return fmt.Errorf("pipeline.pass_threshold must be within [0,10]")
	}
	if p.MaxRetries > 5 {
		return fmt.Errorf("pipeline.max_retries must be <= 5")
	}
	return nil
}

// DefaultPipelineConfig returns the normalised zero configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{MaxRetries: 1}.Normalize()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.auto_migrate", true)
	v.SetDefault("server.migrations_dir", "file://migrations")
	v.SetDefault("telemetry.service_name", "boardroom")
	v.SetDefault("memory.key_prefix", "boardroom:memory")
	v.SetDefault("memory.max_per_user", 500)
	v.SetDefault("memory.prune_cron", "@daily")
	v.SetDefault("pipeline.pool_size", 8)
	v.SetDefault("pipeline.max_retries", 1)
	v.SetDefault("pipeline.pass_threshold", 6.5)
	v.SetDefault("pipeline.keep_better_attempt", false)
	v.SetDefault("pipeline.history_turns", 6)
	v.SetDefault("pipeline.memory_limit", 5)
	v.SetDefault("pipeline.default_responder", "CEO")
	v.SetDefault("pipeline.max_keyword_matches", 3)
	v.SetDefault("pipeline.validator_input_limit", 2000)
	v.SetDefault("pipeline.memory_summary_limit", 600)
	v.SetDefault("pipeline.memory_write_timeout", 30*time.Second)
}

// LoadConfig loads config from file and BOARDROOM_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("BOARDROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (BOARDROOM_*)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize normalises every section and validates the result.
func (c *Config) Finalize() error {
	c.Memory = c.Memory.Normalize()
	c.Pipeline = c.Pipeline.Normalize()
	validators := []func() error{
		c.Telemetry.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
		c.Memory.Validate,
		c.Pipeline.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// JWTSecret resolves the signing secret: server.jwt_secret, then general.jwt_secret.
func (c *Config) JWTSecret() string {
	if c == nil {
		return ""
	}
	if c.Server.JWTSecret != "" {
		return c.Server.JWTSecret
	}
	return c.General.JWTSecret
}
