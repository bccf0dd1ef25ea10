package config

import (
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/helixchat/helix/internal/common/cnst"
)

type (
	// Config is the root configuration for the helix gateway.
	Config struct {
		Server    ServerConfig    `yaml:"server"`
		Logger    LoggerConfig    `yaml:"logger"`
		Redis     RedisConfig     `yaml:"redis"`
		Database  DatabaseConfig  `yaml:"database"`
		Upstream  UpstreamConfig  `yaml:"upstream"`
		Stream    StreamConfig    `yaml:"stream"`
		Cache     CacheConfig     `yaml:"cache"`
		RateLimit RateLimitConfig `yaml:"ratelimit"`
		Metrics   MetricsConfig   `yaml:"metrics"`
	}

	// ServerConfig represents the HTTP server configuration
	ServerConfig struct {
		Port int    `yaml:"port"`
		PID  string `yaml:"pid"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}

	// RedisConfig represents the shared counter store configuration
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// DatabaseConfig represents the conversation store configuration
	DatabaseConfig struct {
		Type     string `yaml:"type"` // sqlite, mysql, postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		SSLMode  string `yaml:"sslmode"`
	}

	// UpstreamConfig represents the inference engine endpoint and its
	// retry/timeout policy.
	UpstreamConfig struct {
		BaseURL       string        `yaml:"base_url"`
		Path          string        `yaml:"path"`
		APIKey        string        `yaml:"api_key"`
		Model         string        `yaml:"model"`
		Provider      string        `yaml:"provider"`
		Timeout       time.Duration `yaml:"timeout"`
		MaxRetries    int           `yaml:"max_retries"`
		RetryBaseWait time.Duration `yaml:"retry_base_wait"`
		RetryMaxWait  time.Duration `yaml:"retry_max_wait"`
	}

	// StreamConfig represents the stream registry configuration
	StreamConfig struct {
		SessionTTL    time.Duration `yaml:"session_ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	}

	// CacheConfig represents the read-through cache configuration
	CacheConfig struct {
		Enabled         bool          `yaml:"enabled"`
		ConversationTTL time.Duration `yaml:"conversation_ttl"`
		ListTTL         time.Duration `yaml:"list_ttl"`
		MessageTTL      time.Duration `yaml:"message_ttl"`
		FileTTL         time.Duration `yaml:"file_ttl"`
	}

	// RateLimitRule represents the quota for one endpoint class
	RateLimitRule struct {
		Limit  int           `yaml:"limit"`
		Window time.Duration `yaml:"window"`
	}

	// RateLimitConfig represents the admission control configuration
	RateLimitConfig struct {
		Enabled bool          `yaml:"enabled"`
		Chat    RateLimitRule `yaml:"chat"`
		API     RateLimitRule `yaml:"api"`
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable
// placeholder support. A .env file in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DBName == "" {
		c.Database.DBName = "data/helix.db"
	}
	if c.Upstream.Path == "" {
		c.Upstream.Path = "/api/chat"
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = 120 * time.Second
	}
	if c.Upstream.MaxRetries <= 0 {
		c.Upstream.MaxRetries = 3
	}
	if c.Upstream.RetryBaseWait <= 0 {
		c.Upstream.RetryBaseWait = time.Second
	}
	if c.Upstream.RetryMaxWait <= 0 {
		c.Upstream.RetryMaxWait = 10 * time.Second
	}
	if c.Stream.SessionTTL <= 0 {
		c.Stream.SessionTTL = 300 * time.Second
	}
	if c.Stream.SweepInterval <= 0 {
		c.Stream.SweepInterval = 60 * time.Second
	}
	if c.Cache.ConversationTTL <= 0 {
		c.Cache.ConversationTTL = 10 * time.Minute
	}
	if c.Cache.ListTTL <= 0 {
		c.Cache.ListTTL = 5 * time.Minute
	}
	if c.Cache.MessageTTL <= 0 {
		c.Cache.MessageTTL = 5 * time.Minute
	}
	if c.Cache.FileTTL <= 0 {
		c.Cache.FileTTL = 5 * time.Minute
	}
	if c.RateLimit.Chat.Limit <= 0 {
		c.RateLimit.Chat.Limit = 20
	}
	if c.RateLimit.Chat.Window <= 0 {
		c.RateLimit.Chat.Window = time.Minute
	}
	if c.RateLimit.API.Limit <= 0 {
		c.RateLimit.API.Limit = 100
	}
	if c.RateLimit.API.Window <= 0 {
		c.RateLimit.API.Window = time.Minute
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = cnst.AppName
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
