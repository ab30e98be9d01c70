package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audit     AuditConfig     `mapstructure:"audit"`
	External  ExternalConfig  `mapstructure:"external"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExternalConfig represents the optional external knowledge services. An
// empty base URL disables the corresponding client.
type ExternalConfig struct {
	GuidelineBaseURL string `mapstructure:"guideline_base_url"`
	TrialsBaseURL    string `mapstructure:"trials_base_url"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ReasoningConfig represents reasoning-service client configuration
type ReasoningConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        int           `mapstructure:"rate_limit"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	BreakerInterval  time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// CacheConfig represents run-result cache configuration
type CacheConfig struct {
	RedisURL  string        `mapstructure:"redis_url"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
	LRUSize   int           `mapstructure:"lru_size"`
	Disabled  bool          `mapstructure:"disabled"`
}

// AuditConfig represents run audit log configuration
type AuditConfig struct {
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
