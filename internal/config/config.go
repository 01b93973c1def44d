package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Queue    QueueConfig    `mapstructure:"queue"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// BaseURL is the externally reachable URL of this service. It is used to
	// build the OAuth redirect URI, which must match the Azure app registration
	// exactly.
	BaseURL string `mapstructure:"base_url"`
	TLS     struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// RedirectURI returns the OAuth callback URL derived from the base URL
func (c ServerConfig) RedirectURI() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/v1/auth/microsoft/callback"
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig holds administrative API configuration
type AdminConfig struct {
	// APIKey protects the admin and authorization-start endpoints. Empty
	// disables those endpoints entirely rather than leaving them open.
	APIKey       string             `mapstructure:"api_key"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	DefaultWindow string `mapstructure:"default_window"`
}

// GraphConfig holds Microsoft identity and Graph endpoint configuration.
// The base URLs are overridable so tests can point at a local stub.
type GraphConfig struct {
	// LoginBaseURL is the identity platform base, default https://login.microsoftonline.com
	LoginBaseURL string `mapstructure:"login_base_url"`
	// APIBaseURL is the Graph API base, default https://graph.microsoft.com/v1.0
	APIBaseURL string `mapstructure:"api_base_url"`
	// RequestTimeout bounds every token refresh and sendMail call
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ExchangeTimeout bounds the one-time authorization-code exchange
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
}

// QueueConfig holds outbound queue processing configuration
type QueueConfig struct {
	// Interval between background queue scans; 0 disables the ticker
	Interval time.Duration `mapstructure:"interval"`
	// BatchSize caps the number of queued messages claimed per scan
	BatchSize int `mapstructure:"batch_size"`
}

// SMTPConfig holds the fallback SMTP transport configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// From is the envelope sender used when a message has no From address
	From string `mapstructure:"from"`
}

// Addr returns the SMTP server address
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mailgraph")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("MAILGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailgraph")
	v.SetDefault("database.user", "mailgraph")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Admin defaults
	v.SetDefault("admin.api_key", "")
	v.SetDefault("admin.rate_limiting.enabled", true)
	v.SetDefault("admin.rate_limiting.default_limit", 100)
	v.SetDefault("admin.rate_limiting.default_window", "1m")

	// Graph defaults
	v.SetDefault("graph.login_base_url", "https://login.microsoftonline.com")
	v.SetDefault("graph.api_base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("graph.request_timeout", "10s")
	v.SetDefault("graph.exchange_timeout", "30s")

	// Queue defaults
	v.SetDefault("queue.interval", "60s")
	v.SetDefault("queue.batch_size", 50)

	// SMTP defaults
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
}
