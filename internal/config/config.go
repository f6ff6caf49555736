package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for all namespaced environment variables.
// Fields also accept their short name (PORT, DATABASE_URL, ...) as a fallback.
const EnvPrefix = "MINDWELL"

// DefaultPort is the listener port used when PORT is not set
const DefaultPort = 3001

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DB"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Jobs      JobsConfig      `yaml:"jobs" envconfig:"JOBS"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
}

// Addr returns the listen address for the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains document database configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DATABASE_DRIVER"`
	URL             string        `yaml:"url" envconfig:"DATABASE_URL"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" envconfig:"DATABASE_CONNECT_TIMEOUT"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"DATABASE_AUTO_MIGRATE"`
}

// AuthConfig contains token issuing configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Issuer    string        `yaml:"issuer" envconfig:"JWT_ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"JWT_TTL"`
}

// JobsConfig contains background job configuration
type JobsConfig struct {
	AppID       string `yaml:"app_id" envconfig:"INNGEST_APP_ID"`
	Workers     int    `yaml:"workers" envconfig:"JOB_WORKERS"`
	QueueSize   int    `yaml:"queue_size" envconfig:"JOB_QUEUE_SIZE"`
	MaxRetries  int    `yaml:"max_retries" envconfig:"JOB_MAX_RETRIES"`
	SigningKey  string `yaml:"signing_key" envconfig:"INNGEST_SIGNING_KEY"`
	CronEnabled bool   `yaml:"cron_enabled" envconfig:"JOB_CRON_ENABLED"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"CORS_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RL"`
	// EncryptionKey enables at-rest encryption of chat messages when set
	EncryptionKey string `yaml:"encryption_key" envconfig:"CHAT_ENCRYPTION_KEY"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RATE_LIMIT_RPS"`
	Burst   int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format   string `yaml:"format" envconfig:"LOG_FORMAT"`
	Output   string `yaml:"output" envconfig:"LOG_OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"LOG_FILE"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"TRACE_SAMPLE_RATIO"`
	MetricsEnabled bool    `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// Load loads configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
func Load() (*Config, error) {
	cfg := Default()

	// Load from config file if exists
	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Environment variables override file and defaults. Empty ones count as
	// unset, so PORT= still falls back to the default.
	unsetEmptyEnv(envKeys(EnvPrefix, reflect.TypeOf(*cfg)))
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKeys lists every variable envconfig reads for t: the prefixed name and
// the short alternate of each field
func envKeys(prefix string, t reflect.Type) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("envconfig")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.ToUpper(tag)
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, envKeys(prefix+"_"+name, f.Type)...)
			continue
		}
		keys = append(keys, prefix+"_"+name, name)
	}
	return keys
}

func unsetEmptyEnv(keys []string) {
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) == "" {
			os.Unsetenv(key)
		}
	}
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.ConnectTimeout < 0 {
		return fmt.Errorf("database connect timeout must not be negative")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 characters")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("jwt ttl must be positive")
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("job workers must be positive")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) < 16 {
		return fmt.Errorf("chat encryption key must be at least 16 characters")
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}

	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter: %q", c.Telemetry.TraceExporter)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			MaxBodyBytes:    1 << 20, // 1MB
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			ConnectTimeout:  30 * time.Second,
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			Issuer:   "mindwell",
			TokenTTL: 24 * time.Hour,
		},
		Jobs: JobsConfig{
			AppID:       "mindwell",
			Workers:     4,
			QueueSize:   64,
			MaxRetries:  3,
			CronEnabled: true,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			SampleRatio:    1.0,
			MetricsEnabled: true,
			Environment:    "development",
		},
	}
}
