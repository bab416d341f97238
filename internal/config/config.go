package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway settings. Values come from defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type BackendConfig struct {
	BaseURL            string        `yaml:"base_url"`
	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`
	ExtendedTimeout    time.Duration `yaml:"extended_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:            "http://backend:8001",
			InteractiveTimeout: 60 * time.Second,
			ExtendedTimeout:    120 * time.Second,
			PollInterval:       15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "redis:6379",
			ResultTTL: 30 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN: "host=postgres user=postgres password=postgres dbname=scoreslip port=5432 sslmode=disable",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if c.Backend.InteractiveTimeout <= 0 || c.Backend.ExtendedTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive")
	}
	if c.Backend.ExtendedTimeout < c.Backend.InteractiveTimeout {
		return fmt.Errorf("extended timeout %s is shorter than interactive timeout %s", c.Backend.ExtendedTimeout, c.Backend.InteractiveTimeout)
	}
	if c.Backend.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Backend.BaseURL = getEnv("BACKEND_URL", c.Backend.BaseURL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAudience = getEnv("JWT_AUDIENCE", c.Auth.JWTAudience)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"BACKEND_INTERACTIVE_TIMEOUT", &c.Backend.InteractiveTimeout},
		{"BACKEND_EXTENDED_TIMEOUT", &c.Backend.ExtendedTimeout},
		{"DASHBOARD_POLL_INTERVAL", &c.Backend.PollInterval},
		{"RESULT_TTL", &c.Redis.ResultTTL},
	}
	for _, d := range durations {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
