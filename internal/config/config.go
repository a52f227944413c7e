// Package config provides configuration for the chat client and the
// reference query backend. Values come from defaults, then an optional YAML
// file named by REPOCHAT_CONFIG, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "REPOCHAT_CONFIG"

// Config holds all configuration for the application.
type Config struct {
	// Client settings
	APIURL            string        `yaml:"api_url"`
	Token             string        `yaml:"token"`
	SessionCookie     string        `yaml:"session_cookie"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
	RefetchHistory    bool          `yaml:"refetch_history"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`

	// History persistence: "memory" or "nats"
	HistoryStore string `yaml:"history_store"`

	// NATS settings
	NATSURL      string `yaml:"nats_url"`
	NATSCAFile   string `yaml:"nats_ca_file"`
	NATSCertFile string `yaml:"nats_cert_file"`
	NATSKeyFile  string `yaml:"nats_key_file"`
	NATSToken    string `yaml:"nats_token"`

	// JWT settings
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`

	// LLM settings
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	DefaultLLM      string `yaml:"default_llm"`

	// Processed repositories, "id=owner/name" comma separated
	ProcessedRepos string `yaml:"processed_repos"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		APIURL:            "http://localhost:8080",
		StreamIdleTimeout: 60 * time.Second,
		RefetchHistory:    true,
		RequestTimeout:    30 * time.Second,

		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,

		HistoryStore: "memory",

		NATSURL: "nats://localhost:4222",

		JWTSecret:     "development-secret-change-in-production",
		JWTExpiration: 15 * time.Minute,

		DefaultLLM: "echo",

		ProcessedRepos: "demo=capitalize-ai/demo",

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// Load reads configuration from the optional YAML file and the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.mergeEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() {
	// Client
	c.APIURL = getEnv("REPOCHAT_API_URL", c.APIURL)
	c.Token = getEnv("REPOCHAT_TOKEN", c.Token)
	c.SessionCookie = getEnv("REPOCHAT_SESSION_COOKIE", c.SessionCookie)
	c.StreamIdleTimeout = getDurationEnv("REPOCHAT_STREAM_IDLE_TIMEOUT", c.StreamIdleTimeout)
	c.RefetchHistory = getBoolEnv("REPOCHAT_REFETCH_HISTORY", c.RefetchHistory)
	c.RequestTimeout = getDurationEnv("REPOCHAT_REQUEST_TIMEOUT", c.RequestTimeout)

	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.HistoryStore = getEnv("HISTORY_STORE", c.HistoryStore)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiration = getDurationEnv("JWT_EXPIRATION", c.JWTExpiration)

	// LLM
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.DefaultLLM = getEnv("DEFAULT_LLM", c.DefaultLLM)
	c.ProcessedRepos = getEnv("PROCESSED_REPOS", c.ProcessedRepos)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
