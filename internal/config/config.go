package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage modes.
const (
	StorageLocal  = "local"
	StorageGitHub = "github"
	StorageSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server" toml:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" toml:"storage" yaml:"storage"`
	Notify    NotifyConfig    `json:"notify" toml:"notify" yaml:"notify"`
	Cache     CacheConfig     `json:"cache" toml:"cache" yaml:"cache"`
	Tracing   TracingConfig   `json:"tracing" toml:"tracing" yaml:"tracing"`
	RateLimit RateLimitConfig `json:"rate_limit" toml:"rate_limit" yaml:"rate_limit"`
	Auth      AuthConfig      `json:"auth" toml:"auth" yaml:"auth"`
	Logging   LoggingConfig   `json:"logging" toml:"logging" yaml:"logging"`
	Security  SecurityConfig  `json:"security" toml:"security" yaml:"security"`
	Features  FeaturesConfig  `json:"features" toml:"features" yaml:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port" toml:"port" yaml:"port"`
	Host      string `json:"host" toml:"host" yaml:"host"`
	EnableTLS bool   `json:"enable_tls" toml:"enable_tls" yaml:"enable_tls"`
	CertFile  string `json:"cert_file" toml:"cert_file" yaml:"cert_file"`
	KeyFile   string `json:"key_file" toml:"key_file" yaml:"key_file"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Mode       string       `json:"mode" toml:"mode" yaml:"mode"`
	Dir        string       `json:"dir" toml:"dir" yaml:"dir"`
	SQLitePath string       `json:"sqlite_path" toml:"sqlite_path" yaml:"sqlite_path"`
	Remote     RemoteConfig `json:"remote" toml:"remote" yaml:"remote"`
}

// RemoteConfig holds the hosted repository settings for the github mode.
type RemoteConfig struct {
	Owner      string `json:"owner" toml:"owner" yaml:"owner"`
	Repo       string `json:"repo" toml:"repo" yaml:"repo"`
	Branch     string `json:"branch" toml:"branch" yaml:"branch"`
	Token      string `json:"token" toml:"token" yaml:"token"`
	Dir        string `json:"dir" toml:"dir" yaml:"dir"`
	RawBaseURL string `json:"raw_base_url" toml:"raw_base_url" yaml:"raw_base_url"`
	APIBaseURL string `json:"api_base_url" toml:"api_base_url" yaml:"api_base_url"`
}

// NotifyConfig configures the chat-bot notification sink.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	BotBaseURL string `json:"bot_base_url" toml:"bot_base_url" yaml:"bot_base_url"`
	BotToken   string `json:"bot_token" toml:"bot_token" yaml:"bot_token"`
	ChatID     string `json:"chat_id" toml:"chat_id" yaml:"chat_id"`
}

// CacheConfig configures the report cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	RedisAddr     string `json:"redis_addr" toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" toml:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" toml:"redis_db" yaml:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds" toml:"ttl_seconds" yaml:"ttl_seconds"`
}

// TracingConfig configures the jaeger exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" toml:"endpoint" yaml:"endpoint"`
	Environment string `json:"environment" toml:"environment" yaml:"environment"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" toml:"enabled" yaml:"enabled"`
	RequestsPerMinute float64 `json:"requests_per_minute" toml:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `json:"burst" toml:"burst" yaml:"burst"`
}

// AuthConfig guards mutating routes with HMAC-signed bearer tokens.
type AuthConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	HMACSecret string `json:"hmac_secret" toml:"hmac_secret" yaml:"hmac_secret"`
	Issuer     string `json:"issuer" toml:"issuer" yaml:"issuer"`
	Audience   string `json:"audience" toml:"audience" yaml:"audience"`
}

// LoggingConfig holds log level and optional file rotation settings.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level" yaml:"level"`
	File       string `json:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size" toml:"max_request_body_size" yaml:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
}

// FeaturesConfig holds the initial state of runtime feature flags.
type FeaturesConfig struct {
	ReportCache      bool `json:"report_cache" toml:"report_cache" yaml:"report_cache"`
	Notifications    bool `json:"notifications" toml:"notifications" yaml:"notifications"`
	ConsistencyCheck bool `json:"consistency_check" toml:"consistency_check" yaml:"consistency_check"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			Host:      getEnv("SERVER_HOST", ""),
			EnableTLS: getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:  getEnv("SERVER_CERT_FILE", ""),
			KeyFile:   getEnv("SERVER_KEY_FILE", ""),
		},
		Storage: StorageConfig{
			Mode:       getEnv("STORAGE_MODE", StorageLocal),
			Dir:        getEnv("STORAGE_DIR", "./data"),
			SQLitePath: getEnv("STORAGE_SQLITE_PATH", "./loyalty_ledger.db"),
			Remote: RemoteConfig{
				Owner:      getEnv("GITHUB_OWNER", ""),
				Repo:       getEnv("GITHUB_REPO", ""),
				Branch:     getEnv("GITHUB_BRANCH", "main"),
				Token:      getEnv("GITHUB_TOKEN", ""),
				Dir:        getEnv("GITHUB_DIR", ""),
				RawBaseURL: getEnv("GITHUB_RAW_BASE_URL", ""),
				APIBaseURL: getEnv("GITHUB_API_BASE_URL", ""),
			},
		},
		Notify: NotifyConfig{
			Enabled:    getEnvBool("NOTIFY_ENABLED", false),
			BotBaseURL: getEnv("NOTIFY_BOT_BASE_URL", ""),
			BotToken:   getEnv("NOTIFY_BOT_TOKEN", ""),
			ChatID:     getEnv("NOTIFY_CHAT_ID", ""),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CACHE_ENABLED", true),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			TTLSeconds:    getEnvInt("CACHE_TTL_SECONDS", 300),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvFloat("RATE_LIMIT_RPM", 120),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 20),
		},
		Auth: AuthConfig{
			Enabled:    getEnvBool("AUTH_ENABLED", false),
			HMACSecret: getEnv("AUTH_HMAC_SECRET", ""),
			Issuer:     getEnv("AUTH_ISSUER", ""),
			Audience:   getEnv("AUTH_AUDIENCE", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		},
		Features: FeaturesConfig{
			ReportCache:      getEnvBool("FEATURE_REPORT_CACHE", true),
			Notifications:    getEnvBool("FEATURE_NOTIFICATIONS", true),
			ConsistencyCheck: getEnvBool("FEATURE_CONSISTENCY_CHECK", false),
		},
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile decodes a JSON, TOML or YAML file chosen by extension.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json", "":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return err
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setBool(&cfg.Server.EnableTLS, "SERVER_ENABLE_TLS")
	setString(&cfg.Server.CertFile, "SERVER_CERT_FILE")
	setString(&cfg.Server.KeyFile, "SERVER_KEY_FILE")

	setString(&cfg.Storage.Mode, "STORAGE_MODE")
	setString(&cfg.Storage.Dir, "STORAGE_DIR")
	setString(&cfg.Storage.SQLitePath, "STORAGE_SQLITE_PATH")
	setString(&cfg.Storage.Remote.Owner, "GITHUB_OWNER")
	setString(&cfg.Storage.Remote.Repo, "GITHUB_REPO")
	setString(&cfg.Storage.Remote.Branch, "GITHUB_BRANCH")
	setString(&cfg.Storage.Remote.Token, "GITHUB_TOKEN")
	setString(&cfg.Storage.Remote.Dir, "GITHUB_DIR")
	setString(&cfg.Storage.Remote.RawBaseURL, "GITHUB_RAW_BASE_URL")
	setString(&cfg.Storage.Remote.APIBaseURL, "GITHUB_API_BASE_URL")

	setBool(&cfg.Notify.Enabled, "NOTIFY_ENABLED")
	setString(&cfg.Notify.BotBaseURL, "NOTIFY_BOT_BASE_URL")
	setString(&cfg.Notify.BotToken, "NOTIFY_BOT_TOKEN")
	setString(&cfg.Notify.ChatID, "NOTIFY_CHAT_ID")

	setBool(&cfg.Cache.Enabled, "CACHE_ENABLED")
	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = n
		}
	}
	if ttl := os.Getenv("CACHE_TTL_SECONDS"); ttl != "" {
		if n, err := strconv.Atoi(ttl); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "JAEGER_ENDPOINT")
	setString(&cfg.Tracing.Environment, "ENVIRONMENT")

	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	if rpm := os.Getenv("RATE_LIMIT_RPM"); rpm != "" {
		if f, err := strconv.ParseFloat(rpm, 64); err == nil {
			cfg.RateLimit.RequestsPerMinute = f
		}
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimit.Burst = n
		}
	}

	setBool(&cfg.Auth.Enabled, "AUTH_ENABLED")
	setString(&cfg.Auth.HMACSecret, "AUTH_HMAC_SECRET")
	setString(&cfg.Auth.Issuer, "AUTH_ISSUER")
	setString(&cfg.Auth.Audience, "AUTH_AUDIENCE")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.File, "LOG_FILE")

	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")

	setBool(&cfg.Features.ReportCache, "FEATURE_REPORT_CACHE")
	setBool(&cfg.Features.Notifications, "FEATURE_NOTIFICATIONS")
	setBool(&cfg.Features.ConsistencyCheck, "FEATURE_CONSISTENCY_CHECK")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Security.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("tls requires cert_file and key_file")
	}

	switch c.Storage.Mode {
	case StorageLocal:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage dir is required in local mode")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required in sqlite mode")
		}
	case StorageGitHub:
		r := c.Storage.Remote
		if r.Owner == "" || r.Repo == "" || r.Token == "" {
			return fmt.Errorf("github mode requires owner, repo and token")
		}
	default:
		return fmt.Errorf("unknown storage mode %q", c.Storage.Mode)
	}

	if c.Notify.Enabled && (c.Notify.BotToken == "" || c.Notify.ChatID == "") {
		return fmt.Errorf("notifications require bot_token and chat_id")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit requests_per_minute must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}
	if c.Auth.Enabled && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth requires hmac_secret")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}
