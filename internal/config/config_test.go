package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORAGE_MODE", "")
	t.Setenv("SERVER_PORT", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Mode != StorageLocal {
		t.Errorf("Expected local storage, got %s", cfg.Storage.Mode)
	}
	if cfg.Features.ConsistencyCheck {
		t.Error("Expected consistency check off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	t.Setenv("STORAGE_MODE", "")
	path := writeFile(t, "ledger.toml", `
[storage]
mode = "sqlite"
sqlite_path = "/tmp/ledger.db"

[rate_limit]
enabled = true
requests_per_minute = 30.0
burst = 5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Mode != StorageSQLite || cfg.Storage.SQLitePath != "/tmp/ledger.db" {
		t.Errorf("Unexpected storage config %+v", cfg.Storage)
	}
	if cfg.RateLimit.RequestsPerMinute != 30 || cfg.RateLimit.Burst != 5 {
		t.Errorf("Unexpected rate limit %+v", cfg.RateLimit)
	}
}

func TestLoadConfig_YAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "ledger.yaml", `
storage:
  mode: github
  remote:
    owner: acme
    repo: ledger
    token: from-file
notify:
  enabled: true
  bot_token: abc
  chat_id: "42"
`)
	t.Setenv("GITHUB_TOKEN", "from-env")
	t.Setenv("STORAGE_MODE", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Remote.Token != "from-env" {
		t.Errorf("Expected env token to win, got %s", cfg.Storage.Remote.Token)
	}
	if cfg.Storage.Remote.Branch != "main" {
		t.Errorf("Expected default branch to survive, got %q", cfg.Storage.Remote.Branch)
	}
	if cfg.Notify.ChatID != "42" {
		t.Errorf("Expected chat id 42, got %q", cfg.Notify.ChatID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected config to validate, got %v", err)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	path := writeFile(t, "ledger.json", `{"server": {"port": "9090"}, "security": {"allowed_origins": "https://a.example, https://b.example"}}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("Unexpected origins %v", origins)
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "ledger.ini", "port=1")
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		cfg.Storage.Mode = StorageLocal
		cfg.Storage.Dir = "./data"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage mode", func(c *Config) { c.Storage.Mode = "s3" }},
		{"github without token", func(c *Config) {
			c.Storage.Mode = StorageGitHub
			c.Storage.Remote = RemoteConfig{Owner: "acme", Repo: "ledger"}
		}},
		{"notify without chat", func(c *Config) { c.Notify = NotifyConfig{Enabled: true, BotToken: "abc"} }},
		{"auth without secret", func(c *Config) { c.Auth = AuthConfig{Enabled: true} }},
		{"tls without cert", func(c *Config) { c.Server.EnableTLS = true }},
		{"zero burst", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 10} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
