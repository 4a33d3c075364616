// Package config loads and validates the gatewayz configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Cache    CacheConfig    `json:"cache"`
	History  HistoryConfig  `json:"history"`
	Usage    UsageConfig    `json:"usage"`
	Queue    QueueConfig    `json:"queue"`
	Telegram TelegramConfig `json:"telegram"`
	Catalog  CatalogConfig  `json:"catalog"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"`
}

type ServerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"apiKey,omitempty"` // empty disables auth (dev only)
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"` // false falls back to the in-process store
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// CacheConfig sets the TTL per cached surface, in seconds.
type CacheConfig struct {
	StatsTTLSeconds       int `json:"statsTtlSeconds"`
	SearchTTLSeconds      int `json:"searchTtlSeconds"`
	ModelTTLSeconds       int `json:"modelTtlSeconds"`
	ProviderTTLSeconds    int `json:"providerTtlSeconds"`
	LeaderboardTTLSeconds int `json:"leaderboardTtlSeconds"`
}

type HistoryConfig struct {
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type UsageConfig struct {
	RetentionBuckets int  `json:"retentionBuckets"`
	FlushSnapshots   bool `json:"flushSnapshots"`
}

type QueueConfig struct {
	MaxAttempts        int `json:"maxAttempts"`
	BackoffBaseSeconds int `json:"backoffBaseSeconds"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.gatewayz).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gatewayz"
	}
	return filepath.Join(home, ".gatewayz")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis.enabled is true")
	}

	for name, ttl := range map[string]int{
		"cache.statsTtlSeconds":       cfg.Cache.StatsTTLSeconds,
		"cache.searchTtlSeconds":      cfg.Cache.SearchTTLSeconds,
		"cache.modelTtlSeconds":       cfg.Cache.ModelTTLSeconds,
		"cache.providerTtlSeconds":    cfg.Cache.ProviderTTLSeconds,
		"cache.leaderboardTtlSeconds": cfg.Cache.LeaderboardTTLSeconds,
	} {
		if ttl < 1 {
			errs = append(errs, name+" must be >= 1")
		}
	}

	if cfg.History.RetentionDays < 1 {
		errs = append(errs, "history.retentionDays must be >= 1")
	}
	if cfg.Usage.RetentionBuckets < 1 {
		errs = append(errs, "usage.retentionBuckets must be >= 1")
	}
	if cfg.Queue.MaxAttempts < 1 || cfg.Queue.MaxAttempts > 10 {
		errs = append(errs, "queue.maxAttempts must be between 1 and 10")
	}
	if cfg.Queue.BackoffBaseSeconds < 1 {
		errs = append(errs, "queue.backoffBaseSeconds must be >= 1")
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required when telegram.enabled is true")
		}
		if cfg.Telegram.ChatID == "" {
			errs = append(errs, "telegram.chatId is required when telegram.enabled is true")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
