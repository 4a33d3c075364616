package config

import "path/filepath"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Cache: CacheConfig{
			StatsTTLSeconds:       300,
			SearchTTLSeconds:      120,
			ModelTTLSeconds:       60,
			ProviderTTLSeconds:    60,
			LeaderboardTTLSeconds: 30,
		},
		History: HistoryConfig{
			DBPath:        filepath.Join(DefaultConfigDir(), "history.db"),
			RetentionDays: 90,
		},
		Usage: UsageConfig{
			RetentionBuckets: 24,
			FlushSnapshots:   true,
		},
		Queue: QueueConfig{
			MaxAttempts:        3,
			BackoffBaseSeconds: 1,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Catalog: CatalogConfig{
			Path: filepath.Join(DefaultConfigDir(), "catalog.yaml"),
		},
	}
}
