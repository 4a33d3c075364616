package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatewayz/internal/cache"
	"gatewayz/internal/catalog"
	"gatewayz/internal/config"
	"gatewayz/internal/domain"
	"gatewayz/internal/history"
	"gatewayz/internal/notify"
	"gatewayz/internal/queue"
	"gatewayz/internal/server"
	"gatewayz/internal/usage"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "gatewayz",
		Short:   "gatewayz: AI-model gateway metrics and cache service",
		Long:    "gatewayz serves cached gateway metrics, chat history with write-driven cache invalidation, and the outbound notification queue.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.gatewayz/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	logger = setupLogger(cfg.General)

	// Graceful shutdown on signals.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store domain.CacheStore
	if cfg.Redis.Enabled {
		store = cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("cache store: redis", "addr", cfg.Redis.Addr)
	} else {
		store = cache.NewMemoryStore()
		logger.Info("cache store: in-process")
	}
	defer store.Close()

	hist, err := history.NewStore(cfg.History.DBPath, logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	if cfg.History.RetentionDays > 0 {
		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		if n, err := hist.Prune(ctx, retention); err != nil {
			logger.Warn("history prune failed", "err", err)
		} else if n > 0 {
			logger.Info("history pruned", "messages", n)
		}
	}

	var sink usage.SnapshotSink
	if cfg.Usage.FlushSnapshots {
		sink = hist
	}
	agg := usage.NewAggregator(usage.AggregatorConfig{
		RetentionBuckets: cfg.Usage.RetentionBuckets,
		Sink:             sink,
		Logger:           logger,
	})

	inv := cache.NewInvalidator(store, logger)

	cat, err := catalog.Load(cfg.Catalog.Path, logger)
	if err != nil {
		return err
	}

	q, err := buildQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	srv := server.New(server.Config{
		Server:  cfg.Server,
		Cache:   cfg.Cache,
		Store:   store,
		Usage:   agg,
		History: hist,
		Inval:   inv,
		Catalog: cat,
		Queue:   q,
		Logger:  logger,
	})
	return srv.Start(ctx)
}

// buildQueue wires the outbound queue to its delivery processor: Telegram
// when configured, otherwise a log-only sink so enqueued messages still
// drain.
func buildQueue(cfg *config.Config, logger *slog.Logger) (*queue.Queue, error) {
	var processor queue.Processor
	if cfg.Telegram.Enabled {
		sender, err := notify.NewTelegramSender(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		processor = sender.Send
	} else {
		processor = func(ctx context.Context, msg queue.Message) error {
			logger.Info("outbound message (no sender configured)", "id", msg.ID, "content", msg.Content)
			return nil
		}
	}

	return queue.New(queue.Config{
		Processor: processor,
		OnError: func(msg queue.Message, err error) {
			logger.Error("outbound message dropped after retries", "id", msg.ID, "err", err)
		},
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
		Logger:      logger,
	}), nil
}

func setupLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.LogFile, "err", err)
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe a running server's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}

			url := fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("server unreachable at %s: %w", url, err)
			}
			defer resp.Body.Close()

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("unexpected response: %w", err)
			}
			fmt.Printf("server:  %s\n", url)
			fmt.Printf("status:  %v\n", body["status"])
			fmt.Printf("uptime:  %vs\n", body["uptime"])
			fmt.Printf("bucket:  %v\n", body["bucket"])
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print a config value by dot path (e.g. cache.statsTtlSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value by dot path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
