package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gatewayz/internal/cache"
	"gatewayz/internal/catalog"
	"gatewayz/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your gatewayz installation",
		Long: `Verifies that the configuration, history database, Redis connection,
and catalog are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("gatewayz doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'gatewayz init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. History database writable
			if err := checkDatabase(cfg.History.DBPath); err != nil {
				printFail("History database", err.Error())
				failed++
			} else {
				printPass("History database", cfg.History.DBPath)
				passed++
			}

			// 4. Redis reachable (when enabled)
			if cfg.Redis.Enabled {
				if err := checkRedis(cfg.Redis); err != nil {
					printFail("Redis", fmt.Sprintf("%s: %v", cfg.Redis.Addr, err))
					failed++
				} else {
					printPass("Redis", cfg.Redis.Addr)
					passed++
				}
			} else {
				printWarn("Redis", "disabled; using the in-process cache store")
				warned++
			}

			// 5. Catalog parses
			if cfg.Catalog.Path == "" {
				printWarn("Catalog", "not configured")
				warned++
			} else if _, err := os.Stat(cfg.Catalog.Path); err != nil {
				printWarn("Catalog", fmt.Sprintf("not found: %s (metrics responses will lack display names)", cfg.Catalog.Path))
				warned++
			} else if _, err := catalog.Load(cfg.Catalog.Path, logger); err != nil {
				printFail("Catalog", err.Error())
				failed++
			} else {
				printPass("Catalog", cfg.Catalog.Path)
				passed++
			}

			// 6. API port available
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("API port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 7. API key configured
			if cfg.Server.APIKey == "" {
				printWarn("API key", "not set; the API is unauthenticated")
				warned++
			} else {
				printPass("API key", "configured")
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running gatewayz.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ngatewayz should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! gatewayz is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkRedis(cfg config.RedisConfig) error {
	store := cache.NewRedisStore(cache.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.Ping(ctx)
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
