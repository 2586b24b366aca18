package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/store"
)

var (
	// DB is the optional Postgres store shared by subcommands. It is nil when
	// no database is reachable.
	DB *store.Store

	cfg    config.Config
	logger *slog.Logger

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.2.0"

var rootCmd = &cobra.Command{
	Use:     "lookout",
	Short:   "Real-time human presence and face identification for a camera platform",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, configPath == "")
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger, err = logging.New(loggerOptions(cfg))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// Execute runs the CLI.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default: ~/.config/lookout/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $LOOKOUT_DB, POSTGRES_* or database.url)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
}

func loggerOptions(c config.Config) logging.Options {
	opts := logging.Options{Level: c.Logging.Level, Format: c.Logging.Format}
	if c.Logging.ToFile && c.Paths.LogDir != "" {
		opts.OutputPaths = []string{"stderr", filepath.Join(c.Paths.LogDir, "lookout.log")}
	}
	return opts
}

// resolveDBURL picks the connection string: flag, then LOOKOUT_DB, then the
// POSTGRES_* variables, then the config file. Empty means no database.
func resolveDBURL(flag string, c config.Config, getenv func(string) string) string {
	if flag != "" {
		return flag
	}
	if u := getenv("LOOKOUT_DB"); u != "" {
		return u
	}
	if host := getenv("POSTGRES_HOST"); host != "" {
		user := getenv("POSTGRES_USER")
		pass := getenv("POSTGRES_PASSWORD")
		name := getenv("POSTGRES_DB")
		port := getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return strings.TrimSpace(c.Database.URL)
}

// connectDB opens DB when a connection string is configured. With required
// unset a failure only logs a warning and the command continues without it.
func connectDB(ctx context.Context, required bool) error {
	url := resolveDBURL(dbURL, cfg, os.Getenv)
	if url == "" {
		if required {
			return fmt.Errorf("no database configured: pass --db or set LOOKOUT_DB")
		}
		return nil
	}
	s, err := store.New(ctx, url)
	if err != nil {
		if required {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Warn("database unavailable, continuing without gallery cache", "error", err)
		return nil
	}
	DB = s
	return nil
}
