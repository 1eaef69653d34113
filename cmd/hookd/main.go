package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/forgecrm/hookd/internal/api"
	"github.com/forgecrm/hookd/internal/audit"
	"github.com/forgecrm/hookd/internal/config"
	"github.com/forgecrm/hookd/internal/delivery"
	"github.com/forgecrm/hookd/internal/health"
	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/replay"
	"github.com/forgecrm/hookd/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookd",
		Short: "hookd — outbound webhook delivery service for ForgeCRM",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(cleanupCmd(&configPath))
	rootCmd.AddCommand(workspaceCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hookd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			sender := delivery.NewSender(cfg.Delivery.Timeout)
			coord := delivery.NewCoordinator(sender, cfg.Delivery.MaxAttempts, cfg.Delivery.RetrySchedule, log)
			monitor := health.NewMonitor(store, cfg.Health.MaxFailedEvents, cfg.Health.RetentionDays, log)
			dispatcher := delivery.NewDispatcher(store, coord, sender, monitor, log)
			auditLog := audit.NewLogger(store, log)
			replayer := replay.NewEngine(store, sender, auditLog, cfg.Replay.WindowDays, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sweeper := health.NewSweeper(monitor, cfg.Health.SweepInterval, log)
			sweeper.Start(ctx)

			server := api.NewServer(cfg, store, dispatcher, sender, replayer, auditLog, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Str("environment", cfg.Environment).
				Int("port", cfg.Server.Port).
				Int("max_attempts", cfg.Delivery.MaxAttempts).
				Msg("hookd is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			sweeper.Stop()

			log.Info().Msg("hookd stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Println("migrations completed successfully")
			return nil
		},
	}
}

func cleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge delivery logs past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, cfg, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			log := setupLogger(cfg.Logging)
			monitor := health.NewMonitor(store, cfg.Health.MaxFailedEvents, cfg.Health.RetentionDays, log)

			removed, err := monitor.CleanupOldEntries(context.Background())
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}

			fmt.Printf("removed %d delivery logs older than %d days\n", removed, cfg.Health.RetentionDays)
			return nil
		},
	}
}

func workspaceCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			store, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			ws := &models.Workspace{
				ID:        models.NewID("ws"),
				Name:      name,
				APIKey:    models.NewAPIKey(),
				CreatedAt: now,
				UpdatedAt: now,
			}

			if err := store.CreateWorkspace(context.Background(), ws); err != nil {
				return fmt.Errorf("failed to create workspace: %w", err)
			}

			out, _ := json.MarshalIndent(ws, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "workspace name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			workspaces, err := store.ListWorkspaces(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list workspaces: %w", err)
			}

			if len(workspaces) == 0 {
				fmt.Println("No workspaces found.")
				return nil
			}

			for _, ws := range workspaces {
				fmt.Printf("  %s  %s  (created %s)\n", ws.ID, ws.Name, ws.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery stats for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: hookd stats <workspace_id>")
			}

			store, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hookd v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, cfg, nil
}
