// Package jobqctl implements the jobqctl operator CLI: a thin cobra
// wrapper over internal/queue.Store, the same package the API and
// worker services use (§4.10).
package jobqctl

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobq/internal/config"
	"github.com/cuongbtq/jobq/internal/queue"
	"github.com/cuongbtq/jobq/shared/postgresql"
)

// env bundles the resources every subcommand needs: a store handle and
// a quiet logger (jobqctl talks to the operator via stdout, not logs).
type env struct {
	store  *queue.Store
	db     *postgresql.Client
	logger *slog.Logger
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// Execute builds and runs the jobqctl root command.
func Execute() error {
	rootCmd, _ := newRootCmd()
	return rootCmd.Execute()
}

func newRootCmd() (*cobra.Command, *env) {
	var configPath string
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "jobqctl",
		Short:         "Operator CLI for the jobq durable job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			dbClient, err := postgresql.NewClient(&postgresql.Config{
				Host:            cfg.Database.Host,
				Port:            cfg.Database.Port,
				User:            cfg.Database.User,
				Password:        cfg.Database.Password,
				Database:        cfg.Database.Database,
				SSLMode:         cfg.Database.SSLMode,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}

			e.db = dbClient
			e.logger = logger
			e.store = queue.NewStore(dbClient.GetDB(), logger, queue.Config{
				MaxParallelJobs:    cfg.Queue.MaxParallelJobs,
				MinFreeConnections: cfg.Queue.MinFreeConnections,
				DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
				AdvisoryNamespace:  queue.AdvisoryNamespace,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.Close()
		},
	}

	defaultConfigPath := os.Getenv("JOBQ_CTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(newEnqueueCmd(e))
	rootCmd.AddCommand(newCancelCmd(e))
	rootCmd.AddCommand(newKillCmd(e))
	rootCmd.AddCommand(newRequeueOrphansCmd(e))
	rootCmd.AddCommand(newPurgeCmd(e))
	rootCmd.AddCommand(newMetricsCmd(e))

	return rootCmd, e
}
