package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"redis-job-consumer/internal/app"
	"redis-job-consumer/internal/config"
	"redis-job-consumer/internal/job"
	"redis-job-consumer/internal/logging"
	"redis-job-consumer/internal/registry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consumer",
		Short: "Queue job consumer",
		Long:  "Pulls jobs from the backend queue, runs the handler registered for each job type and quarantines failures.",
	}
	rootCmd.AddCommand(newRunCmd(), newEnqueueCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start consuming jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if v, _ := cmd.Flags().GetInt("parallel"); v > 0 {
				cfg.Parallel = v
			}
			if v, _ := cmd.Flags().GetDuration("poll-interval"); v > 0 {
				cfg.PollInterval = v
			}
			if v, _ := cmd.Flags().GetString("backend"); v != "" {
				cfg.Backend = v
			}

			logger, err := logging.New(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := registry.New()
			registerHandlers(reg, logger)

			a, err := app.New(ctx, cfg, reg, logger)
			if err != nil {
				logger.Error("consumer setup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			logger.Info("consumer running", zap.String("backend", cfg.Backend), zap.Bool("admin", cfg.Admin != nil))
			return a.Run(ctx)
		},
	}
	cmd.Flags().Int("parallel", 0, "Maximum jobs processed at once (default from PARALLEL)")
	cmd.Flags().Duration("poll-interval", 0, "Interval between fetches (default from POLL_INTERVAL_MS)")
	cmd.Flags().String("backend", "", "Backend: redis|rabbitmq|memory (default from BACKEND)")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Post one job to the backend queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, _ := cmd.Flags().GetString("type")
			rawData, _ := cmd.Flags().GetString("data")

			data := map[string]any{}
			if rawData != "" {
				if err := json.Unmarshal([]byte(rawData), &data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}

			cfg := config.Load()
			if cfg.Backend == config.BackendMemory {
				return fmt.Errorf("enqueue needs a shared backend, not %q", cfg.Backend)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, closeFn, err := app.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			body, err := job.New(jobType, data).Encode()
			if err != nil {
				return err
			}
			id, err := client.Post(ctx, body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().String("type", "", "Job type")
	cmd.Flags().String("data", "", "Job data as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
