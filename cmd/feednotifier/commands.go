package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FeedNotifier/internal/app"
	"FeedNotifier/internal/config"
	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/logging"
)

var errOperationFailed = errors.New("operation failed")

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "feednotifier",
		Short:         "Match RSS posts against keyword filters and notify subscribers on Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (default $FEED_NOTIFIER_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newOperationCommand(opts, "ingest", "Run one ingestion and fan-out pass", (*app.Application).RunIngest))
	cmd.AddCommand(newOperationCommand(opts, "dispatch", "Send pending notifications once", (*app.Application).RunDispatch))
	cmd.AddCommand(newOperationCommand(opts, "status", "Print service identity and obligation counts", (*app.Application).Status))

	return cmd
}

func (o *rootOptions) load() (config.Config, *slog.Logger) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("FEED_NOTIFIER_CONFIG")
	}
	cfg := config.LoadFile(path)
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	// Logs go to stderr so command output on stdout stays machine readable.
	return cfg, logging.NewWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled ingestion and dispatch with the HTTP trigger surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger := opts.load()
			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			logger.Info("feednotifier started",
				"ingest_cron", cfg.Scheduler.IngestCron,
				"dispatch_cron", cfg.Scheduler.DispatchCron,
				"addr", cfg.HTTP.Addr,
			)
			return application.Serve(ctx)
		},
	}
}

func newOperationCommand(opts *rootOptions, use, short string, run func(*app.Application, context.Context) domain.RunResult) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := opts.load()
			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			res := run(application, cmd.Context())
			if err := printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s: %w", use, errOperationFailed)
			}
			return nil
		},
	}
}

func printResult(w io.Writer, res domain.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
