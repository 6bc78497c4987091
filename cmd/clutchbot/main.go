package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"clutchbot/app"
	"clutchbot/bot"
	"clutchbot/config"
	"clutchbot/tracer"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "clutchbot",
		Short:        "Run the Clutch Info discord bot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.JaegerEndpoint != "" {
				shutdown, err := setupTracing(cfg)
				if err != nil {
					logger.Error("failed to set up tracing", zap.Error(err))
					return err
				}
				defer shutdown(logger)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := &app.Runner{
				Log:        logger,
				NewGateway: bot.NewDiscordGateway,
			}
			return runner.Run(ctx, cfg)
		},
	}

	root.AddCommand(newCommandsCommand())
	return root
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func setupTracing(cfg *config.Config) (func(*zap.Logger), error) {
	tp, err := tracer.NewProvider(cfg.JaegerEndpoint, cfg.Environment)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	return func(log *zap.Logger) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}, nil
}
