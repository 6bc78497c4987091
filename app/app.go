// Package app wires configuration, the bot and the health-check server together
// and picks the run path for the environment.
package app

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clutchbot/bot"
	"clutchbot/config"
	"clutchbot/healthcheck"
	"clutchbot/presence"
)

// HealthServer is the health-check listener started after the bot is ready.
type HealthServer interface {
	ListenAndServe(ctx context.Context) error
}

type HealthFactory func(log *zap.Logger, cfg healthcheck.Config, names healthcheck.NameSource) HealthServer

func newHealthServer(log *zap.Logger, cfg healthcheck.Config, names healthcheck.NameSource) HealthServer {
	return healthcheck.New(log, cfg, names)
}

// Runner runs one bot process.
type Runner struct {
	Log        *zap.Logger
	NewGateway bot.GatewayFactory
	NewHealth  HealthFactory
}

// Run validates cfg before anything is created, then blocks until ctx is cancelled
// or a fatal error occurs. Hosted deployments also serve the health check.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		r.Log.Error("configuration error", zap.Error(err))
		return err
	}

	b := bot.New(r.Log.Named("bot"), BotOptions(cfg), r.NewGateway)

	if !cfg.Hosted {
		r.Log.Info("running in local mode, health server disabled")
		return b.Run(ctx)
	}

	newHealth := r.NewHealth
	if newHealth == nil {
		newHealth = newHealthServer
	}
	healthCfg := HealthConfig(cfg)
	health := newHealth(r.Log.Named("healthcheck"), healthCfg, b)
	r.Log.Info("running in hosted mode", zap.String("health_addr", healthCfg.Addr()))
	return runHosted(ctx, r.Log, b, health)
}

func runHosted(ctx context.Context, log *zap.Logger, b *bot.Bot, health HealthServer) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case <-b.Ready():
		case <-gCtx.Done():
			return nil
		}
		log.Info("health server started")
		return health.ListenAndServe(gCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// HealthConfig maps configuration onto the health-check listener settings.
func HealthConfig(cfg *config.Config) healthcheck.Config {
	return healthcheck.Config{Host: cfg.HealthHost, Port: cfg.Port}
}

// BotOptions maps configuration onto bot options.
func BotOptions(cfg *config.Config) bot.Options {
	return bot.Options{
		Token:      cfg.Token,
		GuildID:    cfg.GuildID,
		Extensions: cfg.Extensions,
		Presence: presence.State{
			Status:   discordgo.Status(cfg.PresenceStatus),
			Activity: cfg.PresenceActivity,
			Type:     discordgo.ActivityTypeGame,
		},
		PresenceInterval: cfg.PresenceInterval,
	}
}
