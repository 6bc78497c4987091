package main

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clutchbot/config"
)

// commandsClient is the part of *discordgo.Session the maintenance commands use.
type commandsClient interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

func newCommandsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Inspect or reset registered application commands",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [guildId]",
			Short: "List application commands, globally or for one guild",
			Args:  cobra.MaximumNArgs(1),
			RunE: withSession(func(s commandsClient, logger *zap.Logger, guildID string) error {
				_, err := listApplicationCommands(s, logger, guildID)
				return err
			}),
		},
		&cobra.Command{
			Use:   "reset [guildId]",
			Short: "Delete every application command, globally or for one guild",
			Args:  cobra.MaximumNArgs(1),
			RunE: withSession(func(s commandsClient, logger *zap.Logger, guildID string) error {
				_, err := resetApplicationCommands(s, logger, guildID)
				return err
			}),
		},
	)
	return cmd
}

func withSession(run func(commandsClient, *zap.Logger, string) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.Token == "" {
			return &config.ConfigError{Field: "TOKEN", Message: "missing TOKEN in environment"}
		}
		session, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return fmt.Errorf("failed to instantiate discord session: %w", err)
		}

		guildID := "" // global by default
		if len(args) == 1 {
			guildID = args[0]
		}
		if err := run(session, logger, guildID); err != nil {
			logger.Error("command failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func applicationID(s commandsClient) (string, error) {
	me, err := s.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to resolve application: %w", err)
	}
	return me.ID, nil
}

func listApplicationCommands(s commandsClient, logger *zap.Logger, guildID string) ([]*discordgo.ApplicationCommand, error) {
	appID, err := applicationID(s)
	if err != nil {
		return nil, err
	}
	return fetchApplicationCommands(s, logger, appID, guildID)
}

func fetchApplicationCommands(
	s commandsClient,
	logger *zap.Logger,
	appID string,
	guildID string,
) ([]*discordgo.ApplicationCommand, error) {
	logger.Info("listing application commands", zap.String("guild", guildID))

	appCommands, err := s.ApplicationCommands(appID, guildID)
	if err != nil {
		return nil, err
	}
	logger.Info("found commands", zap.Int("count", len(appCommands)))

	for _, appCmd := range appCommands {
		logger.Info("application command",
			zap.String("name", appCmd.Name),
			zap.String("id", appCmd.ID),
		)
	}
	return appCommands, nil
}

func resetApplicationCommands(s commandsClient, logger *zap.Logger, guildID string) (int, error) {
	appID, err := applicationID(s)
	if err != nil {
		return 0, err
	}
	appCommands, err := fetchApplicationCommands(s, logger, appID, guildID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, appCmd := range appCommands {
		logger.Info("deleting application command", zap.String("name", appCmd.Name))
		if err := s.ApplicationCommandDelete(appID, guildID, appCmd.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
