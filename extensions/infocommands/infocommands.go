// Package infocommands provides the bot's informational slash commands.
package infocommands

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"clutchbot/interactions"
)

const (
	FooterText = "Clutch Info 📑"

	colorPing = 0xFFC107
	colorInfo = 0x00BFA5
	colorHelp = 0x5865F2
)

// New returns the /ping, /info and /help interactions.
func New(log *zap.Logger, startedAt time.Time) []*interactions.Interaction {
	ping := &interactions.Interaction{
		ApplicationCommand: &discordgo.ApplicationCommand{
			Name:        "ping",
			Description: "Displays the bot's response time",
		},
		Handler: func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
			start := time.Now()
			if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			}); err != nil {
				return fmt.Errorf("defer ping: %w", err)
			}
			return editEmbed(s, i, pingEmbed(time.Since(start), s.HeartbeatLatency()))
		},
	}

	info := &interactions.Interaction{
		ApplicationCommand: &discordgo.ApplicationCommand{
			Name:        "info",
			Description: "Shows information about the bot",
		},
		Handler: func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
			snap := snapshot(s, startedAt)
			log.Debug("serving info", zap.String("bot", snap.Name), zap.Int("guilds", snap.Guilds))
			return respondEmbed(s, i, infoEmbed(snap))
		},
	}

	all := []*interactions.Interaction{ping, info}
	help := &interactions.Interaction{
		ApplicationCommand: &discordgo.ApplicationCommand{
			Name:        "help",
			Description: "Shows a list of commands",
		},
	}
	all = append(all, help)
	help.Handler = func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		return respondEmbed(s, i, helpEmbed(all))
	}

	return all
}

// Snapshot is what /info reports.
type Snapshot struct {
	Name      string
	Guilds    int
	StartedAt time.Time
}

func snapshot(s *discordgo.Session, startedAt time.Time) Snapshot {
	snap := Snapshot{Name: "unknown", StartedAt: startedAt}
	if s.State == nil {
		return snap
	}
	s.State.RLock()
	defer s.State.RUnlock()
	if s.State.User != nil {
		snap.Name = s.State.User.String()
	}
	snap.Guilds = len(s.State.Guilds)
	return snap
}

func pingEmbed(rtt, gateway time.Duration) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Pong!",
		Color: colorPing,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Response time", Value: fmt.Sprintf("%d ms", rtt.Milliseconds()), Inline: true},
			{Name: "Gateway latency", Value: fmt.Sprintf("%d ms", gateway.Milliseconds()), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: FooterText},
	}
}

func infoEmbed(snap Snapshot) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: snap.Name,
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Servers", Value: humanize.Comma(int64(snap.Guilds)), Inline: true},
			{Name: "Online since", Value: humanize.Time(snap.StartedAt), Inline: true},
			{Name: "Runtime", Value: runtime.Version(), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: FooterText},
	}
}

func helpEmbed(cmds []*interactions.Interaction) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(cmds))
	for _, c := range cmds {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "/" + c.Name,
			Value: c.Description,
		})
	}
	return &discordgo.MessageEmbed{
		Title:       "Help",
		Description: "Available commands",
		Color:       colorHelp,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: FooterText},
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

func editEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
	return err
}
