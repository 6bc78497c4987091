package interactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"clutchbot/tracer"
)

var ErrDuplicateCommand = errors.New("command already registered")

type Handler = func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error

type Interaction struct {
	*discordgo.ApplicationCommand
	Handler Handler
}

// CommandSyncer is the part of the discord session used to publish commands.
type CommandSyncer interface {
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

type Router struct {
	routes map[string]*Interaction
	order  []string
	log    *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		routes: map[string]*Interaction{},
		log:    log,
	}
}

// Register adds interactions to the router. Nothing is sent to discord until Sync.
func (r *Router) Register(interactions ...*Interaction) error {
	for _, i := range interactions {
		if _, ok := r.routes[i.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, i.Name)
		}
	}
	for _, i := range interactions {
		r.log.Debug("registering command", zap.String("name", i.Name))
		r.routes[i.Name] = i
		r.order = append(r.order, i.Name)
	}
	return nil
}

// Commands returns registered commands in registration order.
func (r *Router) Commands() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.order))
	for _, name := range r.order {
		cmds = append(cmds, r.routes[name].ApplicationCommand)
	}
	return cmds
}

// Sync overwrites the application's commands with the registered set.
// An empty guildID publishes global commands.
func (r *Router) Sync(s CommandSyncer, appID, guildID string) error {
	scope := "global"
	if guildID != "" {
		scope = "guild"
	}
	cmds := r.Commands()
	r.log.Info("syncing commands with discord",
		zap.String("scope", scope),
		zap.String("guild", guildID),
		zap.Int("count", len(cmds)),
	)

	synced, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	if err != nil {
		return fmt.Errorf("sync %s commands: %w", scope, err)
	}
	for _, c := range synced {
		r.log.Debug("synced command", zap.String("name", c.Name), zap.String("id", c.ID))
	}
	return nil
}

func (r *Router) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	r.log.Info("received interaction", zap.String("name", name))

	err := r.Dispatch(context.Background(), s, i)
	if errors.Is(err, errNoRoute) {
		r.log.Warn("no command handler registered", zap.String("name", name))
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "We couldn't handle that command.",
			},
		})
		return
	}
	if err != nil {
		r.log.Error("error handling interaction", zap.String("name", name), zap.Error(err))
	}
}

var errNoRoute = errors.New("no route")

// Dispatch runs the handler registered for the interaction's command.
func (r *Router) Dispatch(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	name := i.ApplicationCommandData().Name
	route, ok := r.routes[name]
	if !ok {
		return errNoRoute
	}

	ctx, span := tracer.Start(ctx, "interactions.dispatch",
		trace.WithAttributes(attribute.String("command", name)),
	)
	defer span.End()

	if err := route.Handler(ctx, s, i); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
