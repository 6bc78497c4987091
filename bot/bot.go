// Package bot owns the discord session and drives it through its lifecycle:
// Created -> Connecting -> Ready -> ShuttingDown -> Closed.
package bot

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"clutchbot/config"
	"clutchbot/extensions"
	"clutchbot/interactions"
	"clutchbot/presence"
	"clutchbot/tracer"
)

// NamePlaceholder is reported as the display name until the first READY.
const NamePlaceholder = "Loading..."

const (
	DefaultReconnectDelay = time.Second
	maxReconnectDelay     = 2 * time.Minute
)

var (
	ErrAlreadyStarted = errors.New("bot already started")
	// ErrClosed is returned by Connect when Shutdown ran before the connection was opened.
	ErrClosed = errors.New("bot is shut down")
)

type Options struct {
	Token   string
	GuildID string

	// Extensions are loaded by name from Registry (extensions.Builtin when empty).
	Extensions []string
	Registry   []extensions.Extension

	Presence         presence.State
	PresenceInterval time.Duration

	// ReconnectDelay is the first wait after a dropped connection; it doubles per failed attempt.
	ReconnectDelay time.Duration
}

// Bot represents the Discord bot
type Bot struct {
	log        *zap.Logger
	opts       Options
	newGateway GatewayFactory
	router     *interactions.Router
	startedAt  time.Time

	name      atomic.Pointer[string]
	ready     chan struct{}
	readyOnce sync.Once

	disconnects  chan struct{}
	fatal        chan error
	stop         chan struct{}
	reconnecting atomic.Bool

	// connMu serializes gateway Open against Close.
	connMu sync.Mutex

	mu        sync.Mutex
	state     State
	gateway   Gateway
	client    *http.Client
	transport *http.Transport
	presence  *presence.Updater
	handlers  []func()
}

// New creates a new bot instance. Nothing touches the network until Connect.
func New(log *zap.Logger, opts Options, newGateway GatewayFactory) *Bot {
	if newGateway == nil {
		newGateway = NewDiscordGateway
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Bot{
		log:         log,
		opts:        opts,
		newGateway:  newGateway,
		router:      interactions.NewRouter(log.Named("interactions")),
		startedAt:   time.Now(),
		ready:       make(chan struct{}),
		disconnects: make(chan struct{}, 1),
		fatal:       make(chan error, 1),
		stop:        make(chan struct{}),
	}
}

// Connect runs the one-time setup and opens the gateway connection.
// Setup (HTTP client, extensions, command sync, presence timer) always completes
// before the connection is opened, so before the first presence update.
func (b *Bot) Connect(ctx context.Context, token string) error {
	if token == "" {
		return &config.ConfigError{Field: "TOKEN", Message: "missing TOKEN in environment"}
	}
	if err := b.transition(StateCreated, StateConnecting); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "bot.connect")
	defer span.End()

	gw, err := b.newGateway(token)
	if err != nil {
		return &GatewayError{Op: "create session", Err: err}
	}
	if err := b.openHTTPClient(gw); err != nil {
		return err
	}

	if err := b.setup(ctx, gw); err != nil {
		span.RecordError(err)
		return err
	}

	handlers := []func(){
		gw.AddHandler(b.onReady),
		gw.AddHandler(b.onDisconnect),
		gw.AddHandler(b.router.Handle),
	}
	if err := b.whileConnecting(func() { b.handlers = append(b.handlers, handlers...) }); err != nil {
		for _, remove := range handlers {
			remove()
		}
		return err
	}

	b.log.Info("connecting to discord")
	if err := b.openGateway(StateConnecting); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrClosed) {
			return err
		}
		return gatewayError("open", err)
	}
	go b.watchConnection()
	return nil
}

func (b *Bot) openHTTPClient(gw Gateway) error {
	client, transport := newHTTPClient()
	attachHTTPClient(gw, client)

	err := b.whileConnecting(func() {
		b.gateway = gw
		b.client = client
		b.transport = transport
	})
	if err != nil {
		transport.CloseIdleConnections()
		return err
	}

	b.log.Debug("http client opened")
	return nil
}

// whileConnecting runs fn under the lock unless Shutdown has started.
func (b *Bot) whileConnecting(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnecting {
		return ErrClosed
	}
	fn()
	return nil
}

// openGateway opens the connection if the bot is still in the wanted state.
func (b *Bot) openGateway(want State) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	b.mu.Lock()
	state, gw := b.state, b.gateway
	b.mu.Unlock()
	if state != want || gw == nil {
		return ErrClosed
	}
	return gw.Open()
}

func (b *Bot) setup(ctx context.Context, gw Gateway) error {
	_, span := tracer.Start(ctx, "bot.setup")
	defer span.End()

	me, err := gw.User("@me")
	if err != nil {
		return gatewayError("resolve application", err)
	}

	loader := extensions.NewLoader(
		b.log.Named("extensions"),
		b.router,
		extensions.Deps{StartedAt: b.startedAt},
		b.opts.Registry...,
	)
	loaded := loader.LoadAll(b.opts.Extensions)
	b.log.Info("extensions loaded",
		zap.Int("loaded", loaded),
		zap.Int("requested", len(b.opts.Extensions)),
	)

	if err := b.router.Sync(gw, me.ID, b.opts.GuildID); err != nil {
		return gatewayError("sync commands", err)
	}

	state := b.opts.Presence
	if state.Activity == "" {
		state = presence.DefaultState
	}
	p := presence.New(b.log.Named("presence"), gw, state, b.opts.PresenceInterval)
	if err := p.Start(); err != nil {
		return err
	}
	if err := b.whileConnecting(func() { b.presence = p }); err != nil {
		_ = p.Stop()
		return err
	}
	return nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		name := r.User.String()
		b.name.CompareAndSwap(nil, &name)
	}
	b.log.Info("logged in", zap.String("name", b.DisplayName()))
	b.log.Info("serving guilds", zap.Int("count", len(r.Guilds)))

	b.mu.Lock()
	if b.state != StateConnecting && b.state != StateReady {
		b.mu.Unlock()
		return
	}
	b.state = StateReady
	p := b.presence
	b.mu.Unlock()

	if p != nil {
		if err := p.Apply(context.Background()); err != nil {
			b.log.Warn("status update failed", zap.Error(err))
		}
	}
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	if b.State() != StateReady {
		return
	}
	select {
	case b.disconnects <- struct{}{}:
	default:
	}
}

// watchConnection runs one reconnect at a time until Shutdown. A drop seen
// while reconnecting is queued and handled after the current attempt ends.
func (b *Bot) watchConnection() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.disconnects:
			b.log.Warn("gateway disconnected, reconnecting")
			if !b.reconnect() {
				return
			}
		}
	}
}

// reconnect retries Open with exponential backoff until it succeeds, the bot
// shuts down, or discord answers with an error no retry can fix. It reports
// whether the connection is usable again.
func (b *Bot) reconnect() bool {
	b.reconnecting.Store(true)
	defer b.reconnecting.Store(false)

	wait := b.opts.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-b.stop:
			return false
		case <-time.After(wait):
		}

		err := b.openGateway(StateReady)
		switch {
		case err == nil, errors.Is(err, discordgo.ErrWSAlreadyOpen):
			b.log.Info("gateway reconnected", zap.Int("attempt", attempt))
			return true
		case errors.Is(err, ErrClosed):
			return false
		case isFatal(err):
			gwErr := gatewayError("reconnect", err)
			b.log.Error("gateway connection lost", zap.Error(gwErr))
			select {
			case b.fatal <- gwErr:
			default:
			}
			return false
		}

		wait = min(wait*2, maxReconnectDelay)
		b.log.Warn("reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}
}

// Shutdown closes the HTTP client and then the gateway. It is safe to call
// repeatedly, concurrently, before Connect, or after a failed Connect.
func (b *Bot) Shutdown() error {
	b.mu.Lock()
	if b.state == StateShuttingDown || b.state == StateClosed {
		b.mu.Unlock()
		return nil
	}
	b.state = StateShuttingDown
	gw, p, transport, handlers := b.gateway, b.presence, b.transport, b.handlers
	b.client, b.transport, b.handlers = nil, nil, nil
	b.mu.Unlock()
	close(b.stop)

	b.log.Info("shutting down")

	var err error
	if p != nil {
		err = multierr.Append(err, p.Stop())
	}
	if transport != nil {
		transport.CloseIdleConnections()
		b.log.Debug("http client closed")
	}
	for _, remove := range handlers {
		remove()
	}
	if gw != nil {
		b.connMu.Lock()
		closeErr := gw.Close()
		b.connMu.Unlock()
		if closeErr != nil {
			err = multierr.Append(err, &GatewayError{Op: "close", Err: closeErr})
		}
	}

	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()

	if err != nil {
		b.log.Error("error during shutdown", zap.Error(err))
		return err
	}
	b.log.Info("bot shutdown complete")
	return nil
}

// Run connects, then waits for ctx to be cancelled or for the gateway connection
// to be lost for good, and shuts down. Connect failures and lost connections
// are returned as errors.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Connect(ctx, b.opts.Token); err != nil {
		b.log.Error("failed to start bot", zap.Error(err))
		if shutdownErr := b.Shutdown(); shutdownErr != nil {
			return multierr.Append(err, shutdownErr)
		}
		return err
	}

	b.log.Info("bot is now running")
	select {
	case <-ctx.Done():
		b.log.Info("received shutdown signal, gracefully shutting down")
		return b.Shutdown()
	case err := <-b.fatal:
		if shutdownErr := b.Shutdown(); shutdownErr != nil {
			return multierr.Append(err, shutdownErr)
		}
		return err
	}
}

func (b *Bot) transition(from, to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != from {
		return ErrAlreadyStarted
	}
	b.state = to
	return nil
}

func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// DisplayName is the resolved bot name, or NamePlaceholder before the first READY.
func (b *Bot) DisplayName() string {
	if name := b.name.Load(); name != nil {
		return *name
	}
	return NamePlaceholder
}

// Ready is closed after the first READY has been handled.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

// HTTPClient is the session-owned outbound client, nil outside Connecting/Ready.
func (b *Bot) HTTPClient() *http.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}
