package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"clutchbot/bot"
	"clutchbot/config"
	"clutchbot/healthcheck"
)

type fakeGateway struct {
	mu       sync.Mutex
	handlers []interface{}
	opened   chan struct{}
	closed   atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{opened: make(chan struct{})}
}

func (f *fakeGateway) AddHandler(handler interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {}
}

func (f *fakeGateway) Open() error {
	f.mu.Lock()
	handlers := append([]interface{}(nil), f.handlers...)
	f.mu.Unlock()

	ready := &discordgo.Ready{User: &discordgo.User{ID: "42", Username: "clutch", Discriminator: "0"}}
	for _, h := range handlers {
		if onReady, ok := h.(func(*discordgo.Session, *discordgo.Ready)); ok {
			onReady(nil, ready)
		}
	}
	close(f.opened)
	return nil
}

func (f *fakeGateway) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeGateway) User(string, ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: "42", Username: "clutch", Discriminator: "0"}, nil
}

func (f *fakeGateway) UpdateStatusComplex(discordgo.UpdateStatusData) error { return nil }

func (f *fakeGateway) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func testConfig(hosted bool) *config.Config {
	return &config.Config{
		Token:            "abc",
		Extensions:       []string{config.DefaultExtension},
		HealthHost:       "127.0.0.1",
		Port:             8080,
		PresenceInterval: time.Hour,
		PresenceStatus:   config.DefaultPresenceStatus,
		PresenceActivity: config.DefaultPresenceActivity,
		LogLevel:         "info",
		LogFormat:        "console",
		Hosted:           hosted,
	}
}

func TestRunMissingTokenCreatesNothing(t *testing.T) {
	gatewayCalls, healthCalls := 0, 0
	r := &Runner{
		Log: zaptest.NewLogger(t),
		NewGateway: func(string) (bot.Gateway, error) {
			gatewayCalls++
			return newFakeGateway(), nil
		},
		NewHealth: func(*zap.Logger, healthcheck.Config, healthcheck.NameSource) HealthServer {
			healthCalls++
			return nil
		},
	}

	cfg := testConfig(true)
	cfg.Token = ""
	err := r.Run(context.Background(), cfg)

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, gatewayCalls)
	assert.Zero(t, healthCalls)
}

func TestRunLocalModeHasNoHealthServer(t *testing.T) {
	gw := newFakeGateway()
	healthCalls := 0
	r := &Runner{
		Log:        zaptest.NewLogger(t),
		NewGateway: func(string) (bot.Gateway, error) { return gw, nil },
		NewHealth: func(*zap.Logger, healthcheck.Config, healthcheck.NameSource) HealthServer {
			healthCalls++
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, testConfig(false)) }()

	select {
	case <-gw.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never opened")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, healthCalls)
	assert.EqualValues(t, 1, gw.closed.Load())
}

func TestRunHostedServesDisplayName(t *testing.T) {
	gw := newFakeGateway()
	servers := make(chan *healthcheck.Server, 1)
	r := &Runner{
		Log:        zaptest.NewLogger(t),
		NewGateway: func(string) (bot.Gateway, error) { return gw, nil },
		NewHealth: func(log *zap.Logger, cfg healthcheck.Config, names healthcheck.NameSource) HealthServer {
			cfg.Port = 0
			srv := healthcheck.New(log, cfg, names)
			servers <- srv
			return srv
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, testConfig(true)) }()

	srv := <-servers
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "clutch")

	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, gw.closed.Load())
}

type failingHealth struct{}

func (failingHealth) ListenAndServe(context.Context) error {
	return errors.New("address already in use")
}

func TestRunHostedHealthFailureStopsBot(t *testing.T) {
	gw := newFakeGateway()
	r := &Runner{
		Log:        zaptest.NewLogger(t),
		NewGateway: func(string) (bot.Gateway, error) { return gw, nil },
		NewHealth: func(*zap.Logger, healthcheck.Config, healthcheck.NameSource) HealthServer {
			return failingHealth{}
		},
	}

	err := r.Run(context.Background(), testConfig(true))
	assert.EqualError(t, err, "address already in use")
	assert.EqualValues(t, 1, gw.closed.Load())
}

func TestHealthConfig(t *testing.T) {
	cfg := testConfig(true)
	assert.Equal(t, "127.0.0.1:8080", HealthConfig(cfg).Addr())

	cfg.HealthHost = "::"
	assert.Equal(t, "[::]:8080", HealthConfig(cfg).Addr())
}

func TestBotOptions(t *testing.T) {
	cfg := testConfig(false)
	cfg.GuildID = "123"

	opts := BotOptions(cfg)
	assert.Equal(t, "abc", opts.Token)
	assert.Equal(t, "123", opts.GuildID)
	assert.Equal(t, discordgo.StatusDoNotDisturb, opts.Presence.Status)
	assert.Equal(t, config.DefaultPresenceActivity, opts.Presence.Activity)
	assert.Equal(t, time.Hour, opts.PresenceInterval)
}
