package bot

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrAuthentication means discord rejected the bot token.
var ErrAuthentication = errors.New("discord rejected the bot token")

// Gateway close codes discord documents as not worth reconnecting after.
const (
	closeAuthenticationFailed = 4004
	closeInvalidShard         = 4010
	closeShardingRequired     = 4011
	closeInvalidAPIVersion    = 4012
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

// Gateway is the part of *discordgo.Session the bot drives.
type Gateway interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

// GatewayFactory builds an unconnected gateway for a token. It must not touch the network.
type GatewayFactory func(token string) (Gateway, error)

// NewDiscordGateway is the production GatewayFactory.
func NewDiscordGateway(token string) (Gateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent
	// the bot runs its own reconnect loop so unrecoverable close codes end the process
	s.ShouldReconnectOnError = false
	return s, nil
}

// GatewayError is a fatal failure talking to discord. It triggers a full shutdown.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func gatewayError(op string, err error) error {
	if isAuthFailure(err) {
		err = fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return &GatewayError{Op: op, Err: err}
}

func isAuthFailure(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusUnauthorized {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == closeAuthenticationFailed
}

// isFatal reports whether reconnecting after err cannot succeed.
func isFatal(err error) bool {
	if isAuthFailure(err) {
		return true
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case closeInvalidShard, closeShardingRequired, closeInvalidAPIVersion,
		closeInvalidIntents, closeDisallowedIntents:
		return true
	}
	return false
}

// newHTTPClient returns the outbound client owned by one bot session and its transport,
// which the owner closes on shutdown.
func newHTTPClient() (*http.Client, *http.Transport) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	client := &http.Client{
		Timeout:   20 * time.Second,
		Transport: otelhttp.NewTransport(transport),
	}
	return client, transport
}

// attachHTTPClient routes the session's REST calls through c when the gateway is a discordgo session.
func attachHTTPClient(gw Gateway, c *http.Client) {
	if s, ok := gw.(*discordgo.Session); ok {
		s.Client = c
	}
}
