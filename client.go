// Package mcpclient is the public surface an LLM orchestration layer
// consumes: construct a client for one MCP server, list its tools, call a
// tool by name, close. Everything underneath (transports, the JSON-RPC
// session, the tool model) lives in internal packages.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom-mcp/internal/config"
	"loom-mcp/internal/mcpsession"
	"loom-mcp/internal/toolmodel"
	"loom-mcp/internal/transport"
)

// DefaultRequestTimeout bounds each client-level call (Tools, ExecuteTool)
// unless the server entry or Options override it. The transport keeps its
// own longer read-wait bound underneath.
const DefaultRequestTimeout = 8 * time.Second

// Version identifies this client in the initialize handshake's clientInfo.
const Version = "0.1.0"

// Error kinds surfaced to the orchestration layer. Transport- and
// session-level sentinels are re-exported so callers match with errors.Is
// against this package alone.
var (
	ErrInvalidTransport     = errors.New("mcpclient: invalid transport")
	ErrInitializationFailed = mcpsession.ErrInitializeFailed
	ErrTransportBroken      = transport.ErrBroken
	ErrTimeout              = transport.ErrTimeout
	ErrProtocol             = mcpsession.ErrProtocol
	ErrTool                 = mcpsession.ErrToolFailed
)

// Options tunes a Client beyond what its server config entry carries.
type Options struct {
	// RequestTimeout bounds each Tools/ExecuteTool call. Zero falls back
	// to the server entry's request_timeout_seconds, then to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
	// Policy decides how tools/call content becomes the returned string;
	// nil uses the join-text default.
	Policy mcpsession.ContentPolicy
	Logger *slog.Logger
}

// Client owns one transport and the session on top of it.
type Client struct {
	name           string
	session        *mcpsession.Session
	requestTimeout time.Duration
}

// New constructs the transport described by cfg, performs the MCP
// initialization handshake, and returns a ready Client. name is reported to
// the server as clientInfo.name and used in log lines.
func New(ctx context.Context, name string, cfg config.ServerConfig, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransport, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tr, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 && cfg.RequestTimeoutSec > 0 {
		timeout = time.Duration(cfg.RequestTimeoutSec) * time.Second
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	session, err := mcpsession.New(initCtx, tr, mcpsession.Options{
		ClientName:    name,
		ClientVersion: Version,
		Policy:        opts.Policy,
		Logger:        logger,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return &Client{name: name, session: session, requestTimeout: timeout}, nil
}

func newTransport(cfg config.ServerConfig, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Kind() {
	case config.TransportStdio:
		return transport.NewStdioTransport(transport.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Logger:  logger,
		})
	case config.TransportSSE:
		return transport.NewSSETransport(transport.SSEConfig{
			URL:             cfg.URL,
			Headers:         cfg.Headers,
			ReverseProxyURL: cfg.ReverseProxyURL,
			Logger:          logger,
		})
	case config.TransportDocker:
		return transport.NewDockerStdioTransport(transport.DockerStdioConfig{
			ContainerID: cfg.ContainerID,
			Command:     append([]string{cfg.Command}, cfg.Args...),
			Env:         cfg.Env,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransport, cfg.Transport)
	}
}

// Name returns the client name passed to New.
func (c *Client) Name() string {
	return c.name
}

// Tools returns the server's tool descriptors, cached after the first call.
// Pass refresh to force a new tools/list round trip.
func (c *Client) Tools(ctx context.Context, refresh bool) ([]*toolmodel.Tool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.session.Tools(callCtx, refresh)
}

// ExecuteTool invokes name with arguments and returns the joined text
// content of the result.
func (c *Client) ExecuteTool(ctx context.Context, name string, arguments any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.session.ExecuteTool(callCtx, name, arguments)
}

// Close tears down the session and its transport. Safe to call more than
// once.
func (c *Client) Close() error {
	return c.session.Close()
}
