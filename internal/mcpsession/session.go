// Package mcpsession layers the JSON-RPC session state machine over a
// transport.Transport: the initialize handshake, request dispatch, tool
// discovery with caching, and tool invocation.
package mcpsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"loom-mcp/internal/jsonrpc"
	"loom-mcp/internal/protocol"
	"loom-mcp/internal/toolmodel"
	"loom-mcp/internal/transport"
)

// Options configures a Session.
type Options struct {
	// ClientName/ClientVersion populate the initialize request's clientInfo.
	ClientName    string
	ClientVersion string
	// Policy decides how tools/call results become strings. Defaults to
	// DefaultContentPolicy if nil.
	Policy ContentPolicy
	Logger *slog.Logger
}

// Session owns exactly one transport and the state built on top of it:
// the cached tool list and the content policy used by ExecuteTool.
type Session struct {
	transport transport.Transport
	logger    *slog.Logger
	policy    ContentPolicy
	name      string
	version   string

	toolsMu     sync.Mutex
	tools       []*toolmodel.Tool
	toolsLoaded bool
}

// New performs the initialization handshake over tr (an initialize
// request followed by a notifications/initialized notification) and
// returns a ready Session. The constructor fails if either step fails or
// times out (the timeout is enforced by tr.Send).
func New(ctx context.Context, tr transport.Transport, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == nil {
		policy = DefaultContentPolicy{}
	}
	s := &Session{
		transport: tr,
		logger:    logger,
		policy:    policy,
		name:      opts.ClientName,
		version:   opts.ClientVersion,
	}

	initReq, err := protocol.BuildInitialize(tr.NextID(), s.name, s.version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	resp, err := tr.Send(ctx, initReq, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	if _, err := protocol.ParseInitialize(resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	notif, err := protocol.BuildInitialized()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	if err := tr.Notify(ctx, notif); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	logger.Info("mcpsession: initialized", "client", s.name, "version", s.version)
	return s, nil
}

// Request is a pass-through to the transport with the jsonrpc envelope and
// ID already populated, exposed for protocol operations beyond the four
// this package calls directly.
func (s *Session) Request(ctx context.Context, method string, params any, waitForResponse bool) (*jsonrpc.Response, error) {
	req, err := jsonrpc.NewRequest(s.transport.NextID(), method, params)
	if err != nil {
		return nil, err
	}
	return s.transport.Send(ctx, req, waitForResponse)
}

// Tools returns the cached tool descriptor list, sending tools/list and
// rebuilding the cache on the first call or when refresh is true. The
// cache is replaced atomically: a failed refresh never clobbers a prior
// successful one.
func (s *Session) Tools(ctx context.Context, refresh bool) ([]*toolmodel.Tool, error) {
	s.toolsMu.Lock()
	if s.toolsLoaded && !refresh {
		cached := append([]*toolmodel.Tool(nil), s.tools...)
		s.toolsMu.Unlock()
		return cached, nil
	}
	s.toolsMu.Unlock()

	req, err := protocol.BuildToolsList(s.transport.NextID())
	if err != nil {
		return nil, err
	}
	resp, err := s.transport.Send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	listResult, err := protocol.ParseToolsList(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	tools := make([]*toolmodel.Tool, 0, len(listResult.Tools))
	for _, td := range listResult.Tools {
		tool, err := toolmodel.BuildTool(td)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		tools = append(tools, tool)
	}

	s.toolsMu.Lock()
	s.tools = tools
	s.toolsLoaded = true
	cached := append([]*toolmodel.Tool(nil), s.tools...)
	s.toolsMu.Unlock()
	return cached, nil
}

// ExecuteTool sends tools/call and joins the result's content through the
// session's ContentPolicy.
func (s *Session) ExecuteTool(ctx context.Context, name string, arguments any) (string, error) {
	req, err := protocol.BuildToolsCall(s.transport.NextID(), name, arguments)
	if err != nil {
		return "", err
	}
	resp, err := s.transport.Send(ctx, req, true)
	if err != nil {
		return "", err
	}
	result, err := protocol.ParseToolsCall(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return s.policy.JoinText(result.Content, result.IsError)
}

// Close tears down the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}
