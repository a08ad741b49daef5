package mcpsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"loom-mcp/internal/jsonrpc"
)

// fakeTransport is a minimal transport.Transport implementation driven
// entirely by in-memory handler functions, with no real subprocess or
// network I/O.
type fakeTransport struct {
	mu       sync.Mutex
	nextID   int64
	handlers map[string]func(*jsonrpc.Request) (*jsonrpc.Response, error)
	notified []string
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(*jsonrpc.Request) (*jsonrpc.Response, error))}
}

func (f *fakeTransport) NextID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeTransport) Send(_ context.Context, req *jsonrpc.Request, _ bool) (*jsonrpc.Response, error) {
	h, ok := f.handlers[req.Method]
	if !ok {
		return nil, fmt.Errorf("fakeTransport: no handler for %s", req.Method)
	}
	return h(req)
}

func (f *fakeTransport) Notify(_ context.Context, n *jsonrpc.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, n.Method)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func okInitializeHandler(*jsonrpc.Request) (*jsonrpc.Response, error) {
	return &jsonrpc.Response{
		ID:     1,
		Result: json.RawMessage(`{"protocolVersion":"2025-03-26","serverInfo":{},"capabilities":{}}`),
	}, nil
}

func newInitializedSession(t *testing.T, ft *fakeTransport) *Session {
	t.Helper()
	ft.handlers["initialize"] = okInitializeHandler
	s, err := New(context.Background(), ft, Options{ClientName: "mcpctl", ClientVersion: "0.1.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewPerformsHandshake(t *testing.T) {
	ft := newFakeTransport()
	newInitializedSession(t, ft)
	if len(ft.notified) != 1 || ft.notified[0] != "notifications/initialized" {
		t.Fatalf("notified = %v, want one notifications/initialized", ft.notified)
	}
}

func TestNewFailsOnInitializeError(t *testing.T) {
	ft := newFakeTransport()
	ft.handlers["initialize"] = func(*jsonrpc.Request) (*jsonrpc.Response, error) {
		return &jsonrpc.Response{ID: 1, Error: &jsonrpc.Error{Code: -32600, Message: "nope"}}, nil
	}
	_, err := New(context.Background(), ft, Options{})
	if !errors.Is(err, ErrInitializeFailed) {
		t.Fatalf("err = %v, want ErrInitializeFailed", err)
	}
}

func TestToolsCachesUntilRefresh(t *testing.T) {
	ft := newFakeTransport()
	s := newInitializedSession(t, ft)

	calls := 0
	ft.handlers["tools/list"] = func(*jsonrpc.Request) (*jsonrpc.Response, error) {
		calls++
		return &jsonrpc.Response{
			ID:     2,
			Result: json.RawMessage(`{"tools":[{"name":"echo","description":"d","inputSchema":{"type":"object","properties":{"text":{"type":"string"}}}}]}`),
		}, nil
	}

	tools, err := s.Tools(context.Background(), false)
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", tools)
	}
	if _, err := s.Tools(context.Background(), false); err != nil {
		t.Fatalf("Tools (cached): %v", err)
	}
	if calls != 1 {
		t.Fatalf("tools/list called %d times, want 1 (cache hit)", calls)
	}

	if _, err := s.Tools(context.Background(), true); err != nil {
		t.Fatalf("Tools (refresh): %v", err)
	}
	if calls != 2 {
		t.Fatalf("tools/list called %d times, want 2 after refresh", calls)
	}
}

func TestExecuteToolJoinsTextContent(t *testing.T) {
	ft := newFakeTransport()
	s := newInitializedSession(t, ft)

	ft.handlers["tools/call"] = func(req *jsonrpc.Request) (*jsonrpc.Response, error) {
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if params.Name != "echo" {
			t.Fatalf("params.Name = %q, want echo", params.Name)
		}
		return &jsonrpc.Response{
			ID:     req.ID,
			Result: json.RawMessage(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`),
		}, nil
	}

	got, err := s.ExecuteTool(context.Background(), "echo", map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if got != "a\nb" {
		t.Fatalf("ExecuteTool = %q, want %q", got, "a\nb")
	}
}

func TestExecuteToolIgnoresNonTextContent(t *testing.T) {
	ft := newFakeTransport()
	s := newInitializedSession(t, ft)

	ft.handlers["tools/call"] = func(req *jsonrpc.Request) (*jsonrpc.Response, error) {
		return &jsonrpc.Response{
			ID: req.ID,
			Result: json.RawMessage(`{"content":[{"type":"image","text":""},{"type":"text","text":"ok"}],"isError":false}`),
		}, nil
	}
	got, err := s.ExecuteTool(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if got != "ok" {
		t.Fatalf("ExecuteTool = %q, want %q", got, "ok")
	}
}

func TestStrictPolicySurfacesToolError(t *testing.T) {
	ft := newFakeTransport()
	ft.handlers["initialize"] = okInitializeHandler
	s, err := New(context.Background(), ft, Options{Policy: StrictContentPolicy{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ft.handlers["tools/call"] = func(req *jsonrpc.Request) (*jsonrpc.Response, error) {
		return &jsonrpc.Response{
			ID:     req.ID,
			Result: json.RawMessage(`{"content":[{"type":"text","text":"boom"}],"isError":true}`),
		}, nil
	}
	_, err = s.ExecuteTool(context.Background(), "echo", nil)
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("err = %v, want ErrToolFailed", err)
	}
}

func TestCloseClosesTransport(t *testing.T) {
	ft := newFakeTransport()
	s := newInitializedSession(t, ft)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ft.closed {
		t.Fatal("underlying transport was not closed")
	}
}
