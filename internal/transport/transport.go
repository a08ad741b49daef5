// Package transport implements the byte-level framing and bidirectional
// messaging contract for a single MCP server instance, over either a
// subprocess's standard streams or a remote SSE+POST endpoint.
package transport

import (
	"context"
	"errors"
	"time"

	"loom-mcp/internal/jsonrpc"
)

// RequestTimeout is the transport-level bound on a blocking Send: if no
// matching response arrives within this window the caller receives
// ErrTimeout and its pending slot is reclaimed.
const RequestTimeout = 30 * time.Second

// Sentinel errors a Transport reports. The session and client layers match
// against these with errors.Is/errors.As to build the public error taxonomy.
var (
	// ErrClosed is returned by Send/Notify once Close has been called.
	ErrClosed = errors.New("transport: closed")
	// ErrTimeout is returned when a blocking Send's response does not
	// arrive within RequestTimeout.
	ErrTimeout = errors.New("transport: request timed out")
	// ErrBroken is returned when the underlying channel (subprocess pipe,
	// SSE stream) failed and could not be recovered.
	ErrBroken = errors.New("transport: connection broken")
)

// Transport is the narrow, static interface the session layer depends on.
// StdioTransport, SSETransport and DockerStdioTransport implement it; the session holds it
// only by interface and never branches on concrete type.
type Transport interface {
	// Send transmits req. If waitForResponse is false, it returns as soon
	// as the frame has been handed to the write path. If true, it blocks
	// until a response matching req.ID is delivered, RequestTimeout
	// elapses (ErrTimeout), or the transport fails (ErrBroken/ErrClosed).
	Send(ctx context.Context, req *jsonrpc.Request, waitForResponse bool) (*jsonrpc.Response, error)

	// Notify transmits a frame with no id; no response is awaited.
	Notify(ctx context.Context, n *jsonrpc.Notification) error

	// NextID returns the next monotonically increasing request ID.
	NextID() int64

	// Close idempotently tears down background goroutines and the
	// underlying connection. Safe to call more than once and from any
	// goroutine.
	Close() error
}
