package mcpsession

import "errors"

// ErrInitializeFailed wraps any failure of the initialize/initialized
// handshake performed by New.
var ErrInitializeFailed = errors.New("mcpsession: initialization failed")

// ErrProtocol wraps a malformed or unparseable response at the protocol
// layer, or a JSON-RPC error envelope returned by the server.
var ErrProtocol = errors.New("mcpsession: protocol error")

// ErrToolFailed is surfaced by StrictContentPolicy when a tools/call result
// carries isError: true, opted into only by a host that picks
// StrictContentPolicy over the default.
var ErrToolFailed = errors.New("mcpsession: tool call reported an error")
