// Package protocol implements the typed MCP request builders and response
// parsers layered directly on top of internal/jsonrpc: initialize,
// notifications/initialized, tools/list, and tools/call.
package protocol

import (
	"encoding/json"
	"fmt"

	"loom-mcp/internal/jsonrpc"
)

// ProtocolVersion is the MCP protocol version string this client negotiates.
const ProtocolVersion = "2025-03-26"

// ClientInfo identifies this client to the server during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what this client supports. Only tool discovery
// with change notifications is advertised; prompts/resources/sampling are
// not implemented.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability signals interest in tools/list and its change notifications.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
}

// InitializeResult is the parsed result of a successful initialize response.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      json.RawMessage `json:"serverInfo"`
	Capabilities    json.RawMessage `json:"capabilities"`
}

// BuildInitialize constructs the initialize request frame.
func BuildInitialize(id int64, clientName, clientVersion string) (*jsonrpc.Request, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: true}},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	}
	return jsonrpc.NewRequest(id, "initialize", params)
}

// ParseInitialize decodes an initialize response's result.
func ParseInitialize(resp *jsonrpc.Response) (*InitializeResult, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	var res InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("protocol: decode initialize result: %w", err)
	}
	return &res, nil
}

// BuildInitialized constructs the notifications/initialized notification,
// sent after a successful initialize with no response expected.
func BuildInitialized() (*jsonrpc.Notification, error) {
	return jsonrpc.NewNotification("notifications/initialized", map[string]any{})
}

// ToolDescription is one entry of a tools/list result, the server's raw
// description of a tool before it is converted into the host-neutral
// toolmodel.Tool (internal/toolmodel does that conversion).
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsListResult is the parsed result of a tools/list response.
type ToolsListResult struct {
	Tools []ToolDescription `json:"tools"`
}

// BuildToolsList constructs the tools/list request frame.
func BuildToolsList(id int64) (*jsonrpc.Request, error) {
	return jsonrpc.NewRequest(id, "tools/list", map[string]any{})
}

// ParseToolsList decodes a tools/list response's result.
func ParseToolsList(resp *jsonrpc.Response) (*ToolsListResult, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	var res ToolsListResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("protocol: decode tools/list result: %w", err)
	}
	return &res, nil
}

// ContentBlock is one item of a tools/call result's content array. Only
// "text" is interpreted by this client; "image" and "resource" pass
// through unread rather than failing the parse.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCallResult is the parsed result of a tools/call response.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// BuildToolsCall constructs the tools/call request frame.
func BuildToolsCall(id int64, name string, arguments any) (*jsonrpc.Request, error) {
	params := struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	}{Name: name, Arguments: arguments}
	return jsonrpc.NewRequest(id, "tools/call", params)
}

// ParseToolsCall decodes a tools/call response's result. A JSON-RPC level
// error envelope surfaces as a Go error; a result-level isError is left on
// the returned struct for the session/policy layer to interpret.
func ParseToolsCall(resp *jsonrpc.Response) (*ToolCallResult, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	var res ToolCallResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("protocol: decode tools/call result: %w", err)
	}
	return &res, nil
}
