package protocol

import (
	"encoding/json"
	"testing"

	"loom-mcp/internal/jsonrpc"
)

func TestBuildInitializeAdvertisesCapabilities(t *testing.T) {
	req, err := BuildInitialize(1, "mcpctl", "0.1.0")
	if err != nil {
		t.Fatalf("BuildInitialize: %v", err)
	}
	var params InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.ProtocolVersion != ProtocolVersion {
		t.Fatalf("protocolVersion = %q, want %q", params.ProtocolVersion, ProtocolVersion)
	}
	if params.Capabilities.Tools == nil || !params.Capabilities.Tools.ListChanged {
		t.Fatalf("capabilities.tools.listChanged not set: %+v", params.Capabilities)
	}
	if params.ClientInfo.Name != "mcpctl" {
		t.Fatalf("clientInfo.name = %q, want mcpctl", params.ClientInfo.Name)
	}
}

func TestParseInitializeSurfacesJSONRPCError(t *testing.T) {
	resp := &jsonrpc.Response{ID: 1, Error: &jsonrpc.Error{Code: -32600, Message: "bad request"}}
	if _, err := ParseInitialize(resp); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestParseToolsListDecodesTools(t *testing.T) {
	resp := &jsonrpc.Response{
		ID: 2,
		Result: json.RawMessage(`{"tools":[{"name":"echo","description":"d","inputSchema":{"type":"object","properties":{"text":{"type":"string"}}}}]}`),
	}
	res, err := ParseToolsList(resp)
	if err != nil {
		t.Fatalf("ParseToolsList: %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v, want one tool named echo", res.Tools)
	}
}

func TestParseToolsCallDecodesContentAndPreservesIsError(t *testing.T) {
	resp := &jsonrpc.Response{
		ID:     3,
		Result: json.RawMessage(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"isError":true}`),
	}
	res, err := ParseToolsCall(resp)
	if err != nil {
		t.Fatalf("ParseToolsCall: %v", err)
	}
	if len(res.Content) != 2 || res.Content[0].Text != "a" || res.Content[1].Text != "b" {
		t.Fatalf("content = %+v", res.Content)
	}
	if !res.IsError {
		t.Fatal("isError not preserved")
	}
}

func TestBuildToolsCallParams(t *testing.T) {
	req, err := BuildToolsCall(4, "echo", map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("BuildToolsCall: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(req.Params, &decoded); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if decoded["name"] != "echo" {
		t.Fatalf("params[name] = %v, want echo", decoded["name"])
	}
}
