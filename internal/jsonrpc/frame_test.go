package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestNewRequestMarshalsParams(t *testing.T) {
	req, err := NewRequest(1, "tools/call", map[string]any{"name": "echo"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.JSONRPC != Version {
		t.Fatalf("jsonrpc = %q, want %q", req.JSONRPC, Version)
	}
	var decoded map[string]any
	if err := json.Unmarshal(req.Params, &decoded); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if decoded["name"] != "echo" {
		t.Fatalf("params[name] = %v, want echo", decoded["name"])
	}
}

func TestNewRequestNilParams(t *testing.T) {
	req, err := NewRequest(1, "notifications/initialized", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.Params != nil {
		t.Fatalf("params = %v, want nil", req.Params)
	}
}

func TestIsResponse(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		wantID int64
		wantOK bool
	}{
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, 1, true},
		{"error response", `{"jsonrpc":"2.0","id":2,"error":{"code":-32600,"message":"bad"}}`, 2, true},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, 0, false},
		{"request", `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, 0, false},
		{"garbage", `not json`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := IsResponse([]byte(tc.raw))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && id != tc.wantID {
				t.Fatalf("id = %d, want %d", id, tc.wantID)
			}
		})
	}
}

func TestParseResponseError(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"not found"}}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeMethodNotFound)
	}
}
