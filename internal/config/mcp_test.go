package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeServers(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadServersMissingFileYieldsEmpty(t *testing.T) {
	servers, err := LoadServers(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadServers: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("servers = %v, want empty", servers)
	}
}

func TestLoadServersParsesBothKinds(t *testing.T) {
	path := writeServers(t, t.TempDir(), `{
		"mcpServers": {
			"files": {"command": "mcp-files", "args": ["--root", "/srv"], "env": ["DEBUG=1"]},
			"search": {"url": "https://h:443/mcp/sse", "headers": {"Authorization": "Bearer x"}, "request_timeout_seconds": 15}
		}
	}`)
	servers, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers) = %d, want 2", len(servers))
	}
	if got := servers["files"].Kind(); got != TransportStdio {
		t.Errorf("files kind = %q, want stdio", got)
	}
	if got := servers["search"].Kind(); got != TransportSSE {
		t.Errorf("search kind = %q, want sse", got)
	}
	if servers["search"].RequestTimeoutSec != 15 {
		t.Errorf("search timeout = %d, want 15", servers["search"].RequestTimeoutSec)
	}
}

func TestLoadServersRejectsInvalidEntries(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"stdio without command", `{"mcpServers": {"bad": {"transport": "stdio"}}}`},
		{"sse without url", `{"mcpServers": {"bad": {"transport": "sse"}}}`},
		{"unknown transport", `{"mcpServers": {"bad": {"transport": "carrier-pigeon", "command": "x"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeServers(t, t.TempDir(), tc.body)
			if _, err := LoadServers(path); err == nil {
				t.Fatal("LoadServers succeeded, want error")
			}
		})
	}
}

func TestWatchReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeServers(t, dir, `{"mcpServers": {}}`)

	reloads := make(chan map[string]ServerConfig, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, path, slog.Default(), func(s map[string]ServerConfig) { reloads <- s })
	}()

	// Give the watcher time to attach before the rewrite.
	time.Sleep(100 * time.Millisecond)
	writeServers(t, dir, `{"mcpServers": {"files": {"command": "mcp-files"}}}`)

	select {
	case servers := <-reloads:
		if _, ok := servers["files"]; !ok {
			t.Fatalf("reloaded servers = %v, want files entry", servers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed within 5s")
	}
}
