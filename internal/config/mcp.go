// Package config loads the on-disk MCP server list consumed by the client
// and the multi-server manager.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Transport kinds a server entry can select.
const (
	TransportStdio  = "stdio"
	TransportSSE    = "sse"
	TransportDocker = "docker"
)

// ServerConfig defines how to start and reach a single MCP server. Exactly
// one launch surface is populated per entry: Command for stdio, URL for sse,
// ContainerID+Command for docker.
type ServerConfig struct {
	Transport string `json:"transport,omitempty"`

	// stdio / docker
	Command     string   `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	Env         []string `json:"env,omitempty"` // KEY=VALUE entries
	ContainerID string   `json:"container_id,omitempty"`

	// sse
	URL             string            `json:"url,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	ReverseProxyURL string            `json:"reverse_proxy_url,omitempty"`

	// RequestTimeoutSec overrides the per-call timeout; zero means the
	// client default applies.
	RequestTimeoutSec int `json:"request_timeout_seconds,omitempty"`
}

// Kind returns the effective transport kind, inferring it from the
// populated launch surface when the entry does not name one explicitly.
func (c ServerConfig) Kind() string {
	if c.Transport != "" {
		return c.Transport
	}
	switch {
	case c.ContainerID != "":
		return TransportDocker
	case c.URL != "":
		return TransportSSE
	default:
		return TransportStdio
	}
}

// Validate reports the first configuration error of the entry: a kind this
// client does not implement, or a kind missing its launch surface.
func (c ServerConfig) Validate() error {
	switch c.Kind() {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return errors.New("stdio server requires a command")
		}
	case TransportSSE:
		if strings.TrimSpace(c.URL) == "" {
			return errors.New("sse server requires a url")
		}
	case TransportDocker:
		if strings.TrimSpace(c.ContainerID) == "" || strings.TrimSpace(c.Command) == "" {
			return errors.New("docker server requires a container_id and a command")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// ProjectMCP is the on-disk schema for the server list file.
type ProjectMCP struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// DefaultPath returns the conventional server-list location inside a
// workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".mcpctl", "mcp.json")
}

// LoadServers loads the MCP server list from path. A missing or empty file
// yields an empty map without error, so a workspace with no MCP servers
// configured is not an error state.
func LoadServers(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServerConfig{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[string]ServerConfig{}, nil
	}
	var cfg ProjectMCP
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.MCPServers == nil {
		return map[string]ServerConfig{}, nil
	}
	for alias, sc := range cfg.MCPServers {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("config: server %q: %w", alias, err)
		}
	}
	return cfg.MCPServers, nil
}
