// Package mcpmanager supervises a set of named MCP clients built from one
// config server list, so an orchestrator talks to "the tools" rather than
// to individual servers.
package mcpmanager

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mcpclient "loom-mcp"
	"loom-mcp/internal/config"
	"loom-mcp/internal/toolmodel"
)

// listRetries / listRetryDelay give slow-starting servers a moment to
// finish wiring their tool registry before ListTools gives up on them.
const (
	listRetries    = 3
	listRetryDelay = 500 * time.Millisecond
)

// Manager owns one mcpclient.Client per configured alias.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*mcpclient.Client
	cfgs    map[string]config.ServerConfig
	// lastCfgHash is a stable hash of the last applied config set, used to
	// make Start idempotent.
	lastCfgHash string
}

func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger,
		clients: make(map[string]*mcpclient.Client),
		cfgs:    make(map[string]config.ServerConfig),
	}
}

// Start creates clients for all configured servers. Idempotent: if the
// config set has not changed since the last Start, this is a no-op. When
// the set did change, only the aliases whose entries changed are restarted;
// identical ones keep their running client, and aliases no longer present
// are stopped. An alias that fails to start is logged and skipped so one
// bad server does not take down the rest.
func (m *Manager) Start(ctx context.Context, cfgs map[string]config.ServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := hashConfigs(cfgs)
	if hash == m.lastCfgHash {
		m.logger.Debug("mcpmanager: start is a no-op, config unchanged", "aliases", len(m.clients))
		return nil
	}

	newClients := make(map[string]*mcpclient.Client)
	newCfgs := make(map[string]config.ServerConfig)
	for alias, cfg := range cfgs {
		if existing, ok := m.clients[alias]; ok {
			if configsCanonicallyEqual(m.cfgs[alias], cfg) {
				newClients[alias] = existing
				newCfgs[alias] = m.cfgs[alias]
				continue
			}
			m.logger.Info("mcpmanager: restarting server, config changed", "alias", alias)
			_ = existing.Close()
		} else {
			m.logger.Info("mcpmanager: starting server", "alias", alias, "transport", cfg.Kind())
		}
		cfg.Command = canonicalizeCommandPath(cfg.Command)
		c, err := mcpclient.New(ctx, alias, cfg, mcpclient.Options{Logger: m.logger})
		if err != nil {
			m.logger.Warn("mcpmanager: server failed to start", "alias", alias, "error", err)
			continue
		}
		newClients[alias] = c
		newCfgs[alias] = cfg
	}
	for alias, c := range m.clients {
		if _, stillPresent := cfgs[alias]; !stillPresent {
			m.logger.Info("mcpmanager: stopping removed server", "alias", alias)
			_ = c.Close()
		}
	}
	m.clients = newClients
	m.cfgs = newCfgs
	m.lastCfgHash = hash
	return nil
}

// StopAll closes every client and clears the manager. A later Start begins
// from scratch.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		_ = c.Close()
	}
	m.clients = make(map[string]*mcpclient.Client)
	m.cfgs = make(map[string]config.ServerConfig)
	m.lastCfgHash = ""
}

// Aliases returns the currently running server aliases, sorted.
func (m *Manager) Aliases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for alias := range m.clients {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Client returns the client for alias, or nil if it is not running.
func (m *Manager) Client(alias string) *mcpclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[alias]
}

// ListTools returns the discovered tool descriptors per alias. Servers
// that keep failing after a few retries are skipped with a log, not fatal.
func (m *Manager) ListTools(ctx context.Context) map[string][]*toolmodel.Tool {
	m.mu.RLock()
	clients := make(map[string]*mcpclient.Client, len(m.clients))
	for alias, c := range m.clients {
		clients[alias] = c
	}
	m.mu.RUnlock()

	out := make(map[string][]*toolmodel.Tool)
	for alias, c := range clients {
		var tools []*toolmodel.Tool
		var err error
		for attempt := 0; attempt < listRetries; attempt++ {
			tools, err = c.Tools(ctx, attempt > 0)
			if err == nil && len(tools) > 0 {
				break
			}
			if attempt < listRetries-1 {
				time.Sleep(listRetryDelay)
			}
		}
		if err != nil {
			m.logger.Warn("mcpmanager: tools/list failed", "alias", alias, "error", err)
			continue
		}
		out[alias] = tools
	}
	return out
}

// Call delegates a single tool call to a specific server.
func (m *Manager) Call(ctx context.Context, alias, tool string, arguments any) (string, error) {
	c := m.Client(alias)
	if c == nil {
		return "", fmt.Errorf("mcpmanager: unknown server %q", alias)
	}
	return c.ExecuteTool(ctx, tool, arguments)
}

// hashConfigs computes a stable string hash for the server config set: keys
// sorted, env order normalized, arg order preserved.
func hashConfigs(cfgs map[string]config.ServerConfig) string {
	if len(cfgs) == 0 {
		return "empty"
	}
	aliases := make([]string, 0, len(cfgs))
	for alias := range cfgs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	h := sha256.New()
	for _, alias := range aliases {
		cfg := cfgs[alias]
		cfg.Command = canonicalizeCommandPath(cfg.Command)
		env := append([]string(nil), cfg.Env...)
		for i := range env {
			env[i] = strings.TrimSpace(env[i])
		}
		sort.Strings(env)
		cfg.Env = env
		b, _ := json.Marshal(struct {
			Alias string
			Cfg   config.ServerConfig
		}{Alias: alias, Cfg: cfg})
		_, _ = h.Write(b)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func configsCanonicallyEqual(a, b config.ServerConfig) bool {
	one := func(c config.ServerConfig) string {
		return hashConfigs(map[string]config.ServerConfig{"a": c})
	}
	return one(a) == one(b)
}

// canonicalizeCommandPath normalizes command paths so hashing is stable
// across spellings of the same binary.
func canonicalizeCommandPath(cmd string) string {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return ""
	}
	if strings.ContainsRune(trimmed, filepath.Separator) {
		if abs, err := filepath.Abs(trimmed); err == nil {
			return abs
		}
	}
	if p, err := exec.LookPath(trimmed); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return trimmed
}
