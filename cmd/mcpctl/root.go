// mcpctl is a small operator CLI around the MCP client library: list the
// tools configured servers expose, call one, or browse them interactively.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"loom-mcp/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:     "mcpctl",
	Short:   "mcpctl talks to configured MCP tool servers",
	Version: version,
	Long: `mcpctl discovers and invokes tools on the MCP servers listed in the
workspace server file (default .mcpctl/mcp.json). Servers can be local
subprocesses, remote SSE endpoints, or processes inside a running Docker
container.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(NewColoredHandler(os.Stderr, level)))
	},
}

// Execute runs the root command, printing any error to stderr and exiting
// non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "server list file (default .mcpctl/mcp.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(inspectCmd)
}

// loadServers resolves the --config flag (or the workspace default) into
// the configured server map.
func loadServers() (map[string]config.ServerConfig, error) {
	path := cfgFile
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = config.DefaultPath(wd)
	}
	servers, err := config.LoadServers(path)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no MCP servers configured in %s", path)
	}
	return servers, nil
}
