package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	mcpclient "loom-mcp"
)

var callCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-arguments]",
	Short: "Invoke one tool on one configured server",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := loadServers()
		if err != nil {
			return err
		}
		alias, tool := args[0], args[1]
		cfg, ok := servers[alias]
		if !ok {
			return fmt.Errorf("unknown server %q", alias)
		}

		var arguments map[string]any
		if len(args) == 3 {
			if err := json.Unmarshal([]byte(args[2]), &arguments); err != nil {
				return fmt.Errorf("arguments must be a JSON object: %w", err)
			}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		c, err := mcpclient.New(ctx, "mcpctl", cfg, mcpclient.Options{})
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.ExecuteTool(ctx, tool, arguments)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	},
}
