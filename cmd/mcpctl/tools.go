package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"loom-mcp/internal/mcpmanager"
	"loom-mcp/internal/toolmodel"
)

var (
	toolsOpenAI    bool
	toolsAnthropic bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools exposed by the configured servers",
	Long: `tools starts every configured server, lists its tools, and prints
them grouped by server alias. With --openai or --anthropic the tool
definitions are emitted as JSON in that provider's schema shape instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := loadServers()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		m := mcpmanager.New(nil)
		defer m.StopAll()
		if err := m.Start(ctx, servers); err != nil {
			return err
		}

		byAlias := m.ListTools(ctx)
		if toolsOpenAI || toolsAnthropic {
			return emitSchemas(byAlias)
		}

		aliases := make([]string, 0, len(byAlias))
		for alias := range byAlias {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			fmt.Printf("%s:\n", alias)
			for _, tool := range byAlias[alias] {
				fmt.Printf("  %-24s %s\n", tool.Name, tool.Description)
				paramNames := make([]string, 0, len(tool.Parameters))
				for name := range tool.Parameters {
					paramNames = append(paramNames, name)
				}
				sort.Strings(paramNames)
				for _, name := range paramNames {
					p := tool.Parameters[name]
					req := ""
					if p.Required {
						req = " (required)"
					}
					fmt.Printf("    - %s: %s%s\n", name, p.Type, req)
				}
			}
		}
		return nil
	},
}

func emitSchemas(byAlias map[string][]*toolmodel.Tool) error {
	var out []any
	aliases := make([]string, 0, len(byAlias))
	for alias := range byAlias {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		for _, tool := range byAlias[alias] {
			qualified := *tool
			qualified.Name = mcpmanager.QualifiedToolName(alias, tool.Name)
			if toolsOpenAI {
				out = append(out, toolmodel.OpenAITool(&qualified))
			} else {
				out = append(out, toolmodel.AnthropicToolSchema(&qualified))
			}
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsOpenAI, "openai", false, "emit OpenAI function definitions as JSON")
	toolsCmd.Flags().BoolVar(&toolsAnthropic, "anthropic", false, "emit Anthropic tool definitions as JSON")
	toolsCmd.MarkFlagsMutuallyExclusive("openai", "anthropic")
}
