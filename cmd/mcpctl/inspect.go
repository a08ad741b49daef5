package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"loom-mcp/internal/mcpmanager"
	"loom-mcp/internal/toolmodel"
)

var (
	inspectTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#7D56F4")).
				Padding(0, 1)

	inspectSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#A550DF"))

	inspectDetailStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("#874BFD")).
				Padding(1, 2)

	inspectErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	inspectHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#626262"))
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Interactively browse and call the configured servers' tools",
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

		p := tea.NewProgram(newInspectModel(ctx, m), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

type inspectViewMode int

const (
	inspectList inspectViewMode = iota
	inspectDetail
)

// inspectEntry is one row of the aggregated tool list.
type inspectEntry struct {
	alias string
	tool  *toolmodel.Tool
}

type toolsLoadedMsg struct {
	entries []inspectEntry
}

type callDoneMsg struct {
	result string
	err    error
}

type inspectModel struct {
	ctx     context.Context
	manager *mcpmanager.Manager

	entries []inspectEntry
	cursor  int
	view    inspectViewMode

	argsInput string
	calling   bool
	result    string
	callErr   error

	width  int
	height int
}

func newInspectModel(ctx context.Context, m *mcpmanager.Manager) inspectModel {
	return inspectModel{ctx: ctx, manager: m}
}

func (m inspectModel) Init() tea.Cmd {
	return func() tea.Msg {
		byAlias := m.manager.ListTools(m.ctx)
		aliases := make([]string, 0, len(byAlias))
		for alias := range byAlias {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		var entries []inspectEntry
		for _, alias := range aliases {
			for _, tool := range byAlias[alias] {
				entries = append(entries, inspectEntry{alias: alias, tool: tool})
			}
		}
		return toolsLoadedMsg{entries: entries}
	}
}

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case toolsLoadedMsg:
		m.entries = msg.entries
		return m, nil
	case callDoneMsg:
		m.calling = false
		m.result = msg.result
		m.callErr = msg.err
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m inspectModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	switch m.view {
	case inspectList:
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.entries) > 0 {
				m.view = inspectDetail
				m.argsInput = ""
				m.result = ""
				m.callErr = nil
			}
		}
	case inspectDetail:
		switch msg.Type {
		case tea.KeyEsc:
			m.view = inspectList
		case tea.KeyEnter:
			if !m.calling {
				m.calling = true
				m.result = ""
				m.callErr = nil
				return m, m.callSelected()
			}
		case tea.KeyBackspace:
			if len(m.argsInput) > 0 {
				m.argsInput = m.argsInput[:len(m.argsInput)-1]
			}
		case tea.KeySpace:
			m.argsInput += " "
		case tea.KeyRunes:
			m.argsInput += string(msg.Runes)
		}
	}
	return m, nil
}

func (m inspectModel) callSelected() tea.Cmd {
	entry := m.entries[m.cursor]
	input := m.argsInput
	return func() tea.Msg {
		var arguments map[string]any
		if strings.TrimSpace(input) != "" {
			if err := json.Unmarshal([]byte(input), &arguments); err != nil {
				return callDoneMsg{err: fmt.Errorf("arguments must be a JSON object: %w", err)}
			}
		}
		result, err := m.manager.Call(m.ctx, entry.alias, entry.tool.Name, arguments)
		return callDoneMsg{result: result, err: err}
	}
}

func (m inspectModel) View() string {
	var b strings.Builder
	b.WriteString(inspectTitleStyle.Render("mcpctl inspect"))
	b.WriteString("\n\n")

	switch m.view {
	case inspectList:
		if len(m.entries) == 0 {
			b.WriteString("loading tools...\n")
			break
		}
		for i, e := range m.entries {
			line := fmt.Sprintf("%s/%s - %s", e.alias, e.tool.Name, e.tool.Description)
			if i == m.cursor {
				line = inspectSelectedStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n" + inspectHelpStyle.Render("↑/↓ select · enter inspect · q quit"))
	case inspectDetail:
		e := m.entries[m.cursor]
		var detail strings.Builder
		fmt.Fprintf(&detail, "%s/%s\n%s\n", e.alias, e.tool.Name, e.tool.Description)
		if len(e.tool.Parameters) > 0 {
			detail.WriteString("\nparameters:\n")
			writeParameterTree(&detail, e.tool.Parameters, 1)
		}
		b.WriteString(inspectDetailStyle.Render(detail.String()))
		b.WriteString("\n\nargs (JSON): " + m.argsInput + "▌\n")
		switch {
		case m.calling:
			b.WriteString("\ncalling...\n")
		case m.callErr != nil:
			b.WriteString("\n" + inspectErrStyle.Render(m.callErr.Error()) + "\n")
		case m.result != "":
			b.WriteString("\n" + m.result + "\n")
		}
		b.WriteString("\n" + inspectHelpStyle.Render("type args · enter call · esc back"))
	}
	return b.String()
}

// writeParameterTree renders a parameter map with one indented line per
// parameter, recursing into object properties.
func writeParameterTree(b *strings.Builder, params map[string]*toolmodel.Parameter, depth int) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	indent := strings.Repeat("  ", depth)
	for _, name := range names {
		p := params[name]
		req := ""
		if p.Required {
			req = " (required)"
		}
		desc := ""
		if p.Description != "" {
			desc = " - " + p.Description
		}
		fmt.Fprintf(b, "%s%s: %s%s%s\n", indent, name, p.Type, req, desc)
		if len(p.Properties) > 0 {
			writeParameterTree(b, p.Properties, depth+1)
		}
	}
}
