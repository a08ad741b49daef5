package mcpsession

import (
	"fmt"
	"strings"

	"loom-mcp/internal/protocol"
)

// ContentPolicy decides how a tools/call result's content array and
// isError flag become the string ExecuteTool returns to the caller. The
// session does not decide whether isError should become a distinct error
// kind or whether non-text content should be dropped, summarized, or
// surfaced as structured data; a host picks a policy.
type ContentPolicy interface {
	// JoinText turns content into the string returned by execute_tool.
	// isError is passed through for policies that want to treat it as a
	// distinct failure rather than ordinary text.
	JoinText(content []protocol.ContentBlock, isError bool) (string, error)
}

// DefaultContentPolicy joins every "text" content block with "\n" and
// ignores non-text items and isError entirely: the content is joined and
// returned regardless of its value.
type DefaultContentPolicy struct{}

func (DefaultContentPolicy) JoinText(content []protocol.ContentBlock, _ bool) (string, error) {
	var parts []string
	for _, c := range content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// StrictContentPolicy joins text the same way DefaultContentPolicy does but
// maps isError: true to ErrToolFailed, with the joined text carried in the
// error message so the caller still sees what the server reported.
type StrictContentPolicy struct{}

func (StrictContentPolicy) JoinText(content []protocol.ContentBlock, isError bool) (string, error) {
	joined, _ := DefaultContentPolicy{}.JoinText(content, isError)
	if isError {
		return "", fmt.Errorf("%w: %s", ErrToolFailed, joined)
	}
	return joined, nil
}
