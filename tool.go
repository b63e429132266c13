package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viant/mcp-protocol/schema"
	"github.com/viant/mcp-tools/client"
)

// noTextContent is returned when a tool call succeeds but carries no text
// blocks in its result.
const noTextContent = "No text content available in response"

// Tool is a callable adapter over one discovered MCP tool. It captures the
// owning session, so it stays usable until the cleanup returned by
// ConvertTools runs.
type Tool struct {
	// Name is the tool name, unique within its server.
	Name string

	// Description is the human readable summary the server advertised.
	Description string

	// InputSchema is the tool's argument schema, normalized so nullable
	// type unions appear as anyOf alternatives.
	InputSchema map[string]interface{}

	// Server is the logical server name the tool came from.
	Server string

	session *client.Client
	logger  *slog.Logger
}

// Call invokes the remote tool and returns the text content of its result,
// multiple blocks joined by blank lines. A result flagged as an error surfaces
// as an error.
func (t *Tool) Call(ctx context.Context, arguments map[string]interface{}) (string, error) {
	t.logger.Info("invoking tool", "server", t.Server, "tool", t.Name, "arguments", len(arguments))
	result, err := t.session.CallTool(ctx, &schema.CallToolRequestParams{
		Name:      t.Name,
		Arguments: arguments,
	})
	if err != nil {
		return "", fmt.Errorf("mcp server %q: tool %q call failed: %w", t.Server, t.Name, err)
	}
	text := extractText(result)
	if result.IsError != nil && *result.IsError {
		return "", fmt.Errorf("mcp server %q: tool %q execution failed: %s", t.Server, t.Name, text)
	}
	if text == "" {
		text = noTextContent
	}
	t.logger.Info("tool call completed", "server", t.Server, "tool", t.Name, "size", len(text))
	return text, nil
}

// extractText joins the text blocks of a tool result with blank lines,
// skipping non-text content. Content elements decoded from the wire are
// generic maps; results built in-process carry schema.TextContent.
func extractText(result *schema.CallToolResult) string {
	var blocks []string
	for _, elem := range result.Content {
		switch content := elem.(type) {
		case schema.TextContent:
			if content.Text != "" {
				blocks = append(blocks, content.Text)
			}
		case map[string]interface{}:
			if kind, ok := content["type"].(string); ok && kind != "" && kind != "text" {
				continue
			}
			if text, ok := content["text"].(string); ok && text != "" {
				blocks = append(blocks, text)
			}
		}
	}
	return strings.Join(blocks, "\n\n")
}
