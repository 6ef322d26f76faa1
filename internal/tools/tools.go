// Package tools provides the external tool capability (MCP). The agent core
// sees only the Catalog interface; the concrete implementation speaks MCP to
// a server subprocess over stdio.
package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolDescriptor describes one callable tool exposed by a server.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Catalog is the tool capability consumed by AI_ANALYSIS tasks that request
// external tools.
type Catalog interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// MCPCatalog implements Catalog against a single MCP server launched as a
// subprocess and spoken to over stdio. The session is established lazily on
// first use and reused afterwards.
type MCPCatalog struct {
	command string
	args    []string

	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// NewMCPCatalog creates a catalog backed by the given server command line.
func NewMCPCatalog(command string, args ...string) *MCPCatalog {
	return &MCPCatalog{command: command, args: args}
}

// connect establishes the client session if needed.
func (c *MCPCatalog) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "aide", Version: "1.0.0"}, nil)
	transport := &mcpsdk.CommandTransport{Command: exec.Command(c.command, c.args...)}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to MCP server %q: %w", c.command, err)
	}
	c.session = session
	return session, nil
}

// Close tears down the session if one was established.
func (c *MCPCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// ListTools implements Catalog.
func (c *MCPCatalog) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	result, err := session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	descriptors := make([]ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}
	return descriptors, nil
}

// Call implements Catalog. Text content blocks are concatenated into the
// returned string.
func (c *MCPCatalog) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", err
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s reported error: %s", name, sb.String())
	}
	return sb.String(), nil
}
