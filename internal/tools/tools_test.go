package tools

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

type echoOutput struct {
	Echoed string `json:"echoed"`
}

func echoHandler(ctx context.Context, req *mcpsdk.CallToolRequest, input echoInput) (*mcpsdk.CallToolResult, echoOutput, error) {
	return nil, echoOutput{Echoed: input.Text}, nil
}

// setupCatalog wires an in-memory MCP server+client pair and returns a
// catalog speaking to it.
func setupCatalog(t *testing.T) *MCPCatalog {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "aide-test", Version: "0.0.1"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "echo",
		Description: "Echo the input text",
	}, echoHandler)

	ct, st := mcpsdk.NewInMemoryTransports()
	ctx := context.Background()

	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		cs.Close()
		ss.Close()
	})

	return &MCPCatalog{session: cs}
}

func TestListTools(t *testing.T) {
	catalog := setupCatalog(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	descriptors, err := catalog.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(descriptors) != 1 {
		t.Fatalf("got %d tools, want 1", len(descriptors))
	}
	if descriptors[0].Name != "echo" {
		t.Errorf("tool name = %q, want %q", descriptors[0].Name, "echo")
	}
}

func TestCall(t *testing.T) {
	catalog := setupCatalog(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := catalog.Call(ctx, "echo", map[string]any{"text": "ping"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out == "" {
		t.Fatal("Call returned empty output")
	}
}
