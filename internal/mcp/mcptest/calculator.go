// Package mcptest provides an in-process MCP server for tests.
package mcptest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewCalculator returns a server offering "sum" over an array of numbers and
// "divide", which reports division by zero as a tool error.
func NewCalculator() *server.MCPServer {
	s := server.NewMCPServer(
		"calculator",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("sum",
		mcp.WithDescription("Calculates the sum of an array of numbers"),
		mcp.WithArray("numbers",
			mcp.Required(),
			mcp.Description("Array of numbers to sum"),
			mcp.Items(map[string]any{"type": "number"}),
		),
	), sumHandler)

	s.AddTool(mcp.NewTool("divide",
		mcp.WithDescription("Divides a by b"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("Dividend")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Divisor")),
	), divideHandler)

	return s
}

func sumHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := request.GetArguments()["numbers"].([]any)
	if !ok {
		return mcp.NewToolResultError("numbers must be an array"), nil
	}
	var sum float64
	for i, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("element %d is not a number: %T", i, v)), nil
		}
		sum += n
	}
	return mcp.NewToolResultText(formatFloat(sum)), nil
}

func divideHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	a, okA := args["a"].(float64)
	b, okB := args["b"].(float64)
	if !okA || !okB {
		return mcp.NewToolResultError("a and b must be numbers"), nil
	}
	if b == 0 {
		return mcp.NewToolResultError("division by zero"), nil
	}
	return mcp.NewToolResultText(formatFloat(a / b)), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
