package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// QueryTool handles the query_pattern_history MCP tool.
type QueryTool struct {
	engine *engine.Engine
}

// NewQueryTool creates a QueryTool.
func NewQueryTool(e *engine.Engine) *QueryTool {
	return &QueryTool{engine: e}
}

// Definition returns the MCP tool definition for query_pattern_history.
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("query_pattern_history",
		mcp.WithDescription(
			"Check whether a pattern was seen before, how often, how well intervening on it "+
				"worked and the most recent outcome notes. Read-only.",
		),
		mcp.WithString("signature",
			mcp.Required(),
			mcp.Description("Pattern id, or an alert fingerprint such as black-formatting-loop#main.py"),
		),
		mcp.WithString("context",
			mcp.Description("What you are working on. Echoed back for display, never used for matching."),
		),
	)
}

// Handle processes the query_pattern_history tool call.
func (t *QueryTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	signature := strings.TrimSpace(req.GetString("signature", ""))
	if signature == "" {
		return mcp.NewToolResultError("'signature' is required"), nil
	}

	res, err := t.engine.Query(signature, req.GetString("context", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}
