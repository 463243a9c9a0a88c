package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// Limits for recent_tool_calls.
const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// recentResult adds a navigation hint to the engine result.
type recentResult struct {
	*engine.RecentResult
	Detail string `json:"detail_level"`
	Hint   string `json:"hint,omitempty"`
}

// RecentTool handles the recent_tool_calls MCP tool.
type RecentTool struct {
	engine *engine.Engine
}

// NewRecentTool creates a RecentTool.
func NewRecentTool(e *engine.Engine) *RecentTool {
	return &RecentTool{engine: e}
}

// Definition returns the MCP tool definition for recent_tool_calls.
func (t *RecentTool) Definition() mcp.Tool {
	return mcp.NewTool("recent_tool_calls",
		mcp.WithDescription(
			"List the most recent recorded tool calls of a session, oldest first.",
		),
		mcp.WithString("session_id",
			mcp.Description("Session to list (default: \"default\")"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Max events (default: %d, max: %d)", defaultRecentLimit, maxRecentLimit)),
		),
		mcp.WithString("detail_level",
			mcp.Description("summary drops arguments, standard truncates long values, full returns everything"),
			mcp.Enum(DetailLevelValues()...),
		),
	)
}

// Handle processes the recent_tool_calls tool call.
func (t *RecentTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := intArg(req, "limit", defaultRecentLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if limit <= 0 {
		return mcp.NewToolResultError("'limit' must be positive"), nil
	}
	limit = min(limit, maxRecentLimit)
	level := ParseDetailLevel(req.GetString("detail_level", ""))

	res := t.engine.Recent(req.GetString("session_id", ""), limit)
	applyDetail(res.Events, level)

	return jsonResult(recentResult{
		RecentResult: res,
		Detail:       level,
		Hint:         navigationHint(len(res.Events), res.Stats.Len),
	}), nil
}
