package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// RecordTool handles the record_tool_call MCP tool.
type RecordTool struct {
	engine *engine.Engine
}

// NewRecordTool creates a RecordTool.
func NewRecordTool(e *engine.Engine) *RecordTool {
	return &RecordTool{engine: e}
}

// Definition returns the MCP tool definition for record_tool_call.
func (t *RecordTool) Definition() mcp.Tool {
	return mcp.NewTool("record_tool_call",
		mcp.WithDescription(
			"Record one tool invocation you just made. Patterns are matched against the "+
				"session's history immediately and any alert that was created or updated is "+
				"returned. Call this after every tool call you want watched.",
		),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the tool that was invoked, e.g. Edit or Bash"),
		),
		mcp.WithObject("arguments",
			mcp.Description("The arguments passed to the tool. Only their shape is matched."),
		),
		mcp.WithString("session_id",
			mcp.Description("Session the call belongs to (default: \"default\")"),
		),
		mcp.WithString("outcome",
			mcp.Description("Optional outcome tag, e.g. success or failure. Can be set later with tag_tool_call."),
		),
		mcp.WithString("timestamp",
			mcp.Description("When the call happened, RFC 3339. Defaults to now."),
		),
	)
}

// Handle processes the record_tool_call tool call.
func (t *RecordTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("tool_name", ""))
	if name == "" {
		return mcp.NewToolResultError("'tool_name' is required"), nil
	}
	args, err := objectArg(req, "arguments")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	at, err := timeArg(req, "timestamp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.engine.RecordEvent(req.GetString("session_id", ""), engine.ToolCall{
		Tool:    name,
		Args:    args,
		Outcome: strings.TrimSpace(req.GetString("outcome", "")),
		Time:    at,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}
