package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// TagTool handles the tag_tool_call MCP tool.
type TagTool struct {
	engine *engine.Engine
}

// NewTagTool creates a TagTool.
func NewTagTool(e *engine.Engine) *TagTool {
	return &TagTool{engine: e}
}

// Definition returns the MCP tool definition for tag_tool_call.
func (t *TagTool) Definition() mcp.Tool {
	return mcp.NewTool("tag_tool_call",
		mcp.WithDescription(
			"Set the outcome of a tool call recorded earlier, once its result is known. "+
				"Use the seq returned by record_tool_call. A call can be tagged only once.",
		),
		mcp.WithNumber("seq",
			mcp.Required(),
			mcp.Description("Sequence number returned by record_tool_call"),
		),
		mcp.WithString("outcome",
			mcp.Required(),
			mcp.Description("Outcome tag, e.g. success or failure"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session the call belongs to (default: \"default\")"),
		),
	)
}

// Handle processes the tag_tool_call tool call.
func (t *TagTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seq, err := intArg(req, "seq", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if seq <= 0 {
		return mcp.NewToolResultError("'seq' is required and must be positive"), nil
	}
	outcome := strings.TrimSpace(req.GetString("outcome", ""))
	if outcome == "" {
		return mcp.NewToolResultError("'outcome' is required"), nil
	}

	res, err := t.engine.TagOutcome(req.GetString("session_id", ""), uint64(seq), outcome)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}
