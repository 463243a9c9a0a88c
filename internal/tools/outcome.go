package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// OutcomeTool handles the report_outcome MCP tool.
type OutcomeTool struct {
	engine *engine.Engine
}

// NewOutcomeTool creates an OutcomeTool.
func NewOutcomeTool(e *engine.Engine) *OutcomeTool {
	return &OutcomeTool{engine: e}
}

// Definition returns the MCP tool definition for report_outcome.
func (t *OutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("report_outcome",
		mcp.WithDescription(
			"Report whether an intervention changed the behavior it targeted. Resolves the "+
				"alert and updates the pattern's efficacy score, which decides whether future "+
				"interventions for it are suppressed.",
		),
		mcp.WithString("pattern_id",
			mcp.Required(),
			mcp.Description("Pattern the intervention addressed"),
		),
		mcp.WithString("intervention_id",
			mcp.Required(),
			mcp.Description("Id returned by request_intervention"),
		),
		mcp.WithBoolean("worked",
			mcp.Required(),
			mcp.Description("True when the behavior changed after the intervention"),
		),
		mcp.WithString("notes",
			mcp.Description("Free-form notes shown by query_pattern_history"),
		),
	)
}

// Handle processes the report_outcome tool call.
func (t *OutcomeTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patternID := strings.TrimSpace(req.GetString("pattern_id", ""))
	if patternID == "" {
		return mcp.NewToolResultError("'pattern_id' is required"), nil
	}
	interventionID := strings.TrimSpace(req.GetString("intervention_id", ""))
	if interventionID == "" {
		return mcp.NewToolResultError("'intervention_id' is required"), nil
	}
	worked, err := boolArg(req, "worked")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.engine.ReportOutcome(patternID, interventionID, worked, strings.TrimSpace(req.GetString("notes", "")))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}
