package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// InterventionTool handles the request_intervention MCP tool.
type InterventionTool struct {
	engine *engine.Engine
}

// NewInterventionTool creates an InterventionTool.
func NewInterventionTool(e *engine.Engine) *InterventionTool {
	return &InterventionTool{engine: e}
}

// Definition returns the MCP tool definition for request_intervention.
func (t *InterventionTool) Definition() mcp.Tool {
	return mcp.NewTool("request_intervention",
		mcp.WithDescription(
			"Ask whether to act on a detected pattern. Returns decision \"intervene\" with an "+
				"intervention_id and the directive to follow, or \"suppress\" when past "+
				"interventions for this pattern rarely worked. Report the result later with "+
				"report_outcome using the same intervention_id.",
		),
		mcp.WithString("pattern_id",
			mcp.Required(),
			mcp.Description("Pattern of the detected alert"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session the alert belongs to (default: \"default\")"),
		),
		mcp.WithString("intervention_id",
			mcp.Description("Id to use for the intervention. Generated when omitted."),
		),
	)
}

// Handle processes the request_intervention tool call.
func (t *InterventionTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patternID := strings.TrimSpace(req.GetString("pattern_id", ""))
	if patternID == "" {
		return mcp.NewToolResultError("'pattern_id' is required"), nil
	}

	res, err := t.engine.RequestIntervention(
		req.GetString("session_id", ""),
		patternID,
		strings.TrimSpace(req.GetString("intervention_id", "")),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}
