package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the anastrophex-status MCP prompt.
// It asks the assistant to review its active alerts and pattern history.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("anastrophex-status",
		mcp.WithPromptDescription(
			"Review which behavior patterns are active in this session and how well "+
				"past interventions worked.",
		),
	)
}

// Handle processes the anastrophex-status prompt request.
func (p *StatusPrompt) Handle(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Behavior pattern status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Read `anastrophex://alerts/active` and `anastrophex://patterns/all`.\n\n" +
						"Then:\n" +
						"1. List the alerts waiting for a decision and the pattern each belongs to\n" +
						"2. For each, call `query_pattern_history` and tell me whether intervening helped before\n" +
						"3. Call `request_intervention` for the ones worth acting on and follow the directive\n" +
						"4. Summarize which patterns trigger most often",
				),
			},
		},
	}, nil
}
