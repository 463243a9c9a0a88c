// Package prompts implements the MCP prompts of the detection engine.
//
// Prompts are user-triggered: the user picks one and the host sends the
// rendered messages to the assistant.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// InterventionPrompt handles the anastrophex-intervene MCP prompt. It
// renders the directive of a pattern as a user message.
type InterventionPrompt struct {
	engine *engine.Engine
}

// NewInterventionPrompt creates an InterventionPrompt.
func NewInterventionPrompt(e *engine.Engine) *InterventionPrompt {
	return &InterventionPrompt{engine: e}
}

// Definition returns the MCP prompt definition for registration.
func (p *InterventionPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("anastrophex-intervene",
		mcp.WithPromptDescription(
			"Interrupt a behavior pattern: shows the directive for the pattern and asks "+
				"the assistant to follow it before continuing.",
		),
		mcp.WithArgument("pattern_id",
			mcp.ArgumentDescription("Pattern to intervene on, e.g. black-formatting-loop"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the anastrophex-intervene prompt request.
func (p *InterventionPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	patternID := strings.TrimSpace(req.Params.Arguments["pattern_id"])
	if patternID == "" {
		return nil, fmt.Errorf("pattern_id is required")
	}
	def, ok := p.engine.Registry().Get(patternID)
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q", patternID)
	}
	d, err := p.engine.Directive(patternID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stop. You are caught in the **%s** pattern", def.Name)
	if def.Description != "" {
		fmt.Fprintf(&b, ": %s", strings.TrimSuffix(def.Description, "."))
	}
	b.WriteString(".\n\n")
	if d.Text != "" {
		b.WriteString(d.Text)
	} else {
		b.WriteString("Step back, explain what you have been repeating and choose a different approach.")
	}
	fmt.Fprintf(&b, "\n\nWhen you have changed course, call `request_intervention` with pattern_id `%s` "+
		"if you have not yet, then `report_outcome` with the intervention_id to say whether it worked.", patternID)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Intervention: %s", def.Name),
		Messages: []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(b.String())),
		},
	}, nil
}
