// Package server wires the MCP surface to the detection engine.
//
// This is the composition root for the transport: it builds the tools,
// resources and prompts over one engine and registers them. No detection
// logic lives here.
package server

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with the whole surface registered.
func New(e *engine.Engine, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"anastrophex",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	NewSurface(e, logger).Register(s)
	return s
}

// serverInstructions tells the assistant how to use the server.
func serverInstructions() string {
	return `You have access to Anastrophex, a server that watches your own tool calls for
unproductive habits (hand-fixing formatting, editing without testing, retrying a
failing command unchanged) and tells you when to change course.

## HOW TO USE IT

1. After each tool call you make, call record_tool_call with the tool name and
   its arguments. Pass session_id if you work in more than one session.
2. If the response lists an alert, call request_intervention with its
   pattern_id.
   - decision "intervene": follow the directive text before doing anything
     else. Keep the intervention_id.
   - decision "suppress": past interventions for this pattern did not help;
     carry on.
3. Once you can tell whether the directive changed what you were doing, call
   report_outcome with the pattern_id, the intervention_id and worked=true or
   false. Add short notes about what you did differently.
4. Before repeating an approach that failed earlier, call
   query_pattern_history with the pattern id to see past outcomes and notes.

When a call's result arrives after you recorded it, set it with tag_tool_call
(outcome "success" or "failure"). Some patterns only reset on success.

## RESOURCES

- anastrophex://alerts/active: alerts waiting for a decision
- anastrophex://patterns/all: every pattern with counters and efficacy
- anastrophex://directives/all: the directive for each pattern
- anastrophex://status: sessions and storage health

Never skip report_outcome after an intervention: the efficacy score it feeds
decides which interventions you see in the future.`
}
