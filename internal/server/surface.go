package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/anastrophex/internal/engine"
	"github.com/HendryAvila/anastrophex/internal/prompts"
	"github.com/HendryAvila/anastrophex/internal/resources"
	"github.com/HendryAvila/anastrophex/internal/tools"
)

type toolEntry struct {
	def    mcp.Tool
	handle server.ToolHandlerFunc
}

type promptEntry struct {
	def    mcp.Prompt
	handle server.PromptHandlerFunc
}

// Surface is the fixed set of tools, resources and prompts the server
// exposes. Calls are dispatched by tool name or resource URI.
type Surface struct {
	tools     []toolEntry
	byName    map[string]int
	resources *resources.Handler
	prompts   []promptEntry
	logger    *zap.Logger
}

// NewSurface builds the surface over e.
func NewSurface(e *engine.Engine, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Surface{
		byName:    make(map[string]int),
		resources: resources.NewHandler(e),
		logger:    logger,
	}

	// --- Tools ---

	record := tools.NewRecordTool(e)
	s.addTool(record.Definition(), record.Handle)

	tag := tools.NewTagTool(e)
	s.addTool(tag.Definition(), tag.Handle)

	intervention := tools.NewInterventionTool(e)
	s.addTool(intervention.Definition(), intervention.Handle)

	outcome := tools.NewOutcomeTool(e)
	s.addTool(outcome.Definition(), outcome.Handle)

	query := tools.NewQueryTool(e)
	s.addTool(query.Definition(), query.Handle)

	recent := tools.NewRecentTool(e)
	s.addTool(recent.Definition(), recent.Handle)

	// --- Prompts ---

	intervene := prompts.NewInterventionPrompt(e)
	s.prompts = append(s.prompts, promptEntry{intervene.Definition(), intervene.Handle})

	status := prompts.NewStatusPrompt()
	s.prompts = append(s.prompts, promptEntry{status.Definition(), status.Handle})

	return s
}

func (s *Surface) addTool(def mcp.Tool, handle server.ToolHandlerFunc) {
	s.byName[def.Name] = len(s.tools)
	s.tools = append(s.tools, toolEntry{def: def, handle: s.instrument(def.Name, handle)})
}

// instrument counts and times every call of a tool.
func (s *Surface) instrument(name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := next(ctx, req)
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case res != nil && res.IsError:
			result = "tool_error"
		}
		toolCalls.WithLabelValues(name, result).Inc()
		toolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		s.logger.Debug("tool call", zap.String("tool", name), zap.String("result", result),
			zap.Duration("took", time.Since(start)))
		return res, err
	}
}

// ListTools returns the tool definitions in registration order.
func (s *Surface) ListTools() []mcp.Tool {
	out := make([]mcp.Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.def
	}
	return out
}

// CallTool dispatches a call by tool name. An unknown name is a Go error;
// failures inside a known tool are tool error results.
func (s *Surface) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	i, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.tools[i].handle(ctx, req)
}

// ListResources returns the resource definitions.
func (s *Surface) ListResources() []mcp.Resource {
	return s.resources.Resources()
}

// ReadResource dispatches a read by URI.
func (s *Surface) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	contents, err := s.resources.Read(ctx, uri)
	label, result := uri, "ok"
	switch {
	case errors.Is(err, resources.ErrUnknownResource):
		label, result = "unknown", "error"
	case err != nil:
		result = "error"
	}
	resourceReads.WithLabelValues(label, result).Inc()
	return contents, err
}

// ListPrompts returns the prompt definitions.
func (s *Surface) ListPrompts() []mcp.Prompt {
	out := make([]mcp.Prompt, len(s.prompts))
	for i, p := range s.prompts {
		out[i] = p.def
	}
	return out
}

// Register adds the whole surface to an MCP server.
func (s *Surface) Register(srv *server.MCPServer) {
	for _, t := range s.tools {
		srv.AddTool(t.def, t.handle)
	}
	for _, r := range s.ListResources() {
		srv.AddResource(r, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return s.ReadResource(ctx, req.Params.URI)
		})
	}
	for _, p := range s.prompts {
		srv.AddPrompt(p.def, p.handle)
	}
}
