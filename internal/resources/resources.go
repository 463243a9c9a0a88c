// Package resources implements the read-only MCP resources of the
// detection engine.
//
// Resources are JSON snapshots addressed by anastrophex:// URIs. Each read
// builds a fresh snapshot; nothing is cached.
package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// Resource URIs.
const (
	URIPatterns   = "anastrophex://patterns/all"
	URIAlerts     = "anastrophex://alerts/active"
	URIDirectives = "anastrophex://directives/all"
	URIStatus     = "anastrophex://status"
)

// ErrUnknownResource is returned for a URI no handler serves.
var ErrUnknownResource = errors.New("unknown resource")

// Handler serves the engine snapshots.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a resource Handler.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// Resources returns every resource definition, in listing order.
func (h *Handler) Resources() []mcp.Resource {
	return []mcp.Resource{
		h.PatternsResource(),
		h.AlertsResource(),
		h.DirectivesResource(),
		h.StatusResource(),
	}
}

// Read dispatches a read by URI.
func (h *Handler) Read(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	switch uri {
	case URIPatterns:
		return h.HandlePatterns(ctx, req)
	case URIAlerts:
		return h.HandleAlerts(ctx, req)
	case URIDirectives:
		return h.HandleDirectives(ctx, req)
	case URIStatus:
		return h.HandleStatus(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}
}

// PatternsResource returns the MCP resource definition for the pattern
// catalogue.
func (h *Handler) PatternsResource() mcp.Resource {
	return mcp.NewResource(
		URIPatterns,
		"Behavior Patterns",
		mcp.WithResourceDescription("Every pattern definition with detection counters, efficacy and directive availability"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandlePatterns returns the pattern catalogue as JSON.
func (h *Handler) HandlePatterns(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.engine.Patterns())
}

// AlertsResource returns the MCP resource definition for active alerts.
func (h *Handler) AlertsResource() mcp.Resource {
	return mcp.NewResource(
		URIAlerts,
		"Active Alerts",
		mcp.WithResourceDescription("Alerts that are detected or intervening, across sessions, oldest first"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleAlerts returns the active alerts as JSON.
func (h *Handler) HandleAlerts(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.engine.ActiveAlerts())
}

// DirectivesResource returns the MCP resource definition for directives.
func (h *Handler) DirectivesResource() mcp.Resource {
	return mcp.NewResource(
		URIDirectives,
		"Directives",
		mcp.WithResourceDescription("Directive text to follow for each pattern"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleDirectives returns the directive set as JSON.
func (h *Handler) HandleDirectives(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.engine.Directives())
}

// StatusResource returns the MCP resource definition for server status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		URIStatus,
		"Server Status",
		mcp.WithResourceDescription("Sessions, event counts, registry source and persistence health"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the status snapshot as JSON.
func (h *Handler) HandleStatus(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.engine.Status())
}
