// Package tools implements the MCP tool handlers of the detection engine.
//
// Each tool is a struct holding its dependencies, with Definition()
// returning the mcp.Tool schema and Handle() processing a call. One file
// per tool. Failures become tool error results, never Go errors, so the
// caller always gets a readable message.
package tools

import (
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/HendryAvila/anastrophex/internal/engine"
)

// intArg extracts an integer argument, returning defaultVal when the key is
// missing. Numbers arrive as float64 and numeric strings are accepted.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) (int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return defaultVal, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("'%s' must be an integer", key)
	}
	return n, nil
}

// boolArg extracts a required boolean argument. "true"/"false" strings are
// accepted.
func boolArg(req mcp.CallToolRequest, key string) (bool, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return false, fmt.Errorf("'%s' is required", key)
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("'%s' must be a boolean", key)
	}
	return b, nil
}

// objectArg extracts an optional JSON object argument.
func objectArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("'%s' must be an object", key)
	}
	return m, nil
}

// timeArg extracts an optional timestamp: RFC 3339 text or unix seconds.
func timeArg(req mcp.CallToolRequest, key string) (time.Time, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil || v == "" {
		return time.Time{}, nil
	}
	if f, ok := v.(float64); ok {
		v = int64(f)
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("'%s' must be an RFC 3339 timestamp or unix seconds", key)
	}
	return t.UTC(), nil
}

// jsonResult renders a versioned result struct.
func jsonResult(v any) *mcp.CallToolResult {
	res, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err))
	}
	return res
}

// errorResult turns an engine error into a tool error with a hint the
// caller can act on.
func errorResult(err error) *mcp.CallToolResult {
	var ref *engine.UnknownReferenceError
	switch {
	case errors.As(err, &ref) && ref.Kind == engine.RefPattern:
		return mcp.NewToolResultError(err.Error() + ". Read anastrophex://patterns/all for the known pattern ids.")
	case errors.As(err, &ref) && ref.Kind == engine.RefIntervention:
		return mcp.NewToolResultError(err.Error() + ". Use the intervention_id returned by request_intervention.")
	case errors.As(err, &ref) && ref.Kind == engine.RefAlert:
		return mcp.NewToolResultError(err.Error() + ". Read anastrophex://alerts/active for the alerts awaiting a decision.")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}
