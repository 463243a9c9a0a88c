package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/HendryAvila/anastrophex/internal/engine"
	"github.com/HendryAvila/anastrophex/internal/patterns"
)

// --- Test helpers ---

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg, err := patterns.NewRegistry("test", []patterns.Definition{{
		ID:        "repeat-edit",
		Name:      "Repeat edit",
		Directive: "Run the formatter instead.",
		Rule: patterns.Rule{
			Kind:      patterns.KindRepetition,
			Tool:      "manual_edit",
			Threshold: 3,
			Window:    5 * time.Minute,
			GroupBy:   "file_path",
			ResetOn:   []string{"format"},
		},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return engine.New(engine.DefaultConfig(), reg, engine.WithLogger(zaptest.NewLogger(t)))
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// decode unmarshals the JSON text of a successful result.
func decode(t *testing.T, r *mcp.CallToolResult, err error, into any) {
	t.Helper()
	mustNotError(t, r, err)
	if err := json.Unmarshal([]byte(resultText(r)), into); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, resultText(r))
	}
}

// mustNotError asserts the Handle call returns no Go error and no tool error.
func mustNotError(t *testing.T, r *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
}

// mustBeToolError asserts the Handle call returns a tool error (not a Go error).
func mustBeToolError(t *testing.T, r *mcp.CallToolResult, err error, wantSubstr string) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !r.IsError {
		t.Fatalf("expected tool error containing %q, got success: %s", wantSubstr, resultText(r))
	}
	if wantSubstr != "" && !strings.Contains(resultText(r), wantSubstr) {
		t.Errorf("error text %q does not contain %q", resultText(r), wantSubstr)
	}
}

func recordEdits(t *testing.T, e *engine.Engine, session, file string, n int) engine.RecordResult {
	t.Helper()
	tool := NewRecordTool(e)
	var last engine.RecordResult
	for range n {
		r, err := tool.Handle(context.Background(), makeReq(map[string]any{
			"tool_name":  "manual_edit",
			"session_id": session,
			"arguments":  map[string]any{"file_path": file},
		}))
		decode(t, r, err, &last)
	}
	return last
}

// --- Definitions ---

func TestDefinitions(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewRecordTool(e).Definition(), "record_tool_call", []string{"tool_name"}},
		{NewTagTool(e).Definition(), "tag_tool_call", []string{"seq", "outcome"}},
		{NewInterventionTool(e).Definition(), "request_intervention", []string{"pattern_id"}},
		{NewOutcomeTool(e).Definition(), "report_outcome", []string{"pattern_id", "intervention_id", "worked"}},
		{NewQueryTool(e).Definition(), "query_pattern_history", []string{"signature"}},
		{NewRecentTool(e).Definition(), "recent_tool_calls", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.def.Name != tt.name {
				t.Errorf("tool name = %q, want %q", tt.def.Name, tt.name)
			}
			if tt.def.Description == "" {
				t.Error("description is empty")
			}
			for _, want := range tt.required {
				if _, ok := tt.def.InputSchema.Properties[want]; !ok {
					t.Errorf("missing %q parameter", want)
				}
				found := false
				for _, r := range tt.def.InputSchema.Required {
					if r == want {
						found = true
					}
				}
				if !found {
					t.Errorf("%q should be required", want)
				}
			}
		})
	}
}

// --- record_tool_call ---

func TestRecordTool_DetectsPattern(t *testing.T) {
	e := newTestEngine(t)

	res := recordEdits(t, e, "s1", "main.py", 3)
	if res.Event.Seq != 3 {
		t.Errorf("seq = %d, want 3", res.Event.Seq)
	}
	if len(res.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(res.Alerts))
	}
	if res.Alerts[0].Fingerprint != "repeat-edit#main.py" {
		t.Errorf("fingerprint = %q", res.Alerts[0].Fingerprint)
	}
	if res.Version != engine.ResultVersion {
		t.Errorf("version = %d, want %d", res.Version, engine.ResultVersion)
	}
}

func TestRecordTool_Validation(t *testing.T) {
	tool := NewRecordTool(newTestEngine(t))

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing tool", map[string]any{}, "tool_name"},
		{"blank tool", map[string]any{"tool_name": "  "}, "tool_name"},
		{"bad arguments", map[string]any{"tool_name": "Edit", "arguments": "nope"}, "arguments"},
		{"bad timestamp", map[string]any{"tool_name": "Edit", "timestamp": "yesterday-ish"}, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tool.Handle(context.Background(), makeReq(tt.args))
			mustBeToolError(t, r, err, tt.want)
		})
	}
}

func TestRecordTool_Timestamp(t *testing.T) {
	tool := NewRecordTool(newTestEngine(t))

	var res engine.RecordResult
	r, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"tool_name": "Edit",
		"timestamp": "2025-03-01T09:00:00Z",
		"outcome":   "success",
	}))
	decode(t, r, err, &res)

	want := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if !res.Event.Time.Equal(want) {
		t.Errorf("time = %s, want %s", res.Event.Time, want)
	}
	if res.Event.Outcome != "success" {
		t.Errorf("outcome = %q, want success", res.Event.Outcome)
	}
	if res.Session != engine.DefaultSession {
		t.Errorf("session = %q, want default", res.Session)
	}
}

// --- tag_tool_call ---

func TestTagTool(t *testing.T) {
	e := newTestEngine(t)
	recordEdits(t, e, "s1", "a.py", 1)
	tool := NewTagTool(e)

	var res engine.TagResult
	r, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"seq": float64(1), "outcome": "failure", "session_id": "s1",
	}))
	decode(t, r, err, &res)
	if res.Event.Outcome != "failure" {
		t.Errorf("outcome = %q, want failure", res.Event.Outcome)
	}

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{
		"seq": float64(1), "outcome": "success", "session_id": "s1",
	}))
	mustBeToolError(t, r, err, "already tagged")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"outcome": "success"}))
	mustBeToolError(t, r, err, "seq")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{
		"seq": float64(7), "outcome": "success", "session_id": "s1",
	}))
	mustBeToolError(t, r, err, "unknown event")
}

// --- request_intervention + report_outcome ---

func TestInterventionFlow(t *testing.T) {
	e := newTestEngine(t)
	recordEdits(t, e, "s1", "main.py", 3)

	var iv engine.Intervention
	r, err := NewInterventionTool(e).Handle(context.Background(), makeReq(map[string]any{
		"pattern_id": "repeat-edit", "session_id": "s1",
	}))
	decode(t, r, err, &iv)
	if iv.Decision != "intervene" {
		t.Fatalf("decision = %q, want intervene", iv.Decision)
	}
	if iv.Directive != "Run the formatter instead." {
		t.Errorf("directive = %q", iv.Directive)
	}
	if iv.InterventionID == "" {
		t.Fatal("intervention id should be generated")
	}

	var out engine.OutcomeResult
	r, err = NewOutcomeTool(e).Handle(context.Background(), makeReq(map[string]any{
		"pattern_id":      "repeat-edit",
		"intervention_id": iv.InterventionID,
		"worked":          true,
		"notes":           "ran black",
	}))
	decode(t, r, err, &out)
	if !out.Resolved {
		t.Error("alert should be resolved")
	}
	if out.Efficacy <= out.EfficacyBefore {
		t.Errorf("efficacy %v should exceed %v", out.Efficacy, out.EfficacyBefore)
	}

	var q engine.QueryResult
	r, err = NewQueryTool(e).Handle(context.Background(), makeReq(map[string]any{
		"signature": "repeat-edit#main.py", "context": "formatting",
	}))
	decode(t, r, err, &q)
	if !q.SeenBefore || q.PriorOccurrences != 1 {
		t.Errorf("seen_before = %v, prior = %d; want true, 1", q.SeenBefore, q.PriorOccurrences)
	}
	if q.LastNotes == nil || *q.LastNotes != "ran black" {
		t.Errorf("last_notes = %v, want ran black", q.LastNotes)
	}
}

func TestInterventionTool_Errors(t *testing.T) {
	tool := NewInterventionTool(newTestEngine(t))

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{}))
	mustBeToolError(t, r, err, "pattern_id")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"pattern_id": "nope"}))
	mustBeToolError(t, r, err, "anastrophex://patterns/all")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"pattern_id": "repeat-edit"}))
	mustBeToolError(t, r, err, "anastrophex://alerts/active")
}

func TestOutcomeTool_Errors(t *testing.T) {
	tool := NewOutcomeTool(newTestEngine(t))

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing pattern", map[string]any{"intervention_id": "x", "worked": true}, "pattern_id"},
		{"missing intervention", map[string]any{"pattern_id": "repeat-edit", "worked": true}, "intervention_id"},
		{"missing worked", map[string]any{"pattern_id": "repeat-edit", "intervention_id": "x"}, "worked"},
		{"bad worked", map[string]any{"pattern_id": "repeat-edit", "intervention_id": "x", "worked": "maybe"}, "boolean"},
		{"unknown intervention", map[string]any{"pattern_id": "repeat-edit", "intervention_id": "x", "worked": "true"}, "request_intervention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tool.Handle(context.Background(), makeReq(tt.args))
			mustBeToolError(t, r, err, tt.want)
		})
	}
}

// --- query_pattern_history ---

func TestQueryTool_UnseenPattern(t *testing.T) {
	tool := NewQueryTool(newTestEngine(t))

	var q engine.QueryResult
	r, err := tool.Handle(context.Background(), makeReq(map[string]any{"signature": "repeat-edit"}))
	decode(t, r, err, &q)
	if q.SeenBefore {
		t.Error("pattern was never seen")
	}
	if q.Efficacy != 0.5 {
		t.Errorf("efficacy = %v, want prior 0.5", q.Efficacy)
	}
	if !strings.Contains(resultText(r), `"last_notes":null`) {
		t.Error("last_notes should be serialized as null")
	}

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{}))
	mustBeToolError(t, r, err, "signature")
}

// --- recent_tool_calls ---

func TestRecentTool(t *testing.T) {
	e := newTestEngine(t)
	long := strings.Repeat("x", 500)
	recordEdits(t, e, "s1", long, 2)
	recordEdits(t, e, "s1", "b.py", 1)
	tool := NewRecentTool(e)

	t.Run("standard truncates", func(t *testing.T) {
		var res recentResult
		r, err := tool.Handle(context.Background(), makeReq(map[string]any{"session_id": "s1"}))
		decode(t, r, err, &res)
		if len(res.Events) != 3 {
			t.Fatalf("events = %d, want 3", len(res.Events))
		}
		got := res.Events[0].Args["file_path"].(string)
		if len(got) >= len(long) {
			t.Errorf("argument not truncated: %d chars", len(got))
		}
		if res.Detail != DetailStandard {
			t.Errorf("detail = %q, want standard", res.Detail)
		}
	})

	t.Run("summary drops args", func(t *testing.T) {
		var res recentResult
		r, err := tool.Handle(context.Background(), makeReq(map[string]any{
			"session_id": "s1", "detail_level": "summary", "limit": float64(1),
		}))
		decode(t, r, err, &res)
		if len(res.Events) != 1 || res.Events[0].Seq != 3 {
			t.Fatalf("want only seq 3, got %+v", res.Events)
		}
		if res.Events[0].Args != nil {
			t.Error("summary should drop arguments")
		}
		if !strings.Contains(res.Hint, "1 of 3") {
			t.Errorf("hint = %q", res.Hint)
		}
	})

	t.Run("full keeps args", func(t *testing.T) {
		var res recentResult
		r, err := tool.Handle(context.Background(), makeReq(map[string]any{
			"session_id": "s1", "detail_level": "full",
		}))
		decode(t, r, err, &res)
		if res.Events[0].Args["file_path"] != long {
			t.Error("full should return arguments untouched")
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		r, err := tool.Handle(context.Background(), makeReq(map[string]any{"limit": float64(0)}))
		mustBeToolError(t, r, err, "limit")
	})
}

func TestParseDetailLevel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"summary", DetailSummary},
		{"full", DetailFull},
		{"standard", DetailStandard},
		{"", DetailStandard},
		{"verbose", DetailStandard},
	}
	for _, tt := range tests {
		if got := ParseDetailLevel(tt.in); got != tt.want {
			t.Errorf("ParseDetailLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
