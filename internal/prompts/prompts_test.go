package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/anastrophex/internal/engine"
	"github.com/HendryAvila/anastrophex/internal/patterns"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg, err := patterns.Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return engine.New(engine.DefaultConfig(), reg)
}

func promptReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func messageText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(res.Messages))
	}
	if res.Messages[0].Role != mcp.RoleUser {
		t.Errorf("role = %q, want user", res.Messages[0].Role)
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want text", res.Messages[0].Content)
	}
	return tc.Text
}

func TestInterventionPrompt_Definition(t *testing.T) {
	def := NewInterventionPrompt(newTestEngine(t)).Definition()
	if def.Name != "anastrophex-intervene" {
		t.Errorf("name = %q", def.Name)
	}
	if len(def.Arguments) != 1 || def.Arguments[0].Name != "pattern_id" || !def.Arguments[0].Required {
		t.Errorf("arguments = %+v, want required pattern_id", def.Arguments)
	}
}

func TestInterventionPrompt_RendersDirective(t *testing.T) {
	p := NewInterventionPrompt(newTestEngine(t))

	res, err := p.Handle(context.Background(), promptReq(map[string]string{"pattern_id": "black-formatting-loop"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := messageText(t, res)
	for _, want := range []string{"Black Formatting Loop", "formatter", "report_outcome", "black-formatting-loop"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q:\n%s", want, text)
		}
	}
}

func TestInterventionPrompt_NoDirectiveFallback(t *testing.T) {
	p := NewInterventionPrompt(newTestEngine(t))

	res, err := p.Handle(context.Background(), promptReq(map[string]string{"pattern_id": "read-edit-revert"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(messageText(t, res), "different approach") {
		t.Error("pattern without directive should get the generic fallback")
	}
}

func TestInterventionPrompt_Errors(t *testing.T) {
	p := NewInterventionPrompt(newTestEngine(t))

	if _, err := p.Handle(context.Background(), promptReq(nil)); err == nil {
		t.Error("missing pattern_id should fail")
	}
	if _, err := p.Handle(context.Background(), promptReq(map[string]string{"pattern_id": "nope"})); err == nil {
		t.Error("unknown pattern should fail")
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if p.Definition().Name != "anastrophex-status" {
		t.Errorf("name = %q", p.Definition().Name)
	}
	res, err := p.Handle(context.Background(), promptReq(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(messageText(t, res), "anastrophex://alerts/active") {
		t.Error("status prompt should point at the active alerts resource")
	}
}
