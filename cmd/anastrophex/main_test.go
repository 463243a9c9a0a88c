package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HendryAvila/anastrophex/internal/memory"
	"github.com/HendryAvila/anastrophex/internal/server"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, server.Version) {
		t.Errorf("output %q lacks version %q", out, server.Version)
	}
}

func TestPatterns_Default(t *testing.T) {
	out, err := execute(t, "patterns")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	for _, want := range []string{"ID", "black-formatting-loop", "repetition", "inline", "from default"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPatterns_WithDirectives(t *testing.T) {
	doc := writeFile(t, "directives.md", `# Directives

## run-formatter

Run the formatter before touching whitespace again.

## nobody-uses-this

Orphan section.
`)
	out, err := execute(t, "patterns", "--directives", doc)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if !strings.Contains(out, "document") {
		t.Errorf("run-formatter should resolve from the document:\n%s", out)
	}
	if !strings.Contains(out, `"nobody-uses-this" matches no pattern`) {
		t.Errorf("orphan section not reported:\n%s", out)
	}
}

func TestPatterns_InvalidFile(t *testing.T) {
	path := writeFile(t, "patterns.yaml", `patterns:
  - id: Bad ID
    name: broken
    rule:
      kind: repetition
      tool: Edit
      threshold: 1
`)
	if _, err := execute(t, "patterns", path); err == nil {
		t.Fatal("invalid catalogue should fail")
	}
}

func TestExport(t *testing.T) {
	dataDir := t.TempDir()
	cfgFile := writeFile(t, "config.yaml", "data_dir: "+dataDir+"\n")

	out, err := execute(t, "--config", cfgFile, "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var data memory.ExportData
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("export output is not JSON: %v\n%s", err, out)
	}
	if data.Version == "" {
		t.Error("export should carry a format version")
	}
	if len(data.Outcomes) != 0 || len(data.Alerts) != 0 {
		t.Errorf("fresh store exported %d outcomes, %d alerts", len(data.Outcomes), len(data.Alerts))
	}
	if _, err := os.Stat(filepath.Join(dataDir, "anastrophex.db")); err != nil {
		t.Errorf("database not created in data_dir: %v", err)
	}
}

func TestExport_BadConfig(t *testing.T) {
	cfgFile := writeFile(t, "config.yaml", "history:\n  max_events: -1\n")
	if _, err := execute(t, "--config", cfgFile, "export"); err == nil {
		t.Fatal("invalid config should fail")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		if err != nil {
			t.Errorf("newLogger(%q): %v", level, err)
			continue
		}
		_ = logger.Sync()
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("unknown level should fail")
	}
}
