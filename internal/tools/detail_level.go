package tools

import (
	"fmt"

	"github.com/HendryAvila/anastrophex/internal/history"
)

// Detail levels for tools that return recorded events.
//   - summary: sequence, time, tool name and outcome only
//   - standard: arguments included, long string values truncated
//   - full: arguments untouched
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// maxArgChars bounds one argument value at standard detail.
const maxArgChars = 200

// DetailLevelValues returns the enum values for tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level string, defaulting to
// standard for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// applyDetail trims the events in place for level.
func applyDetail(events []history.Event, level string) {
	for i := range events {
		switch level {
		case DetailSummary:
			events[i].Args = nil
		case DetailStandard:
			for k, v := range events[i].Args {
				s, ok := v.(string)
				if !ok {
					continue
				}
				events[i].Args[k] = truncate(s, maxArgChars)
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// navigationHint returns a one-line hint when a limit cut the result short.
func navigationHint(showing, total int) string {
	if total <= 0 || showing >= total {
		return ""
	}
	return fmt.Sprintf("showing %d of %d events; raise limit for more", showing, total)
}
