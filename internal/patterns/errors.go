package patterns

import (
	"fmt"
	"strings"
)

// ConfigurationError reports malformed pattern definitions found while
// loading a registry. A process must refuse to start on one; a hot reload
// that produces one is rejected and the previous registry stays active.
type ConfigurationError struct {
	Source   string   `json:"source"`
	Problems []string `json:"problems"`
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("pattern registry %s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("pattern registry %s: %d problems:\n  - %s",
		e.Source, len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *ConfigurationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}
