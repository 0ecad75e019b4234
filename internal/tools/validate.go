package tools

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ArgumentError describes arguments that do not match a tool's input schema.
type ArgumentError struct {
	Tool     string
	Problems []string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ValidateArguments checks args against the tool's input schema: required
// properties must be present and non-null, and every declared property must
// match its JSON type. Undeclared properties are ignored.
func ValidateArguments(tool mcp.Tool, args map[string]any) error {
	var problems []string

	for _, name := range tool.InputSchema.Required {
		if v, ok := args[name]; !ok || v == nil {
			problems = append(problems, fmt.Sprintf("missing required argument %q", name))
		}
	}

	for name, raw := range tool.InputSchema.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if want == "" {
			continue
		}
		if !matchesType(want, v) {
			problems = append(problems, fmt.Sprintf("argument %q must be of type %s", name, want))
			continue
		}
		if enum, ok := prop["enum"].([]string); ok && len(enum) > 0 {
			if s, _ := v.(string); !slices.Contains(enum, s) {
				problems = append(problems, fmt.Sprintf("argument %q must be one of %s", name, strings.Join(enum, ", ")))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	// Properties is a map; keep messages stable.
	sort.Strings(problems)
	return &ArgumentError{Tool: tool.Name, Problems: problems}
}

// matchesType reports whether v, as decoded by encoding/json, has JSON type t.
func matchesType(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
