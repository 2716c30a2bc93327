package runner

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
)

var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// scope resolves ${name} references. Plain names come from scenario
// variables; dotted names address a prior node's output as
// ${node_id.field}.
type scope struct {
	vars    map[string]any
	outputs map[string]map[string]any
}

func (s scope) lookup(ref string) (any, bool) {
	if v, ok := s.vars[ref]; ok {
		return v, true
	}
	node, field, dotted := strings.Cut(ref, ".")
	if !dotted {
		return nil, false
	}
	out, ok := s.outputs[node]
	if !ok {
		return nil, false
	}
	v, ok := out[field]
	return v, ok
}

// expandValue substitutes references inside strings, recursing into maps
// and slices. A string that is exactly one reference takes the referenced
// value with its type intact; references embedded in longer text are
// formatted. Unresolvable references are left as written.
func (s scope) expandValue(v any) any {
	switch t := v.(type) {
	case string:
		if m := refPattern.FindStringSubmatch(t); m != nil && m[0] == t {
			if val, ok := s.lookup(m[1]); ok {
				return val
			}
			return t
		}
		return refPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := match[2 : len(match)-1]
			if val, ok := s.lookup(name); ok {
				return fmt.Sprint(val)
			}
			return match
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = s.expandValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = s.expandValue(inner)
		}
		return out
	default:
		return v
	}
}

// mergeInputs expands the node's static inputs and overlays the scenario's
// bindings; scenario values take precedence.
func mergeInputs(static map[string]any, s scope, overrides ...map[string]any) map[string]any {
	out := make(map[string]any, len(static))
	for k, v := range static {
		out[k] = s.expandValue(v)
	}
	for _, o := range overrides {
		maps.Copy(out, o)
	}
	return out
}
