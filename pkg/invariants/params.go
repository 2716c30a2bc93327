package invariants

import (
	"fmt"
	"strconv"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Parameters arrive from YAML or JSON, so numbers may be int, float64 or a
// numeric string.

func paramFloat(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: param %s: %v", contracts.ErrMalformed, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: param %s: want number, got %T", contracts.ErrMalformed, key, v)
	}
}

func paramInt(params map[string]any, key string, def int) (int, error) {
	f, err := paramFloat(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%w: param %s: want integer, got %v", contracts.ErrMalformed, key, f)
	}
	return int(f), nil
}

func paramString(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: param %s: want string, got %T", contracts.ErrMalformed, key, v)
	}
	return s, nil
}

func paramStrings(params map[string]any, key string, def []string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case string:
		return []string{list}, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: param %s: want string list, got element %T", contracts.ErrMalformed, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: param %s: want string list, got %T", contracts.ErrMalformed, key, v)
	}
}

// paramScopes reads an action -> scope list mapping.
func paramScopes(params map[string]any, key string) (map[string][]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: param %s: want mapping, got %T", contracts.ErrMalformed, key, v)
	}
	out := make(map[string][]string, len(raw))
	for action := range raw {
		scopes, err := paramStrings(raw, action, nil)
		if err != nil {
			return nil, err
		}
		out[action] = scopes
	}
	return out, nil
}
