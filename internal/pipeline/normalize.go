package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize turns a raw engine result into text. ok is false when the engine
// produced nothing usable and recovery should be attempted.
func Normalize(raw any) (text string, ok bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	case []string:
		if len(v) == 0 {
			return "", false
		}
		return v[0], true
	case []any:
		if len(v) == 0 {
			return "", false
		}
		return stringify(v[0]), true
	case map[string]any:
		if t, found := v["text"]; found {
			return stringify(t), true
		}
		return stringify(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return stringify(v), true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
