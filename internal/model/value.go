package model

import (
	"encoding/json"
	"strings"
)

// Equal reports structural equality of two JSON-shaped values. Objects
// compare key by key regardless of order, arrays element by element, and
// numbers by value regardless of their Go numeric type.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	// Structs and other typed values are compared in their JSON form.
	if !known(a) || !known(b) {
		na, errA := Normalize(a)
		nb, errB := Normalize(b)
		if errA != nil || errB != nil || !known(na) || !known(nb) {
			return false
		}
		return Equal(na, nb)
	}

	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	if am, ok := toObject(a); ok {
		bm, ok := toObject(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			w, ok := bm[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}

	if as, ok := toArray(a); ok {
		bs, ok := toArray(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return false
}

// known reports whether Equal can compare v without normalizing it.
func known(v any) bool {
	if v == nil {
		return true
	}
	if _, ok := toFloat(v); ok {
		return true
	}
	switch v.(type) {
	case string, bool, map[string]any, []any, []string, []float64:
		return true
	default:
		return false
	}
}

// HasValue reports whether v carries information: nil, blank strings,
// empty arrays and empty objects do not.
func HasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	if m, ok := toObject(v); ok {
		return len(m) > 0
	}
	if s, ok := toArray(v); ok {
		return len(s) > 0
	}
	return true
}

// Normalize converts v into its generic JSON form (map[string]any, []any,
// float64, string, bool, nil).
func Normalize(v any) (any, error) {
	if isGeneric(v) {
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloneValue deep-copies a JSON-shaped value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func isGeneric(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return true
	case map[string]any:
		for _, val := range t {
			if !isGeneric(val) {
				return false
			}
		}
		return true
	case []any:
		for _, val := range t {
			if !isGeneric(val) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}
