package formatter

import (
	"fmt"
	"strings"
)

// lookup resolves a dotted path against a record whose keys may be flat dotted
// paths, nested objects, or a mix of both. Lists of objects met along the way
// are fanned out and their values concatenated in order. found is false when no
// element of the path exists. An error means the path ran into a scalar.
func lookup(m map[string]any, path string) (value any, found bool, err error) {
	return walk(m, strings.Split(path, "."))
}

func walk(m map[string]any, parts []string) (any, bool, error) {
	// Prefer the longest flat key so "a.b.c" beats nested a -> b -> c.
	for i := len(parts); i > 0; i-- {
		key := strings.Join(parts[:i], ".")
		v, ok := m[key]
		if !ok {
			continue
		}
		if i == len(parts) {
			return v, true, nil
		}
		return descend(v, parts[i:])
	}
	return nil, false, nil
}

func descend(v any, rest []string) (any, bool, error) {
	switch node := v.(type) {
	case nil:
		return nil, false, nil
	case map[string]any:
		return walk(node, rest)
	case []any:
		var (
			collected []any
			found     bool
		)
		for idx, item := range node {
			if item == nil {
				continue
			}
			child, ok := item.(map[string]any)
			if !ok {
				return nil, false, fmt.Errorf("element %d under %q is %T, not an object", idx, strings.Join(rest, "."), item)
			}
			val, itemFound, err := walk(child, rest)
			if err != nil {
				return nil, false, err
			}
			if !itemFound || val == nil {
				continue
			}
			found = true
			if list, isList := val.([]any); isList {
				collected = append(collected, list...)
			} else {
				collected = append(collected, val)
			}
		}
		return collected, found, nil
	default:
		return nil, false, fmt.Errorf("expected object before %q, got %T", strings.Join(rest, "."), v)
	}
}

// present mirrors the source API's notion of "no value": nil, empty string
// and empty list all count as absent.
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	default:
		return true
	}
}
