package sdr

import (
	"bytes"
	"encoding/json"
	"strings"
)

const excludeMarker = "cloud-test"

// Excluded reports whether the pop is an internal test cluster. Any key or
// string value at any depth containing "cloud-test" marks it.
func (p Pop) Excluded() bool {
	found := false
	walk(p.Raw, func(key string, value any) bool {
		if strings.Contains(key, excludeMarker) {
			found = true
		} else if s, ok := value.(string); ok && strings.Contains(s, excludeMarker) {
			found = true
		}
		return !found
	})
	return found
}

// Partner reports whether the pop uses partner routing: a field whose key
// ends in "partners" holding a number that starts with 2.
func (p Pop) Partner() bool {
	found := false
	walk(p.Raw, func(key string, value any) bool {
		n, ok := value.(json.Number)
		if ok && strings.HasSuffix(key, "partners") && strings.HasPrefix(n.String(), "2") {
			found = true
		}
		return !found
	})
	return found
}

// walk visits every object member and array element of a JSON value.
// Array elements are visited with an empty key. Returning false stops the walk.
func walk(raw json.RawMessage, visit func(key string, value any) bool) {
	if len(raw) == 0 {
		return
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return
	}
	walkValue("", root, visit)
}

func walkValue(key string, value any, visit func(string, any) bool) bool {
	if !visit(key, value) {
		return false
	}
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			if !walkValue(k, child, visit) {
				return false
			}
		}
	case []any:
		for _, child := range v {
			if !walkValue("", child, visit) {
				return false
			}
		}
	}
	return true
}
