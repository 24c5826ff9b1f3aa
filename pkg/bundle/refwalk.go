package bundle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/davidthor/bundlefix/pkg/model"
)

// rewriteRefs replaces {"__ref": from} with {"__ref": to} anywhere in a
// decoded JSON value.
func rewriteRefs(v interface{}, remap map[model.ID]model.ID) (interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		if target, ok := refTarget(t); ok {
			if to, hit := remap[model.ID(target)]; hit {
				return map[string]interface{}{"__ref": string(to)}, true
			}
			return t, false
		}
		changed := false
		for k, child := range t {
			out, c := rewriteRefs(child, remap)
			if c {
				t[k] = out
				changed = true
			}
		}
		return t, changed
	case []interface{}:
		changed := false
		for i, child := range t {
			out, c := rewriteRefs(child, remap)
			if c {
				t[i] = out
				changed = true
			}
		}
		return t, changed
	}
	return v, false
}

// collectRefs appends every reference target found in v.
func collectRefs(v interface{}, into []string) []string {
	switch t := v.(type) {
	case map[string]interface{}:
		if target, ok := refTarget(t); ok {
			return append(into, target)
		}
		for _, child := range t {
			into = collectRefs(child, into)
		}
	case []interface{}:
		for _, child := range t {
			into = collectRefs(child, into)
		}
	}
	return into
}

func refTarget(m map[string]interface{}) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	s, ok := m["__ref"].(string)
	return s, ok
}

// checkDangling fails when any object in the map references an address that
// is not in the map.
func checkDangling(objects map[string]json.RawMessage) error {
	addrs := make([]string, 0, len(objects))
	for addr := range objects {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		var v interface{}
		if err := json.Unmarshal(objects[addr], &v); err != nil {
			return fmt.Errorf("object %s: %w", addr, err)
		}
		for _, target := range collectRefs(v, nil) {
			if _, ok := objects[target]; !ok {
				return fmt.Errorf("object %s references missing object %s", addr, target)
			}
		}
	}
	return nil
}
