// Package tree reads values out of generic JSON-like trees (maps, slices and
// scalars) by dotted path. Lookups never panic: a missing key, an index out of
// range or a nil leaf all report the value as absent.
package tree

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// IndexPlaceholder marks the path segment replaced by SubstituteIndex.
const IndexPlaceholder = "X"

// Get returns the value at path and whether it is present.
func Get(root any, path string) (any, bool) {
	return GetSegments(root, Split(path))
}

// GetSegments walks pre-split path segments.
func GetSegments(root any, segments []string) (any, bool) {
	current := root
	for _, seg := range segments {
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	if isNil(current) {
		return nil, false
	}
	return current, true
}

// Lookup is Get without the presence flag; absent values come back as nil.
func Lookup(root any, path string) any {
	v, _ := Get(root, path)
	return v
}

// Split turns "a.b[2].c" into ["a", "b", "2", "c"].
func Split(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	raw := strings.Split(path, ".")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// SubstituteIndex replaces the ".X." segment, a trailing ".X" and "[X]" with idx.
func SubstituteIndex(path string, idx int) string {
	n := strconv.Itoa(idx)
	path = strings.ReplaceAll(path, "["+IndexPlaceholder+"]", "["+n+"]")
	path = strings.ReplaceAll(path, "."+IndexPlaceholder+".", "."+n+".")
	if strings.HasSuffix(path, "."+IndexPlaceholder) {
		path = strings.TrimSuffix(path, IndexPlaceholder) + n
	}
	return path
}

func step(current any, seg string) (any, bool) {
	switch node := current.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case []any:
		i, ok := index(seg, len(node))
		if !ok {
			return nil, false
		}
		return node[i], true
	case []map[string]any:
		i, ok := index(seg, len(node))
		if !ok {
			return nil, false
		}
		return node[i], true
	}
	return reflectStep(reflect.ValueOf(current), seg)
}

func reflectStep(rv reflect.Value, seg string) (any, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, ok := index(seg, rv.Len())
		if !ok {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

func index(seg string, length int) (int, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Set writes value at a dotted path inside root, creating intermediate maps.
// Only map segments are supported; a non-map in the way is an error.
func Set(root map[string]any, path string, value any) error {
	segments := Split(path)
	if root == nil || len(segments) == 0 {
		return fmt.Errorf("tree: cannot set %q", path)
	}
	current := root
	for i, seg := range segments[:len(segments)-1] {
		next, ok := current[seg]
		if !ok || next == nil {
			created := map[string]any{}
			current[seg] = created
			current = created
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("tree: %s is %T, not an object", strings.Join(segments[:i+1], "."), next)
		}
		current = m
	}
	current[segments[len(segments)-1]] = value
	return nil
}
