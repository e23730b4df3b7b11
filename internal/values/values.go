// Package values loads layered key/value maps from config and secrets
// directories.
package values

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mask replaces secret values anywhere they are displayed.
const Mask = "******"

// Values is a flat string map. Merging is last-write-wins.
type Values map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge copies every entry of other into v, overwriting existing keys.
func (v Values) Merge(other Values) {
	for k, val := range other {
		v[k] = val
	}
}

// Keys returns the keys in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns v as a plain map for template and env consumers.
func (v Values) Map() map[string]string {
	return map[string]string(v)
}

// Parse reads KEY=VALUE lines. Each line is trimmed and split on its first
// '='; lines without one are skipped. Keys and values are kept verbatim, so
// "k = v" yields key "k " and value " v".
func Parse(content string) Values {
	out := Values{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

// flatten turns decoded structured documents into dotless keys joined with
// '_': {"db": {"host": "x"}} becomes db_host=x; list items use their index.
func flatten(prefix string, node any, out Values) {
	switch typed := node.(type) {
	case map[string]any:
		for k, v := range typed {
			flatten(joinKey(prefix, k), v, out)
		}
	case map[any]any:
		for k, v := range typed {
			flatten(joinKey(prefix, fmt.Sprint(k)), v, out)
		}
	case []any:
		for i, v := range typed {
			flatten(joinKey(prefix, fmt.Sprint(i)), v, out)
		}
	case []map[string]any:
		for i, v := range typed {
			flatten(joinKey(prefix, fmt.Sprint(i)), v, out)
		}
	case nil:
		if prefix != "" {
			out[prefix] = ""
		}
	case time.Time:
		out[prefix] = typed.Format(time.RFC3339)
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprint(typed)
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}
