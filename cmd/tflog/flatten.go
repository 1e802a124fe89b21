package main

import (
	"fmt"
	"sort"
	"strconv"
)

const (
	flattenMaxDepth = 16
	flattenMaxKeys  = 500
)

type field struct {
	Path  string
	Value any
}

// flatten lists the leaves of a decoded JSON value as dotted paths ("a.b[0].c"), sorted
// by path. Output stops at maxKeys leaves; anything deeper than maxDepth is elided.
func flatten(value any, maxDepth, maxKeys int) []field {
	if maxDepth <= 0 {
		maxDepth = flattenMaxDepth
	}
	if maxKeys <= 0 {
		maxKeys = flattenMaxKeys
	}
	w := &flattener{maxDepth: maxDepth, maxKeys: maxKeys}
	w.walk("", value, 0)
	sort.Slice(w.out, func(i, j int) bool { return w.out[i].Path < w.out[j].Path })
	return w.out
}

type flattener struct {
	maxDepth int
	maxKeys  int
	out      []field
}

func (w *flattener) full() bool { return len(w.out) >= w.maxKeys }

func (w *flattener) walk(prefix string, value any, depth int) {
	if w.full() {
		return
	}
	if depth > w.maxDepth {
		w.out = append(w.out, field{prefix, fmt.Sprintf("<max_depth:%d>", w.maxDepth)})
		return
	}

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			w.walk(key, v[k], depth+1)
			if w.full() {
				return
			}
		}
	case []any:
		for i, child := range v {
			key := prefix + "[" + strconv.Itoa(i) + "]"
			w.walk(key, child, depth+1)
			if w.full() {
				return
			}
		}
	default:
		if prefix == "" {
			prefix = "value"
		}
		w.out = append(w.out, field{prefix, v})
	}
}
