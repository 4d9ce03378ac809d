package schema

import (
	"fmt"
)

// Field captures the behavior-relevant properties of one output column.
type Field struct {
	Name string
	// Nullable is set when at least one input dataset lacks the column, so
	// some combined rows carry a missing value for it.
	Nullable bool
}

// Schema is the ordered column contract of a combined dataset.
type Schema struct {
	Fields []Field
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Index maps each column name to its position in the schema.
func (s Schema) Index() map[string]int {
	out := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		out[f.Name] = i
	}
	return out
}

// Union aligns headers by column name. Columns appear in the order they are
// first seen across headers.
func Union(headers ...[]string) Schema {
	var s Schema
	pos := make(map[string]int)
	seenIn := make(map[string]int)
	for _, h := range headers {
		inThis := make(map[string]bool, len(h))
		for _, name := range h {
			if inThis[name] {
				continue
			}
			inThis[name] = true
			if _, ok := pos[name]; !ok {
				pos[name] = len(s.Fields)
				s.Fields = append(s.Fields, Field{Name: name})
			}
			seenIn[name]++
		}
	}
	for i := range s.Fields {
		s.Fields[i].Nullable = seenIn[s.Fields[i].Name] < len(headers)
	}
	return s
}

// NormalizeHeader makes a raw CSV header usable as a set of column names.
// Blank names become "Unnamed: <index>" and repeated names get ".1", ".2", ...
// suffixes, skipping any suffix already taken by another column.
func NormalizeHeader(raw []string) []string {
	names := make([]string, len(raw))
	for i, name := range raw {
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		names[i] = name
	}

	counts := make(map[string]int, len(names))
	for i, name := range names {
		cur := counts[name]
		for cur > 0 {
			counts[name] = cur + 1
			name = fmt.Sprintf("%s.%d", name, cur)
			cur = counts[name]
		}
		names[i] = name
		counts[name] = cur + 1
	}
	return names
}
