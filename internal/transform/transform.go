// Package transform implements the declarative field mapping applied to
// request and response payloads.
//
// A spec is a JSON object mapping output field names to either a literal
// value or a path string starting with "$." that is resolved against the
// input:
//
//	{"id": "$.data.user.id", "source": "gateway"}
//
// Path segments walk objects by key and arrays by decimal index. A missing
// segment resolves to null rather than failing.
package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PathPrefix marks a string value as a field path
const PathPrefix = "$."

// ErrNotObject is returned by Parse when a transform spec is not a JSON object
var ErrNotObject = errors.New("transform spec must be a JSON object")

// Field is one output field of a spec. Exactly one of Literal or Path is
// meaningful, selected by IsPath.
type Field struct {
	Name    string
	IsPath  bool
	Path    []string
	Literal any
}

// Spec is a parsed field mapping
type Spec struct {
	fields []Field
}

// Parse parses a raw spec. Empty or JSON null input yields a nil spec, which
// passes values through unchanged.
func Parse(raw []byte) (*Spec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("invalid transform spec: %w", err)
	}
	if obj == nil {
		return nil, ErrNotObject
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	spec := &Spec{fields: make([]Field, 0, len(names))}
	for _, name := range names {
		spec.fields = append(spec.fields, newField(name, obj[name]))
	}
	return spec, nil
}

func newField(name string, v any) Field {
	if s, ok := v.(string); ok && strings.HasPrefix(s, PathPrefix) {
		return Field{Name: name, IsPath: true, Path: strings.Split(s[len(PathPrefix):], ".")}
	}
	return Field{Name: name, Literal: v}
}

// Fields returns the parsed fields in name order
func (s *Spec) Fields() []Field {
	if s == nil {
		return nil
	}
	return s.fields
}

// Apply builds the mapped output for v. A nil spec returns v unchanged.
func (s *Spec) Apply(v any) any {
	if s == nil {
		return v
	}
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		if f.IsPath {
			out[f.Name] = Lookup(v, f.Path)
		} else {
			out[f.Name] = f.Literal
		}
	}
	return out
}

// Lookup walks path through v. Any missing segment yields nil.
func Lookup(v any, path []string) any {
	cur := v
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}
