package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Field is a single changed attribute.
type Field struct {
	Name  string
	Value any
}

// Changes is an ordered field -> value mapping. It encodes as a JSON object
// and keeps its key order across encode/decode.
type Changes []Field

// Get returns the value stored under name.
func (c Changes) Get(name string) (any, bool) {
	for _, f := range c {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing field or appends a new one.
func (c *Changes) Set(name string, value any) {
	for i := range *c {
		if (*c)[i].Name == name {
			(*c)[i].Value = value
			return
		}
	}
	*c = append(*c, Field{Name: name, Value: value})
}

func (c Changes) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("changes: field %q: %w", f.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *Changes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("changes: expected JSON object")
	}

	out := Changes{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("changes: unexpected key token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("changes: field %q: %w", name, err)
		}
		out.Set(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*c = out
	return nil
}

// normalize round-trips the values through JSON so that the in-memory entry
// holds exactly what a reader gets back from the store.
func (c Changes) normalize() (Changes, error) {
	if len(c) == 0 {
		return nil, nil
	}
	raw, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out Changes
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return out, nil
}

// sorted returns the changes as a plain map; encoding/json writes map keys
// in sorted order, which makes it the canonical form.
func (c Changes) sorted() map[string]any {
	m := make(map[string]any, len(c))
	for _, f := range c {
		m[f.Name] = f.Value
	}
	return m
}

// Diff returns only the fields whose value differs between before and after,
// sorted by name. Fields removed in after are reported with a nil value.
func Diff(before, after map[string]any) Changes {
	names := make([]string, 0, len(after))
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			names = append(names, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	out := make(Changes, 0, len(names))
	for _, k := range names {
		out = append(out, Field{Name: k, Value: after[k]})
	}
	return out
}
