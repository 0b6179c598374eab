package main

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/dekarrin/jelstor/row"
	"github.com/goccy/go-json"
)

// readRows decodes a JSON document holding either a single object or an array
// of objects into rows, one per object. Object keys become columns in sorted
// order. Numbers without a fraction or exponent become INTEGER values, other
// numbers REAL. Nested arrays and objects are stored as their JSON text.
func readRows(r io.Reader) ([]*row.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var objs []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '{' {
		var single map[string]any
		if err := dec.Decode(&single); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		objs = []map[string]any{single}
	} else {
		if err := dec.Decode(&objs); err != nil {
			return nil, fmt.Errorf("decode array of objects: %w", err)
		}
	}

	rows := make([]*row.Row, len(objs))
	for i, obj := range objs {
		if obj == nil {
			return nil, fmt.Errorf("object %d: null is not an object", i)
		}
		r, err := objectToRow(obj)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		rows[i] = &r
	}

	return rows, nil
}

func objectToRow(obj map[string]any) (row.Row, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var r row.Row
	for _, k := range keys {
		v, err := jsonValue(obj[k])
		if err != nil {
			return row.Row{}, fmt.Errorf("column %q: %w", k, err)
		}
		r.Set(k, v)
	}
	return r, nil
}

func jsonValue(v any) (row.Value, error) {
	switch typed := v.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return row.Int(n), nil
		}
		f, err := typed.Float64()
		if err != nil {
			return row.Value{}, fmt.Errorf("number %s: %w", typed, err)
		}
		return row.Float(f), nil
	case map[string]any, []any:
		text, err := json.Marshal(typed)
		if err != nil {
			return row.Value{}, err
		}
		return row.String(string(text)), nil
	default:
		return row.ValueOf(v)
	}
}
