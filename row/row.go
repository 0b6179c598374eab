// Package row provides the flat row representation that is passed between a
// domain object and a row store, along with the Converter contract that
// produces and consumes it.
package row

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind is the type of scalar held in a Value.
type Kind int

const (
	Null Kind = iota
	Integer
	Real
	Text
	Blob
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "NULL"
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a single scalar column value. The zero value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// NullValue returns the NULL Value.
func NullValue() Value {
	return Value{}
}

// Int returns an INTEGER Value.
func Int(i int64) Value {
	return Value{kind: Integer, i: i}
}

// Float returns a REAL Value.
func Float(f float64) Value {
	return Value{kind: Real, f: f}
}

// String returns a TEXT Value.
func String(s string) Value {
	return Value{kind: Text, s: s}
}

// Bytes returns a BLOB Value. The slice is copied. A nil slice gives NULL.
func Bytes(b []byte) Value {
	if b == nil {
		return Value{}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: Blob, b: cp}
}

// Bool returns an INTEGER Value of 1 for true and 0 for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// ValueOf converts a native Go value into a Value. It accepts the types that
// database/sql drivers produce when scanning into an interface{} as well as the
// common integer and float widths. time.Time is stored as RFC-3339 text.
func ValueOf(v any) (Value, error) {
	switch typed := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return typed, nil
	case int64:
		return Int(typed), nil
	case int:
		return Int(int64(typed)), nil
	case int32:
		return Int(int64(typed)), nil
	case int16:
		return Int(int64(typed)), nil
	case int8:
		return Int(int64(typed)), nil
	case uint32:
		return Int(int64(typed)), nil
	case uint16:
		return Int(int64(typed)), nil
	case uint8:
		return Int(int64(typed)), nil
	case uint64:
		if typed > math.MaxInt64 {
			return Value{}, fmt.Errorf("uint64 value %d overflows INTEGER", typed)
		}
		return Int(int64(typed)), nil
	case float64:
		return Float(typed), nil
	case float32:
		return Float(float64(typed)), nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case []byte:
		return Bytes(typed), nil
	case time.Time:
		return String(typed.UTC().Format(time.RFC3339Nano)), nil
	default:
		return Value{}, fmt.Errorf("unsupported column value type %T", v)
	}
}

// Kind returns the kind of scalar held.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull returns whether v is NULL.
func (v Value) IsNull() bool {
	return v.kind == Null
}

// Int64 returns the value as an int64. ok is false if v is not an INTEGER.
func (v Value) Int64() (i int64, ok bool) {
	return v.i, v.kind == Integer
}

// Float64 returns the value as a float64. INTEGER values are converted. ok is
// false for any other kind.
func (v Value) Float64() (f float64, ok bool) {
	switch v.kind {
	case Real:
		return v.f, true
	case Integer:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Text returns the value as a string. ok is false if v is not TEXT.
func (v Value) Text() (s string, ok bool) {
	return v.s, v.kind == Text
}

// Blob returns a copy of the bytes in a BLOB value. ok is false if v is not a
// BLOB.
func (v Value) Blob() (b []byte, ok bool) {
	if v.kind != Blob {
		return nil, false
	}
	cp := make([]byte, len(v.b))
	copy(cp, v.b)
	return cp, true
}

// Any returns the value as the native type a database/sql driver accepts as a
// query argument.
func (v Value) Any() any {
	switch v.kind {
	case Integer:
		return v.i
	case Real:
		return v.f
	case Text:
		return v.s
	case Blob:
		return v.b
	default:
		return nil
	}
}

// Equal returns whether v and o hold the same kind and the same scalar.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Integer:
		return v.i == o.i
	case Real:
		return v.f == o.f
	case Text:
		return v.s == o.s
	case Blob:
		return bytes.Equal(v.b, o.b)
	default:
		return false
	}
}

// String gives a human-readable rendering of the value. TEXT is quoted.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "NULL"
	case Integer:
		return fmt.Sprintf("%d", v.i)
	case Real:
		return fmt.Sprintf("%g", v.f)
	case Text:
		return fmt.Sprintf("%q", v.s)
	case Blob:
		return fmt.Sprintf("x'%x'", v.b)
	default:
		return "?"
	}
}

// Row is an ordered mapping of column name to scalar Value. Columns keep the
// order in which they were first set. The zero value is an empty Row ready for
// use.
//
// Row has no identity beyond its contents; two Rows are Equal when they hold
// the same columns with the same values in the same order.
type Row struct {
	cols []string
	vals map[string]Value
}

// New creates a Row from alternating column name and value pairs. It panics if
// given an odd number of arguments or a non-string column name; it is intended
// for literals in converters and tests.
func New(pairs ...any) Row {
	if len(pairs)%2 != 0 {
		panic("row.New: odd number of arguments")
	}
	var r Row
	for i := 0; i < len(pairs); i += 2 {
		col, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("row.New: column name at %d is %T, not string", i, pairs[i]))
		}
		v, err := ValueOf(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("row.New: column %q: %v", col, err))
		}
		r.Set(col, v)
	}
	return r
}

// Set sets the value of a column. Setting an existing column replaces its
// value but keeps its position.
func (r *Row) Set(col string, v Value) {
	if r.vals == nil {
		r.vals = map[string]Value{}
	}
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
}

// Get returns the value of a column. ok is false if the column is not present,
// which is distinct from being present and NULL.
func (r Row) Get(col string) (v Value, ok bool) {
	v, ok = r.vals[col]
	return v, ok
}

// Has returns whether the column is present.
func (r Row) Has(col string) bool {
	_, ok := r.vals[col]
	return ok
}

// Delete removes a column.
func (r *Row) Delete(col string) {
	if _, ok := r.vals[col]; !ok {
		return
	}
	delete(r.vals, col)
	for i := range r.cols {
		if r.cols[i] == col {
			r.cols = append(r.cols[:i:i], r.cols[i+1:]...)
			break
		}
	}
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	cols := make([]string, len(r.cols))
	copy(cols, r.cols)
	return cols
}

// Values returns the values in column order.
func (r Row) Values() []Value {
	vals := make([]Value, len(r.cols))
	for i := range r.cols {
		vals[i] = r.vals[r.cols[i]]
	}
	return vals
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.cols)
}

// Copy returns a deep copy of r.
func (r Row) Copy() Row {
	var cp Row
	for _, c := range r.cols {
		cp.Set(c, r.vals[c])
	}
	return cp
}

// Equal returns whether r and o are structurally equal.
func (r Row) Equal(o Row) bool {
	if len(r.cols) != len(o.cols) {
		return false
	}
	for i := range r.cols {
		if r.cols[i] != o.cols[i] {
			return false
		}
		if !r.vals[r.cols[i]].Equal(o.vals[o.cols[i]]) {
			return false
		}
	}
	return true
}

func (r Row) String() string {
	var sb strings.Builder
	sb.WriteRune('{')
	for i, c := range r.cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c)
		sb.WriteRune('=')
		sb.WriteString(r.vals[c].String())
	}
	sb.WriteRune('}')
	return sb.String()
}
