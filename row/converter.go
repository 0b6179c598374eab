package row

import "errors"

// Converter converts a domain object of type T to a Row and back. Both
// functions must be pure and must be safe to call from multiple goroutines at
// once; a Converter is shared by every put of its type.
type Converter[T any] interface {
	ToRow(obj T) (Row, error)
	FromRow(r Row) (T, error)
}

// ConverterFuncs is a Converter built from a pair of functions. FromRowFunc
// may be left nil for write-only use, in which case FromRow returns an error.
type ConverterFuncs[T any] struct {
	ToRowFunc   func(T) (Row, error)
	FromRowFunc func(Row) (T, error)
}

func (cf ConverterFuncs[T]) ToRow(obj T) (Row, error) {
	if cf.ToRowFunc == nil {
		return Row{}, errNoToRow
	}
	return cf.ToRowFunc(obj)
}

func (cf ConverterFuncs[T]) FromRow(r Row) (T, error) {
	if cf.FromRowFunc == nil {
		var zero T
		return zero, errNoFromRow
	}
	return cf.FromRowFunc(r)
}

var (
	errNoToRow   = errors.New("converter does not support writing rows")
	errNoFromRow = errors.New("converter does not support reading rows")
)

// Identity is a Converter for Rows themselves. ToRow returns a copy so that
// callers cannot mutate the row a store is holding.
type Identity struct{}

func (Identity) ToRow(r Row) (Row, error) {
	return r.Copy(), nil
}

func (Identity) FromRow(r Row) (Row, error) {
	return r.Copy(), nil
}
