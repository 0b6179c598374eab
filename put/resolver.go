package put

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/jelstor/store"
)

// DefaultIDColumn is the id column used by DefaultResolver when none is set.
const DefaultIDColumn = "_id"

// Resolver decides whether an object is inserted or updated and performs the
// write against ex. Implementations must be safe for concurrent use.
type Resolver interface {
	PerformPut(ctx context.Context, ex store.Executor, obj any) (Result, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, ex store.Executor, obj any) (Result, error)

func (rf ResolverFunc) PerformPut(ctx context.Context, ex store.Executor, obj any) (Result, error) {
	return rf(ctx, ex, obj)
}

// DefaultResolver puts objects of type T into a table keyed by an id column.
// An object whose row has no id, or a NULL id, is inserted. Otherwise the row
// with that id is updated, and if no row has it the object is inserted with the
// same row, id included.
type DefaultResolver[T any] struct {
	// Table is the table objects are written to.
	Table string

	// IDColumn is the column holding the row id. If empty, DefaultIDColumn is
	// used.
	IDColumn string

	// Tags are added to the Changes of every put.
	Tags []string

	Converter row.Converter[T]

	// AfterPut, if set, is called after each successful put, for instance to
	// record an inserted id on the object.
	AfterPut func(obj T, res Result)
}

func (dr DefaultResolver[T]) PerformPut(ctx context.Context, ex store.Executor, obj any) (Result, error) {
	typed, ok := obj.(T)
	if !ok {
		return Result{}, mismatch[T](obj)
	}
	return dr.Put(ctx, ex, typed)
}

// Put writes obj and returns the outcome.
func (dr DefaultResolver[T]) Put(ctx context.Context, ex store.Executor, obj T) (Result, error) {
	if dr.Table == "" {
		return Result{}, errors.New("resolver has no table")
	}
	if dr.Converter == nil {
		return Result{}, errors.New("resolver has no converter")
	}

	r, err := dr.Converter.ToRow(obj)
	if err != nil {
		return Result{}, fmt.Errorf("convert to row: %w", err)
	}

	idCol := dr.IDColumn
	if idCol == "" {
		idCol = DefaultIDColumn
	}
	affected := changes.ForTables(dr.Table).WithTags(dr.Tags...)

	var res Result
	if id, _ := r.Get(idCol); id.IsNull() {
		res, err = insertRow(ctx, ex, dr.Table, r, affected)
	} else {
		res, err = updateOrInsertRow(ctx, ex, dr.Table, store.Criteria{store.Eq(idCol, id)}, r, affected)
	}
	if err != nil {
		return Result{}, err
	}

	if dr.AfterPut != nil {
		dr.AfterPut(obj, res)
	}
	return res, nil
}

// CheckedResolver puts objects of type T into a store addressed by URI,
// deciding between insert and update by first querying for rows that match the
// object's key. It never falls back from update to insert; the query is
// authoritative.
type CheckedResolver[T any] struct {
	// URI is the resource objects are written to. It is used as the table for
	// the store and is the single entity in the Changes of every put.
	URI string

	// Key returns the criteria that find the stored row for obj.
	Key func(obj T) store.Criteria

	// Tags are added to the Changes of every put.
	Tags []string

	Converter row.Converter[T]

	// AfterPut, if set, is called after each successful put.
	AfterPut func(obj T, res Result)
}

func (cr CheckedResolver[T]) PerformPut(ctx context.Context, ex store.Executor, obj any) (Result, error) {
	typed, ok := obj.(T)
	if !ok {
		return Result{}, mismatch[T](obj)
	}
	return cr.Put(ctx, ex, typed)
}

// Put writes obj and returns the outcome.
func (cr CheckedResolver[T]) Put(ctx context.Context, ex store.Executor, obj T) (Result, error) {
	if cr.URI == "" {
		return Result{}, errors.New("resolver has no URI")
	}
	if cr.Key == nil {
		return Result{}, errors.New("resolver has no key")
	}
	if cr.Converter == nil {
		return Result{}, errors.New("resolver has no converter")
	}

	where := cr.Key(obj)
	r, exists, err := cr.check(ctx, ex, obj, where)
	if err != nil {
		return Result{}, err
	}

	affected := changes.ForURI(cr.URI).WithTags(cr.Tags...)

	var res Result
	if exists {
		n, err := ex.Update(ctx, store.UpdateQuery{Table: cr.URI, Where: where}, r)
		if err != nil {
			return Result{}, err
		}
		res, err = NewUpdateResult(n, affected)
		if err != nil {
			return Result{}, err
		}
	} else {
		res, err = insertRow(ctx, ex, cr.URI, r, affected)
		if err != nil {
			return Result{}, err
		}
	}

	if cr.AfterPut != nil {
		cr.AfterPut(obj, res)
	}
	return res, nil
}

// check queries for the stored row and converts obj while the cursor is open.
// The cursor is closed before check returns, on every path.
func (cr CheckedResolver[T]) check(ctx context.Context, ex store.Executor, obj T, where store.Criteria) (r row.Row, exists bool, err error) {
	cur, err := ex.Query(ctx, store.Query{Table: cr.URI, Where: where, Limit: 1})
	if err != nil {
		return row.Row{}, false, err
	}
	defer func() {
		if closeErr := cur.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close cursor: %w", closeErr)
		}
	}()

	exists = cur.Next()
	if err := cur.Err(); err != nil {
		return row.Row{}, false, err
	}

	r, err = cr.Converter.ToRow(obj)
	if err != nil {
		return row.Row{}, false, fmt.Errorf("convert to row: %w", err)
	}
	return r, exists, nil
}

// NewRowResolver returns a Resolver for raw rows, for callers that have no
// domain type. After an insert that assigns a numeric row id, the id is set on
// the row.
func NewRowResolver(table string, idColumn string, tags ...string) DefaultResolver[*row.Row] {
	if idColumn == "" {
		idColumn = DefaultIDColumn
	}
	return DefaultResolver[*row.Row]{
		Table:    table,
		IDColumn: idColumn,
		Tags:     tags,
		Converter: row.ConverterFuncs[*row.Row]{
			ToRowFunc: func(r *row.Row) (row.Row, error) {
				if r == nil {
					return row.Row{}, errors.New("nil row")
				}
				return r.Copy(), nil
			},
			FromRowFunc: func(r row.Row) (*row.Row, error) {
				cp := r.Copy()
				return &cp, nil
			},
		},
		AfterPut: func(r *row.Row, res Result) {
			id, ok := res.InsertedID()
			if !ok {
				return
			}
			if n, ok := id.Int64(); ok {
				r.Set(idColumn, row.Int(n))
			}
		},
	}
}

func insertRow(ctx context.Context, ex store.Executor, table string, r row.Row, affected changes.Changes) (Result, error) {
	id, err := ex.Insert(ctx, store.InsertQuery{Table: table}, r)
	if err != nil {
		return Result{}, err
	}
	return NewInsertResult(id, affected)
}

func updateOrInsertRow(ctx context.Context, ex store.Executor, table string, where store.Criteria, r row.Row, affected changes.Changes) (Result, error) {
	n, err := ex.Update(ctx, store.UpdateQuery{Table: table, Where: where}, r)
	if err != nil {
		return Result{}, err
	}
	if n == 0 {
		return insertRow(ctx, ex, table, r, affected)
	}
	return NewUpdateResult(n, affected)
}

func mismatch[T any](obj any) error {
	return &jelstor.ResolverError{
		Type:   reflect.TypeOf(obj),
		Reason: fmt.Sprintf("resolver only puts %v", reflect.TypeOf((*T)(nil)).Elem()),
	}
}
