// Package store defines the row store contract that puts are performed
// against. Implementations are in the sqlite and inmem sub-packages.
//
// A Store runs every operation on its own unless a transaction is begun with
// Store.Begin. A Tx owns the store's exclusive write window from Begin until
// End; only one Tx may be open on a Store at a time, and Begin blocks until the
// window is free. While a Tx is open, all writes that belong to it must go
// through the Tx itself, not the Store.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dekarrin/jelstor/row"
)

// ID identifies a stored row. A row store assigns either a numeric row id or
// an opaque resource locator. The zero ID means no row.
type ID struct {
	n   int64
	loc string
	set bool
}

// RowID returns an ID for a numeric row id.
func RowID(n int64) ID {
	return ID{n: n, set: true}
}

// Locator returns an ID for an opaque resource locator such as a URI.
func Locator(loc string) ID {
	return ID{loc: loc, set: loc != ""}
}

// IsZero returns whether id identifies nothing.
func (id ID) IsZero() bool {
	return !id.set
}

// IsLocator returns whether id is a resource locator rather than a row id.
func (id ID) IsLocator() bool {
	return id.loc != ""
}

// Int64 returns the numeric row id. ok is false for a locator or the zero ID.
func (id ID) Int64() (n int64, ok bool) {
	return id.n, id.set && id.loc == ""
}

// String returns the locator, or the row id in base 10. The zero ID gives "".
func (id ID) String() string {
	if !id.set {
		return ""
	}
	if id.loc != "" {
		return id.loc
	}
	return strconv.FormatInt(id.n, 10)
}

// Criterion matches rows whose Column equals Value. A NULL Value matches rows
// where the column is NULL.
type Criterion struct {
	Column string
	Value  row.Value
}

// Eq returns a Criterion for column = v.
func Eq(column string, v row.Value) Criterion {
	return Criterion{Column: column, Value: v}
}

func (c Criterion) String() string {
	if c.Value.IsNull() {
		return fmt.Sprintf("%s IS NULL", c.Column)
	}
	return fmt.Sprintf("%s = %s", c.Column, c.Value)
}

// Criteria is a conjunction of Criterion. Empty Criteria match every row.
type Criteria []Criterion

// Matches returns whether r meets every Criterion. A column missing from r is
// treated as NULL.
func (cr Criteria) Matches(r row.Row) bool {
	for _, c := range cr {
		v, _ := r.Get(c.Column)
		if !v.Equal(c.Value) {
			return false
		}
	}
	return true
}

func (cr Criteria) String() string {
	if len(cr) == 0 {
		return "TRUE"
	}
	parts := make([]string, len(cr))
	for i := range cr {
		parts[i] = cr[i].String()
	}
	return strings.Join(parts, " AND ")
}

// Query selects rows from Table.
type Query struct {
	Table   string
	Where   Criteria
	Columns []string // empty means all columns
	Limit   int      // zero means no limit
}

func (q Query) String() string {
	return fmt.Sprintf("query %s WHERE %s", q.Table, q.Where)
}

// InsertQuery targets an insert at Table.
type InsertQuery struct {
	Table string
}

// UpdateQuery targets an update at the rows of Table that match Where.
type UpdateQuery struct {
	Table string
	Where Criteria
}

func (q UpdateQuery) String() string {
	return fmt.Sprintf("update %s WHERE %s", q.Table, q.Where)
}

// Cursor iterates over the rows of a query. It must be closed once the caller
// is done with it, whether or not every row was read.
type Cursor interface {
	// Next advances to the next row and returns whether there is one.
	Next() bool

	// Row returns the current row. It is only valid after Next returned true.
	Row() row.Row

	// Err returns the error, if any, that ended iteration early.
	Err() error

	// Close releases the cursor's resources.
	Close() error
}

// Executor runs reads and writes. Both Store and Tx are Executors.
type Executor interface {
	// Query returns a Cursor over the rows that match q.
	Query(ctx context.Context, q Query) (Cursor, error)

	// Insert adds r to the table and returns the ID of the new row.
	Insert(ctx context.Context, q InsertQuery, r row.Row) (ID, error)

	// Update sets the columns in r on every row matching q and returns the
	// number of rows affected.
	Update(ctx context.Context, q UpdateQuery, r row.Row) (int64, error)
}

// Store is a row store.
type Store interface {
	Executor

	// Begin starts a transaction, blocking until the store's write window is
	// free or ctx is done.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the store's resources.
	Close() error
}

// Tx is an open transaction. The owner must call End exactly once; the
// transaction commits only if SetSuccessful was called before End, and rolls
// back otherwise.
type Tx interface {
	Executor

	// SetSuccessful marks the transaction to be committed by End.
	SetSuccessful()

	// End commits or rolls back the transaction and releases the store's
	// write window. Calling End again returns jelstor.ErrTxDone.
	End() error
}

// ReadAll runs q and converts every row with conv. The cursor is closed before
// ReadAll returns.
func ReadAll[T any](ctx context.Context, ex Executor, q Query, conv row.Converter[T]) ([]T, error) {
	cur, err := ex.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var all []T
	for cur.Next() {
		obj, err := conv.FromRow(cur.Row())
		if err != nil {
			return all, fmt.Errorf("convert row: %w", err)
		}
		all = append(all, obj)
	}
	if err := cur.Err(); err != nil {
		return all, err
	}
	return all, nil
}

// SliceCursor is a Cursor over rows already held in memory.
type SliceCursor struct {
	rows   []row.Row
	cur    int
	closed bool
}

// NewSliceCursor creates a Cursor over rows.
func NewSliceCursor(rows []row.Row) *SliceCursor {
	return &SliceCursor{rows: rows, cur: -1}
}

func (sc *SliceCursor) Next() bool {
	if sc.closed || sc.cur+1 >= len(sc.rows) {
		return false
	}
	sc.cur++
	return true
}

func (sc *SliceCursor) Row() row.Row {
	if sc.cur < 0 || sc.cur >= len(sc.rows) {
		return row.Row{}
	}
	return sc.rows[sc.cur]
}

func (sc *SliceCursor) Err() error {
	return nil
}

func (sc *SliceCursor) Close() error {
	sc.closed = true
	return nil
}
