// Package sqlite provides a store.Store backed by a SQLite database through
// database/sql and the modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/jelstor/store"
	"golang.org/x/sync/semaphore"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// Store is a SQLite row store. Writes outside of a transaction and whole
// transactions are serialized by the store; reads run concurrently.
//
// Its zero-value should not be used; call Open or New to get a Store ready for
// use.
type Store struct {
	db    *sql.DB
	write *semaphore.Weighted

	mtx    sync.Mutex
	closed bool
}

// Open opens the SQLite database in the given file. The special name
// ":memory:" opens a private in-memory database, which is limited to a single
// connection so that every operation sees the same data.
func Open(file string) (*Store, error) {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, jelstor.WrapDBError(err)
	}
	if file == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, jelstor.WrapDBError(err, "connect")
	}

	return New(db), nil
}

// New creates a Store that uses an already-opened database handle. The Store
// takes ownership of db and closes it in Close.
func New(db *sql.DB) *Store {
	return &Store{
		db:    db,
		write: semaphore.NewWeighted(1),
	}
}

// Exec runs a statement that does not produce rows, such as a CREATE TABLE. It
// is meant for schema setup.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.write.Release(1)

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return jelstor.WrapDBError(err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) (store.Cursor, error) {
	if s.isClosed() {
		return nil, jelstor.ErrClosed
	}
	return query(ctx, s.db, q)
}

func (s *Store) Insert(ctx context.Context, q store.InsertQuery, r row.Row) (store.ID, error) {
	if err := s.acquire(ctx); err != nil {
		return store.ID{}, err
	}
	defer s.write.Release(1)

	return insert(ctx, s.db, q, r)
}

func (s *Store) Update(ctx context.Context, q store.UpdateQuery, r row.Row) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.write.Release(1)

	return update(ctx, s.db, q, r)
}

// Begin starts a transaction. It blocks until no other transaction or write
// is in progress on the store. ctx only bounds the wait; once begun, the
// transaction lasts until End regardless of ctx.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	sqlTx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.write.Release(1)
		return nil, jelstor.WrapDBError(err, "begin transaction")
	}

	return &tx{s: s, tx: sqlTx}, nil
}

func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return jelstor.WrapDBError(err)
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.closed
}

func (s *Store) acquire(ctx context.Context) error {
	if s.isClosed() {
		return jelstor.ErrClosed
	}
	if err := s.write.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for write lock: %w", err)
	}
	return nil
}

type tx struct {
	s  *Store
	tx *sql.Tx

	mtx        sync.Mutex
	successful bool
	done       bool
}

func (t *tx) Query(ctx context.Context, q store.Query) (store.Cursor, error) {
	if t.isDone() {
		return nil, jelstor.ErrTxDone
	}
	return query(ctx, t.tx, q)
}

func (t *tx) Insert(ctx context.Context, q store.InsertQuery, r row.Row) (store.ID, error) {
	if t.isDone() {
		return store.ID{}, jelstor.ErrTxDone
	}
	return insert(ctx, t.tx, q, r)
}

func (t *tx) Update(ctx context.Context, q store.UpdateQuery, r row.Row) (int64, error) {
	if t.isDone() {
		return 0, jelstor.ErrTxDone
	}
	return update(ctx, t.tx, q, r)
}

func (t *tx) SetSuccessful() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.successful = true
}

func (t *tx) End() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.done {
		return jelstor.ErrTxDone
	}
	t.done = true
	defer t.s.write.Release(1)

	if t.successful {
		if err := t.tx.Commit(); err != nil {
			return jelstor.WrapDBError(err, "commit")
		}
		return nil
	}

	if err := t.tx.Rollback(); err != nil {
		return jelstor.WrapDBError(err, "rollback")
	}
	return nil
}

func (t *tx) isDone() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.done
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func query(ctx context.Context, db queryer, q store.Query) (store.Cursor, error) {
	if q.Table == "" {
		return nil, jelstor.NewError("query: no table given", jelstor.ErrDB)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i := range q.Columns {
			quoted[i] = quoteIdent(q.Columns[i])
		}
		cols = strings.Join(quoted, ", ")
	}

	where, args := whereClause(q.Where)
	stmt := `SELECT ` + cols + ` FROM ` + quoteIdent(q.Table) + where
	if q.Limit > 0 {
		stmt += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	stmt += `;`

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, jelstor.WrapDBErrorf(err, "query %s", q.Table)
	}

	return newCursor(rows), nil
}

func insert(ctx context.Context, db queryer, q store.InsertQuery, r row.Row) (store.ID, error) {
	if q.Table == "" {
		return store.ID{}, jelstor.NewError("insert: no table given", jelstor.ErrDB)
	}

	var stmt string
	var args []any
	if r.Len() == 0 {
		stmt = `INSERT INTO ` + quoteIdent(q.Table) + ` DEFAULT VALUES;`
	} else {
		cols := r.Columns()
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
			marks[i] = "?"
		}
		for _, v := range r.Values() {
			args = append(args, v.Any())
		}
		stmt = `INSERT INTO ` + quoteIdent(q.Table) + ` (` + strings.Join(quoted, ", ") + `) VALUES (` + strings.Join(marks, ", ") + `);`
	}

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return store.ID{}, jelstor.WrapDBErrorf(err, "insert into %s", q.Table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.ID{}, jelstor.WrapDBErrorf(err, "insert into %s: get row id", q.Table)
	}

	return store.RowID(id), nil
}

func update(ctx context.Context, db queryer, q store.UpdateQuery, r row.Row) (int64, error) {
	if q.Table == "" {
		return 0, jelstor.NewError("update: no table given", jelstor.ErrDB)
	}
	if r.Len() == 0 {
		return 0, jelstor.NewError("update: no columns to set", jelstor.ErrDB)
	}

	cols := r.Columns()
	sets := make([]string, len(cols))
	var args []any
	for i, c := range cols {
		sets[i] = quoteIdent(c) + ` = ?`
	}
	for _, v := range r.Values() {
		args = append(args, v.Any())
	}

	where, whereArgs := whereClause(q.Where)
	args = append(args, whereArgs...)

	stmt := `UPDATE ` + quoteIdent(q.Table) + ` SET ` + strings.Join(sets, ", ") + where + `;`

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, jelstor.WrapDBErrorf(err, "update %s", q.Table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, jelstor.WrapDBErrorf(err, "update %s: get rows affected", q.Table)
	}

	return n, nil
}

func whereClause(crit store.Criteria) (string, []any) {
	if len(crit) == 0 {
		return "", nil
	}

	conds := make([]string, len(crit))
	var args []any
	for i, c := range crit {
		if c.Value.IsNull() {
			conds[i] = quoteIdent(c.Column) + ` IS NULL`
			continue
		}
		conds[i] = quoteIdent(c.Column) + ` = ?`
		args = append(args, c.Value.Any())
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
