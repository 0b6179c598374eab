// Package inmem provides an in-memory row store addressed by table name or by
// resource URI, in the manner of a content provider. Inserted rows are
// identified by resource locators when the store has an Authority or when the
// table name is itself a URI, and by numeric row ids otherwise.
//
// A Store can optionally be persisted to a data file with [Store.Persist]; use
// [Open] to create one that is loaded from and saved to disk.
package inmem

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/jelstor/store"
	"golang.org/x/sync/semaphore"
)

// DefaultIDColumn is the column that holds the row id of each row.
const DefaultIDColumn = "_id"

// Store is an in-memory store.Store. It is safe for concurrent use. Reads see
// only committed data; an open transaction works on a private copy of the
// store that replaces the committed data when the transaction commits.
//
// The zero value is an in-memory Store with no authority that uses
// DefaultIDColumn. A Store must not be copied once used.
type Store struct {
	// Authority, if set, makes inserted IDs resource locators of the form
	// content://<Authority>/<table>/<id>.
	Authority string

	// IDColumn names the row id column. If empty, DefaultIDColumn is used.
	IDColumn string

	// DataFile is where Persist and Close write the store's contents. If empty,
	// the store is not saved to disk.
	DataFile string

	initOnce sync.Once
	write    *semaphore.Weighted

	mtx    sync.RWMutex
	data   tables
	closed bool
}

// New creates an empty in-memory Store with the given authority, which may be
// empty.
func New(authority string) *Store {
	return &Store{Authority: authority}
}

// Open creates a Store that persists itself to the given file. If the file
// already exists its contents are loaded; otherwise it is created empty.
func Open(file string, authority string) (*Store, error) {
	s := &Store{Authority: authority, DataFile: file}

	data, err := os.ReadFile(file)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read file: %w", err)
	}

	if err == nil {
		if len(data) > 0 {
			if err := s.UnmarshalBinary(data); err != nil {
				return nil, fmt.Errorf("load data: %w", err)
			}
		}
	} else {
		// check early that later writes will not fail due to permissions.
		f, err := os.Create(file)
		if err != nil {
			return nil, fmt.Errorf("create new: %w", err)
		}
		f.Close()
	}

	return s, nil
}

func (s *Store) init() {
	s.initOnce.Do(func() {
		s.write = semaphore.NewWeighted(1)
	})
}

func (s *Store) idColumn() string {
	if s.IDColumn == "" {
		return DefaultIDColumn
	}
	return s.IDColumn
}

func (s *Store) Query(ctx context.Context, q store.Query) (store.Cursor, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.closed {
		return nil, jelstor.ErrClosed
	}
	return store.NewSliceCursor(s.data.query(q)), nil
}

func (s *Store) Insert(ctx context.Context, q store.InsertQuery, r row.Row) (store.ID, error) {
	if err := s.acquire(ctx); err != nil {
		return store.ID{}, err
	}
	defer s.write.Release(1)

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return store.ID{}, jelstor.ErrClosed
	}
	if s.data == nil {
		s.data = tables{}
	}
	return s.data.insert(q.Table, r, s.idColumn(), s.Authority)
}

func (s *Store) Update(ctx context.Context, q store.UpdateQuery, r row.Row) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.write.Release(1)

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return 0, jelstor.ErrClosed
	}
	return s.data.update(q, r)
}

// Begin starts a transaction. It blocks until no other transaction or write
// is in progress.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.closed {
		s.write.Release(1)
		return nil, jelstor.ErrClosed
	}

	return &tx{s: s, work: s.data.clone()}, nil
}

func (s *Store) acquire(ctx context.Context) error {
	s.init()
	if err := s.write.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for write lock: %w", err)
	}
	return nil
}

// Persist writes the committed contents of the store to DataFile. If DataFile
// is empty, Persist does nothing.
func (s *Store) Persist() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.persistUnsafe()
}

func (s *Store) persistUnsafe() error {
	if s.DataFile == "" {
		return nil
	}

	data, err := s.marshalUnsafe()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := os.WriteFile(s.DataFile, data, 0660); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Close persists the store and marks it closed. Further operations return
// jelstor.ErrClosed.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.persistUnsafe()
}

// Len returns the number of committed rows in a table.
func (s *Store) Len(table string) int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	t, ok := s.data[table]
	if !ok {
		return 0
	}
	return len(t.rows)
}

type tx struct {
	s *Store

	mtx        sync.Mutex
	work       tables
	successful bool
	done       bool
}

func (t *tx) Query(ctx context.Context, q store.Query) (store.Cursor, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.done {
		return nil, jelstor.ErrTxDone
	}
	return store.NewSliceCursor(t.work.query(q)), nil
}

func (t *tx) Insert(ctx context.Context, q store.InsertQuery, r row.Row) (store.ID, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.done {
		return store.ID{}, jelstor.ErrTxDone
	}
	return t.work.insert(q.Table, r, t.s.idColumn(), t.s.Authority)
}

func (t *tx) Update(ctx context.Context, q store.UpdateQuery, r row.Row) (int64, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.done {
		return 0, jelstor.ErrTxDone
	}
	return t.work.update(q, r)
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

	if !t.successful {
		t.work = nil
		return nil
	}

	t.s.mtx.Lock()
	defer t.s.mtx.Unlock()

	if t.s.closed {
		return jelstor.ErrClosed
	}
	t.s.data = t.work
	t.work = nil
	return nil
}

type table struct {
	nextID int64
	rows   []row.Row
}

type tables map[string]*table

func (ts tables) clone() tables {
	cp := make(tables, len(ts))
	for name, t := range ts {
		ct := &table{nextID: t.nextID, rows: make([]row.Row, len(t.rows))}
		for i := range t.rows {
			ct.rows[i] = t.rows[i].Copy()
		}
		cp[name] = ct
	}
	return cp
}

func (ts tables) query(q store.Query) []row.Row {
	t, ok := ts[q.Table]
	if !ok {
		return nil
	}

	var matched []row.Row
	for _, r := range t.rows {
		if !q.Where.Matches(r) {
			continue
		}
		if len(q.Columns) > 0 {
			var proj row.Row
			for _, c := range q.Columns {
				v, _ := r.Get(c)
				proj.Set(c, v)
			}
			matched = append(matched, proj)
		} else {
			matched = append(matched, r.Copy())
		}
		if q.Limit > 0 && len(matched) >= q.Limit {
			break
		}
	}
	return matched
}

func (ts tables) insert(name string, r row.Row, idCol string, authority string) (store.ID, error) {
	if name == "" {
		return store.ID{}, jelstor.NewError("insert: no table given", jelstor.ErrDB)
	}

	t, ok := ts[name]
	if !ok {
		t = &table{nextID: 1}
		ts[name] = t
	}

	stored := r.Copy()
	var id int64
	v, _ := stored.Get(idCol)
	if v.IsNull() {
		id = t.nextID
		stored.Set(idCol, row.Int(id))
	} else {
		var isInt bool
		id, isInt = v.Int64()
		if !isInt {
			return store.ID{}, jelstor.NewError(fmt.Sprintf("insert: %s must be an INTEGER, not %s", idCol, v.Kind()), jelstor.ErrDB)
		}
		for _, existing := range t.rows {
			if ev, _ := existing.Get(idCol); ev.Equal(v) {
				return store.ID{}, jelstor.NewError(fmt.Sprintf("insert into %s: %s %d already exists", name, idCol, id), jelstor.ErrConstraintViolation, jelstor.ErrDB)
			}
		}
	}
	if id >= t.nextID {
		t.nextID = id + 1
	}

	t.rows = append(t.rows, stored)

	switch {
	case strings.Contains(name, "://"):
		return store.Locator(fmt.Sprintf("%s/%d", strings.TrimSuffix(name, "/"), id)), nil
	case authority != "":
		return store.Locator(fmt.Sprintf("content://%s/%s/%d", authority, name, id)), nil
	default:
		return store.RowID(id), nil
	}
}

func (ts tables) update(q store.UpdateQuery, r row.Row) (int64, error) {
	if r.Len() < 1 {
		return 0, jelstor.NewError("update: no columns to set", jelstor.ErrDB)
	}

	t, ok := ts[q.Table]
	if !ok {
		return 0, nil
	}

	var n int64
	for i := range t.rows {
		if !q.Where.Matches(t.rows[i]) {
			continue
		}
		for _, c := range r.Columns() {
			v, _ := r.Get(c)
			t.rows[i].Set(c, v)
		}
		n++
	}
	return n, nil
}
