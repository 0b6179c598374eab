package put

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/jelstor/store"
	"github.com/dekarrin/jelstor/store/inmem"
)

var errBoom = errors.New("boom")

// note is a domain object stored in the "notes" table by id.
type note struct {
	ID    int64
	Title string
}

func (n *note) String() string {
	return fmt.Sprintf("note(%d, %q)", n.ID, n.Title)
}

var noteConverter = row.ConverterFuncs[*note]{
	ToRowFunc: func(n *note) (row.Row, error) {
		var r row.Row
		if n.ID != 0 {
			r.Set("_id", row.Int(n.ID))
		}
		r.Set("title", row.String(n.Title))
		return r, nil
	},
	FromRowFunc: func(r row.Row) (*note, error) {
		id, _ := r.Get("_id")
		title, _ := r.Get("title")
		n := &note{}
		n.ID, _ = id.Int64()
		n.Title, _ = title.Text()
		return n, nil
	},
}

func noteResolver() DefaultResolver[*note] {
	return DefaultResolver[*note]{
		Table:     "notes",
		Converter: noteConverter,
		AfterPut: func(n *note, res Result) {
			if id, ok := res.InsertedID(); ok {
				n.ID, _ = id.Int64()
			}
		},
	}
}

// member is a value type stored under a URI and identified by its Group.
type member struct {
	Group string
	Name  string
}

const membersURI = "content://test.members/members"

var memberConverter = row.ConverterFuncs[member]{
	ToRowFunc: func(m member) (row.Row, error) {
		return row.New("group", m.Group, "name", m.Name), nil
	},
}

func memberResolver() CheckedResolver[member] {
	return CheckedResolver[member]{
		URI:       membersURI,
		Converter: memberConverter,
		Key: func(m member) store.Criteria {
			return store.Criteria{store.Eq("group", row.String(m.Group))}
		},
	}
}

// failingOn wraps r so that putting bad fails with errBoom.
func failingOn(r Resolver, bad any) Resolver {
	return ResolverFunc(func(ctx context.Context, ex store.Executor, obj any) (Result, error) {
		if obj == bad {
			return Result{}, errBoom
		}
		return r.PerformPut(ctx, ex, obj)
	})
}

// eventLog records the order of commits and publishes.
type eventLog struct {
	mtx    sync.Mutex
	events []string
}

func (el *eventLog) add(format string, a ...any) {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	el.events = append(el.events, fmt.Sprintf(format, a...))
}

func (el *eventLog) all() []string {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	cp := make([]string, len(el.events))
	copy(cp, el.events)
	return cp
}

// recordingStore is an inmem.Store whose transactions record their outcome in
// an eventLog.
type recordingStore struct {
	*inmem.Store
	log *eventLog
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: inmem.New(""), log: &eventLog{}}
}

func (rs *recordingStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := rs.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	rs.log.add("begin")
	return &recordingTx{Tx: tx, log: rs.log}, nil
}

type recordingTx struct {
	store.Tx
	log        *eventLog
	successful bool
}

func (rt *recordingTx) SetSuccessful() {
	rt.successful = true
	rt.Tx.SetSuccessful()
}

func (rt *recordingTx) End() error {
	if err := rt.Tx.End(); err != nil {
		return err
	}
	if rt.successful {
		rt.log.add("commit")
	} else {
		rt.log.add("rollback")
	}
	return nil
}

// recordingPublisher records every publish along with how many rows of table
// were visible in the store at the time.
type recordingPublisher struct {
	store *inmem.Store
	table string
	log   *eventLog

	mtx       sync.Mutex
	published []changes.Changes
	visible   []int
}

func (rp *recordingPublisher) Publish(c changes.Changes) {
	n := rp.store.Len(rp.table)
	if rp.log != nil {
		rp.log.add("publish")
	}

	rp.mtx.Lock()
	defer rp.mtx.Unlock()
	rp.published = append(rp.published, c)
	rp.visible = append(rp.visible, n)
}

func (rp *recordingPublisher) all() []changes.Changes {
	rp.mtx.Lock()
	defer rp.mtx.Unlock()
	cp := make([]changes.Changes, len(rp.published))
	copy(cp, rp.published)
	return cp
}

// fakeCursor counts how often it is closed.
type fakeCursor struct {
	rows   []row.Row
	cur    int
	err    error
	closes int
}

func (fc *fakeCursor) Next() bool {
	if fc.err != nil || fc.cur >= len(fc.rows) {
		return false
	}
	fc.cur++
	return true
}

func (fc *fakeCursor) Row() row.Row {
	return fc.rows[fc.cur-1]
}

func (fc *fakeCursor) Err() error {
	return fc.err
}

func (fc *fakeCursor) Close() error {
	fc.closes++
	return nil
}

// fakeExecutor serves a single cursor and records the writes made through it.
type fakeExecutor struct {
	cursor    *fakeCursor
	queryErr  error
	insertErr error
	updateErr error
	updateN   int64
	nextID    int64

	// calls made, in order; a write records whether the cursor was still open.
	calls []string
}

func (fe *fakeExecutor) Query(ctx context.Context, q store.Query) (store.Cursor, error) {
	fe.calls = append(fe.calls, "query")
	if fe.queryErr != nil {
		return nil, fe.queryErr
	}
	return fe.cursor, nil
}

func (fe *fakeExecutor) Insert(ctx context.Context, q store.InsertQuery, r row.Row) (store.ID, error) {
	fe.calls = append(fe.calls, fmt.Sprintf("insert (cursor closes: %d)", fe.cursor.closes))
	if fe.insertErr != nil {
		return store.ID{}, fe.insertErr
	}
	fe.nextID++
	return store.Locator(fmt.Sprintf("%s/%d", q.Table, fe.nextID)), nil
}

func (fe *fakeExecutor) Update(ctx context.Context, q store.UpdateQuery, r row.Row) (int64, error) {
	fe.calls = append(fe.calls, fmt.Sprintf("update (cursor closes: %d)", fe.cursor.closes))
	if fe.updateErr != nil {
		return 0, fe.updateErr
	}
	return fe.updateN, nil
}
