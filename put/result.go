package put

import (
	"fmt"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/store"
)

// Result is the immutable outcome of a single put. A Result is either an
// insert, which carries the ID the store assigned, or an update, which carries
// the number of rows updated. Both carry the entities the put affected.
//
// The zero Result is neither; it is only returned alongside an error.
type Result struct {
	id       store.ID
	updated  int64
	isUpdate bool
	affected changes.Changes
}

// NewInsertResult creates a Result for a put that inserted a row with the
// given ID. id must not be the zero ID and affected must not be empty.
func NewInsertResult(id store.ID, affected changes.Changes) (Result, error) {
	if id.IsZero() {
		return Result{}, jelstor.NewError("insert result has no row ID", jelstor.ErrInvalidResult)
	}
	if affected.IsEmpty() {
		return Result{}, jelstor.NewError("insert result affects nothing", jelstor.ErrInvalidResult)
	}
	return Result{id: id, affected: affected}, nil
}

// NewUpdateResult creates a Result for a put that updated n rows. n may be
// zero, in which case the Result reports the update path was taken but
// WasUpdated returns false. affected must not be empty.
func NewUpdateResult(n int64, affected changes.Changes) (Result, error) {
	if n < 0 {
		return Result{}, jelstor.NewError(fmt.Sprintf("update result has negative row count %d", n), jelstor.ErrInvalidResult)
	}
	if affected.IsEmpty() {
		return Result{}, jelstor.NewError("update result affects nothing", jelstor.ErrInvalidResult)
	}
	return Result{updated: n, isUpdate: true, affected: affected}, nil
}

// WasInserted returns whether the put inserted a new row.
func (r Result) WasInserted() bool {
	return !r.isUpdate && !r.id.IsZero()
}

// WasUpdated returns whether the put updated at least one existing row. An
// update that matched nothing is not considered to have updated; use
// RowsUpdated to get the raw count.
func (r Result) WasUpdated() bool {
	return r.isUpdate && r.updated > 0
}

// InsertedID returns the ID of the inserted row. ok is false if the put did not
// insert.
func (r Result) InsertedID() (id store.ID, ok bool) {
	if !r.WasInserted() {
		return store.ID{}, false
	}
	return r.id, true
}

// RowsUpdated returns the number of rows the update touched. ok is true
// whenever the put took the update path, even if n is 0.
func (r Result) RowsUpdated() (n int64, ok bool) {
	return r.updated, r.isUpdate
}

// Changes returns the entities affected by the put.
func (r Result) Changes() changes.Changes {
	return r.affected
}

// changed returns whether the put modified the store and so should be
// announced to subscribers.
func (r Result) changed() bool {
	return r.WasInserted() || r.WasUpdated()
}

func (r Result) String() string {
	switch {
	case r.isUpdate:
		return fmt.Sprintf("updated %d row(s) of %s", r.updated, r.affected)
	case !r.id.IsZero():
		return fmt.Sprintf("inserted %s into %s", r.id, r.affected)
	default:
		return "no result"
	}
}
