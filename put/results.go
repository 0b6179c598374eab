package put

import (
	"sync"
	"sync/atomic"
)

// Results is the immutable outcome of a batch put: the Result of every object,
// keyed by the object. The aggregate counters are computed on first use and
// cached.
type Results[T comparable] struct {
	results map[T]Result

	insertsOnce sync.Once
	inserts     int

	updatesOnce sync.Once
	updates     int64

	// number of passes made over results by the counters.
	scans atomic.Int32
}

// NewResults creates a Results holding a copy of m.
func NewResults[T comparable](m map[T]Result) *Results[T] {
	cp := make(map[T]Result, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &Results[T]{results: cp}
}

// NumberOfInserts returns how many objects were inserted.
func (rs *Results[T]) NumberOfInserts() int {
	rs.insertsOnce.Do(func() {
		rs.scans.Add(1)
		for _, r := range rs.results {
			if r.WasInserted() {
				rs.inserts++
			}
		}
	})
	return rs.inserts
}

// NumberOfUpdates returns the total number of rows updated across the batch.
// This is the sum of each update's row count, not the number of objects that
// took the update path.
func (rs *Results[T]) NumberOfUpdates() int64 {
	rs.updatesOnce.Do(func() {
		rs.scans.Add(1)
		for _, r := range rs.results {
			if n, ok := r.RowsUpdated(); ok {
				rs.updates += n
			}
		}
	})
	return rs.updates
}

// Get returns the Result for obj.
func (rs *Results[T]) Get(obj T) (Result, bool) {
	r, ok := rs.results[obj]
	return r, ok
}

// Len returns the number of objects in the batch.
func (rs *Results[T]) Len() int {
	return len(rs.results)
}

// Results returns a copy of the map of objects to their Result.
func (rs *Results[T]) Results() map[T]Result {
	cp := make(map[T]Result, len(rs.results))
	for k, v := range rs.results {
		cp[k] = v
	}
	return cp
}
