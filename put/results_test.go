package put

import (
	"testing"

	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/store"
	"github.com/stretchr/testify/assert"
)

func mustInsert(id int64) Result {
	r, err := NewInsertResult(store.RowID(id), changes.ForTables("notes"))
	if err != nil {
		panic(err)
	}
	return r
}

func mustUpdate(n int64) Result {
	r, err := NewUpdateResult(n, changes.ForTables("notes"))
	if err != nil {
		panic(err)
	}
	return r
}

func Test_Results_Counters(t *testing.T) {
	testCases := []struct {
		name          string
		results       map[string]Result
		expectInserts int
		expectUpdates int64
	}{
		{
			name:          "empty",
			results:       map[string]Result{},
			expectInserts: 0,
			expectUpdates: 0,
		},
		{
			name: "updates are summed by rows, not by object",
			results: map[string]Result{
				"a": mustInsert(1),
				"b": mustInsert(2),
				"c": mustInsert(3),
				"d": mustUpdate(5),
				"e": mustUpdate(1),
			},
			expectInserts: 3,
			expectUpdates: 6,
		},
		{
			name: "zero-row update is counted as zero",
			results: map[string]Result{
				"a": mustUpdate(0),
				"b": mustUpdate(2),
			},
			expectInserts: 0,
			expectUpdates: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			rs := NewResults(tc.results)

			assert.Equal(tc.expectInserts, rs.NumberOfInserts())
			assert.Equal(tc.expectUpdates, rs.NumberOfUpdates())
			assert.Equal(len(tc.results), rs.Len())
		})
	}
}

func Test_Results_CountersAreComputedOnce(t *testing.T) {
	assert := assert.New(t)

	rs := NewResults(map[string]Result{
		"a": mustInsert(1),
		"b": mustUpdate(5),
		"c": mustUpdate(1),
	})
	assert.Equal(int32(0), rs.scans.Load())

	firstInserts := rs.NumberOfInserts()
	firstUpdates := rs.NumberOfUpdates()
	assert.Equal(int32(2), rs.scans.Load())

	assert.Equal(firstInserts, rs.NumberOfInserts())
	assert.Equal(firstUpdates, rs.NumberOfUpdates())
	assert.Equal(firstInserts, rs.NumberOfInserts())
	assert.Equal(int32(2), rs.scans.Load())
}

func Test_Results_IsImmutable(t *testing.T) {
	assert := assert.New(t)

	input := map[string]Result{"a": mustInsert(1)}
	rs := NewResults(input)

	input["b"] = mustInsert(2)
	out := rs.Results()
	out["c"] = mustInsert(3)

	assert.Equal(1, rs.Len())
	_, ok := rs.Get("b")
	assert.False(ok)
	_, ok = rs.Get("c")
	assert.False(ok)

	actual, ok := rs.Get("a")
	assert.True(ok)
	assert.True(actual.WasInserted())
}
