package put

import (
	"testing"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/store"
	"github.com/stretchr/testify/assert"
)

func Test_NewInsertResult(t *testing.T) {
	testCases := []struct {
		name        string
		id          store.ID
		affected    changes.Changes
		expectErr   bool
		expectIDStr string
	}{
		{
			name:        "row id",
			id:          store.RowID(8),
			affected:    changes.ForTables("notes"),
			expectIDStr: "8",
		},
		{
			name:        "locator",
			id:          store.Locator("content://a/b/2"),
			affected:    changes.ForURI("content://a/b"),
			expectIDStr: "content://a/b/2",
		},
		{
			name:      "zero id",
			id:        store.ID{},
			affected:  changes.ForTables("notes"),
			expectErr: true,
		},
		{
			name:      "nothing affected",
			id:        store.RowID(1),
			affected:  changes.Changes{},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := NewInsertResult(tc.id, tc.affected)
			if tc.expectErr {
				assert.ErrorIs(err, jelstor.ErrInvalidResult)
				return
			}
			if !assert.NoError(err) {
				return
			}

			assert.True(actual.WasInserted())
			assert.False(actual.WasUpdated())

			id, ok := actual.InsertedID()
			assert.True(ok)
			assert.Equal(tc.expectIDStr, id.String())

			_, ok = actual.RowsUpdated()
			assert.False(ok)

			assert.True(tc.affected.Equal(actual.Changes()))
		})
	}
}

func Test_NewUpdateResult(t *testing.T) {
	testCases := []struct {
		name              string
		n                 int64
		affected          changes.Changes
		expectErr         bool
		expectWasUpdated  bool
		expectRowsUpdated int64
	}{
		{
			name:              "one row",
			n:                 1,
			affected:          changes.ForTables("notes"),
			expectWasUpdated:  true,
			expectRowsUpdated: 1,
		},
		{
			name:              "several rows",
			n:                 5,
			affected:          changes.ForURI("content://a/b"),
			expectWasUpdated:  true,
			expectRowsUpdated: 5,
		},
		{
			name:              "zero rows is not an update but keeps the count",
			n:                 0,
			affected:          changes.ForURI("content://a/b"),
			expectWasUpdated:  false,
			expectRowsUpdated: 0,
		},
		{
			name:      "negative count",
			n:         -1,
			affected:  changes.ForTables("notes"),
			expectErr: true,
		},
		{
			name:      "nothing affected",
			n:         1,
			affected:  changes.Changes{},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := NewUpdateResult(tc.n, tc.affected)
			if tc.expectErr {
				assert.ErrorIs(err, jelstor.ErrInvalidResult)
				return
			}
			if !assert.NoError(err) {
				return
			}

			assert.False(actual.WasInserted())
			assert.Equal(tc.expectWasUpdated, actual.WasUpdated())

			n, ok := actual.RowsUpdated()
			assert.True(ok)
			assert.Equal(tc.expectRowsUpdated, n)

			_, ok = actual.InsertedID()
			assert.False(ok)

			assert.Equal(tc.expectWasUpdated, actual.changed())
		})
	}
}

func Test_Result_Zero(t *testing.T) {
	assert := assert.New(t)

	var r Result

	assert.False(r.WasInserted())
	assert.False(r.WasUpdated())
	assert.False(r.changed())
	assert.True(r.Changes().IsEmpty())
	assert.Equal("no result", r.String())
}
