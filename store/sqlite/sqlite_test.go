package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/jelstor/store"
	"github.com/stretchr/testify/assert"
)

func Test_Insert(t *testing.T) {
	testCases := []struct {
		name      string
		table     string
		r         row.Row
		expectSQL string
		args      []any
		id        int64
		expect    store.ID
	}{
		{
			name:      "columns",
			table:     "notes",
			r:         row.New("title", "a", "pinned", true),
			expectSQL: `INSERT INTO "notes" ("title", "pinned") VALUES (?, ?);`,
			args:      []any{"a", int64(1)},
			id:        7,
			expect:    store.RowID(7),
		},
		{
			name:      "explicit id",
			table:     "notes",
			r:         row.New("_id", 42, "title", "a"),
			expectSQL: `INSERT INTO "notes" ("_id", "title") VALUES (?, ?);`,
			args:      []any{int64(42), "a"},
			id:        42,
			expect:    store.RowID(42),
		},
		{
			name:      "empty row",
			table:     "notes",
			r:         row.Row{},
			expectSQL: `INSERT INTO "notes" DEFAULT VALUES;`,
			id:        1,
			expect:    store.RowID(1),
		},
		{
			name:      "quoted identifiers",
			table:     `we"ird`,
			r:         row.New(`co"l`, "v"),
			expectSQL: `INSERT INTO "we""ird" ("co""l") VALUES (?);`,
			args:      []any{"v"},
			id:        3,
			expect:    store.RowID(3),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			driver, dbMock, err := sqlmock.New()
			if !assert.NoError(err) {
				return
			}
			st := New(driver)

			exec := dbMock.ExpectExec(regexp.QuoteMeta(tc.expectSQL))
			if len(tc.args) > 0 {
				exec = exec.WithArgs(toDriverArgs(tc.args)...)
			}
			exec.WillReturnResult(sqlmock.NewResult(tc.id, 1))

			actual, err := st.Insert(context.Background(), store.InsertQuery{Table: tc.table}, tc.r)

			if !assert.NoError(err) {
				return
			}
			assert.Equal(tc.expect, actual)
			assert.NoError(dbMock.ExpectationsWereMet())
		})
	}
}

func Test_Update(t *testing.T) {
	t.Run("by id", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		dbMock.
			ExpectExec(regexp.QuoteMeta(`UPDATE "notes" SET "_id" = ?, "title" = ? WHERE "_id" = ?;`)).
			WithArgs(int64(3), "b", int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := st.Update(context.Background(), store.UpdateQuery{
			Table: "notes",
			Where: store.Criteria{store.Eq("_id", row.Int(3))},
		}, row.New("_id", 3, "title", "b"))

		if !assert.NoError(err) {
			return
		}
		assert.Equal(int64(1), n)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("null criterion and several rows", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		dbMock.
			ExpectExec(regexp.QuoteMeta(`UPDATE "notes" SET "title" = ? WHERE "group" = ? AND "deleted" IS NULL;`)).
			WithArgs("b", "g").
			WillReturnResult(sqlmock.NewResult(0, 5))

		n, err := st.Update(context.Background(), store.UpdateQuery{
			Table: "notes",
			Where: store.Criteria{
				store.Eq("group", row.String("g")),
				store.Eq("deleted", row.NullValue()),
			},
		}, row.New("title", "b"))

		if !assert.NoError(err) {
			return
		}
		assert.Equal(int64(5), n)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("nothing to set", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		_, err = st.Update(context.Background(), store.UpdateQuery{Table: "notes"}, row.Row{})

		assert.ErrorIs(err, jelstor.ErrDB)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		boom := errors.New("boom")
		dbMock.ExpectExec(`UPDATE "notes"`).WillReturnError(boom)

		_, err = st.Update(context.Background(), store.UpdateQuery{Table: "notes"}, row.New("title", "b"))

		assert.ErrorIs(err, boom)
		assert.ErrorIs(err, jelstor.ErrDB)
	})
}

func Test_Query(t *testing.T) {
	assert := assert.New(t)

	driver, dbMock, err := sqlmock.New()
	if !assert.NoError(err) {
		return
	}
	st := New(driver)

	dbMock.
		ExpectQuery(regexp.QuoteMeta(`SELECT "_id", "title" FROM "notes" WHERE "title" = ? LIMIT 2;`)).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"_id", "title"}).
			AddRow(int64(1), "a").
			AddRow(int64(2), "a"),
		)

	cur, err := st.Query(context.Background(), store.Query{
		Table:   "notes",
		Columns: []string{"_id", "title"},
		Where:   store.Criteria{store.Eq("title", row.String("a"))},
		Limit:   2,
	})
	if !assert.NoError(err) {
		return
	}

	var actual []row.Row
	for cur.Next() {
		actual = append(actual, cur.Row())
	}
	assert.NoError(cur.Err())
	assert.NoError(cur.Close())
	assert.NoError(cur.Close(), "second close should be a no-op")

	expect := []row.Row{
		row.New("_id", 1, "title", "a"),
		row.New("_id", 2, "title", "a"),
	}
	if assert.Len(actual, len(expect)) {
		for i := range expect {
			assert.True(expect[i].Equal(actual[i]), "row %d: expected %s, got %s", i, expect[i], actual[i])
		}
	}
	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Tx(t *testing.T) {
	t.Run("commit when successful", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		dbMock.ExpectBegin()
		dbMock.ExpectExec(`INSERT INTO "notes"`).WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		tx, err := st.Begin(context.Background())
		if !assert.NoError(err) {
			return
		}
		_, err = tx.Insert(context.Background(), store.InsertQuery{Table: "notes"}, row.New("title", "a"))
		assert.NoError(err)

		tx.SetSuccessful()
		assert.NoError(tx.End())
		assert.ErrorIs(tx.End(), jelstor.ErrTxDone)

		_, err = tx.Insert(context.Background(), store.InsertQuery{Table: "notes"}, row.New("title", "b"))
		assert.ErrorIs(err, jelstor.ErrTxDone)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("rollback when not successful", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		dbMock.ExpectBegin()
		dbMock.ExpectExec(`INSERT INTO "notes"`).WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectRollback()

		tx, err := st.Begin(context.Background())
		if !assert.NoError(err) {
			return
		}
		_, err = tx.Insert(context.Background(), store.InsertQuery{Table: "notes"}, row.New("title", "a"))
		assert.NoError(err)

		assert.NoError(tx.End())
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("open transaction holds the write window", func(t *testing.T) {
		assert := assert.New(t)

		driver, dbMock, err := sqlmock.New()
		if !assert.NoError(err) {
			return
		}
		st := New(driver)

		dbMock.ExpectBegin()
		dbMock.ExpectRollback()

		tx, err := st.Begin(context.Background())
		if !assert.NoError(err) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = st.Insert(ctx, store.InsertQuery{Table: "notes"}, row.New("title", "a"))
		assert.ErrorIs(err, context.DeadlineExceeded)

		assert.NoError(tx.End())
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Close(t *testing.T) {
	assert := assert.New(t)

	driver, dbMock, err := sqlmock.New()
	if !assert.NoError(err) {
		return
	}
	st := New(driver)

	dbMock.ExpectClose()

	assert.NoError(st.Close())
	assert.NoError(st.Close())

	_, err = st.Query(context.Background(), store.Query{Table: "notes"})
	assert.ErrorIs(err, jelstor.ErrClosed)
	_, err = st.Begin(context.Background())
	assert.ErrorIs(err, jelstor.ErrClosed)
	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_RealDB(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st, err := Open(filepath.Join(t.TempDir(), "real.db"))
	if !assert.NoError(err) {
		return
	}
	defer st.Close()

	err = st.Exec(ctx, `CREATE TABLE notes (_id INTEGER PRIMARY KEY, title TEXT NOT NULL UNIQUE, score REAL, data BLOB);`)
	if !assert.NoError(err) {
		return
	}

	id, err := st.Insert(ctx, store.InsertQuery{Table: "notes"}, row.New("title", "a", "score", 1.5, "data", []byte{1, 2}))
	if !assert.NoError(err) {
		return
	}
	assert.Equal(store.RowID(1), id)

	_, err = st.Insert(ctx, store.InsertQuery{Table: "notes"}, row.New("title", "a"))
	assert.ErrorIs(err, jelstor.ErrConstraintViolation)
	assert.ErrorIs(err, jelstor.ErrDB)

	all, err := store.ReadAll[row.Row](ctx, st, store.Query{Table: "notes"}, row.Identity{})
	if !assert.NoError(err) || !assert.Len(all, 1) {
		return
	}
	expect := row.New("_id", 1, "title", "a", "score", 1.5, "data", []byte{1, 2})
	assert.True(expect.Equal(all[0]), "expected %s, got %s", expect, all[0])

	n, err := st.Update(ctx, store.UpdateQuery{Table: "notes", Where: store.Criteria{store.Eq("_id", row.Int(99))}}, row.New("title", "b"))
	assert.NoError(err)
	assert.Equal(int64(0), n)
}

func toDriverArgs(args []any) []driver.Value {
	vals := make([]driver.Value, len(args))
	for i := range args {
		vals[i] = args[i]
	}
	return vals
}
