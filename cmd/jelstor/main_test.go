package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/config"
	"github.com/dekarrin/jelstor/row"
	"github.com/stretchr/testify/assert"
)

func Test_readRows(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expect    []row.Row
		expectErr bool
	}{
		{
			name:   "single object",
			input:  `{"title": "a", "_id": 3}`,
			expect: []row.Row{row.New("_id", 3, "title", "a")},
		},
		{
			name:  "array",
			input: `[{"n": 1}, {"n": 2.5, "ok": true, "none": null}]`,
			expect: []row.Row{
				row.New("n", 1),
				row.New("n", 2.5, "none", nil, "ok", 1),
			},
		},
		{
			name:   "nested values become json text",
			input:  `[{"list": [1, 2], "obj": {"k": "v"}}]`,
			expect: []row.Row{row.New("list", "[1,2]", "obj", `{"k":"v"}`)},
		},
		{
			name:   "large integer stays exact",
			input:  `{"n": 9007199254740993}`,
			expect: []row.Row{row.New("n", int64(9007199254740993))},
		},
		{
			name:   "empty input",
			input:  "  \n",
			expect: nil,
		},
		{
			name:   "empty array",
			input:  "[]",
			expect: []row.Row{},
		},
		{
			name:      "null element",
			input:     `[{"n": 1}, null]`,
			expectErr: true,
		},
		{
			name:      "not an object",
			input:     `[1, 2]`,
			expectErr: true,
		},
		{
			name:      "malformed",
			input:     `[{"n": }]`,
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := readRows(strings.NewReader(tc.input))

			if tc.expectErr {
				assert.Error(err)
				return
			}
			if !assert.NoError(err) {
				return
			}
			if !assert.Len(actual, len(tc.expect)) {
				return
			}
			for i := range tc.expect {
				assert.True(tc.expect[i].Equal(*actual[i]), "row %d: expected %s, got %s", i, tc.expect[i], actual[i])
			}
		})
	}
}

func Test_run(t *testing.T) {
	t.Run("inmem insert then update", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.Background()
		dir := t.TempDir()

		cfg := config.Config{
			DB: config.Database{Type: config.DatabaseInMemory, DataFile: filepath.Join(dir, "snap.rezi")},
		}.FillDefaults()

		first := writeFile(t, dir, "first.json", `[{"title": "a"}, {"_id": 7, "title": "b"}]`)
		var out bytes.Buffer
		err := run(ctx, putOptions{cfg: cfg, table: "notes", files: []string{first}}, nil, &out)
		if !assert.NoError(err) {
			return
		}
		assert.Equal("2 inserted, 0 updated\n"+
			"0: inserted 1 into Changes{tables=notes}\n"+
			"1: inserted 7 into Changes{tables=notes}\n", out.String())

		out.Reset()
		err = run(ctx, putOptions{cfg: cfg, table: "notes", tags: []string{"sync"}, files: []string{"-"}}, strings.NewReader(`{"_id": 1, "title": "c"}`), &out)
		if !assert.NoError(err) {
			return
		}
		assert.Equal("0 inserted, 1 updated\n"+
			"0: updated 1 row(s) of Changes{tables=notes tags=sync}\n", out.String())
	})

	t.Run("sqlite batch rolls back on failure", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.Background()
		dir := t.TempDir()

		cfg := config.Config{
			DB: config.Database{Type: config.DatabaseSQLite, DataDir: filepath.Join(dir, "data")},
		}.FillDefaults()
		schema := writeFile(t, dir, "schema.sql", `CREATE TABLE IF NOT EXISTS notes (_id INTEGER PRIMARY KEY, title TEXT NOT NULL);`)

		bad := writeFile(t, dir, "bad.json", `[{"title": "a"}, {"title": null}]`)
		var out bytes.Buffer
		err := run(ctx, putOptions{cfg: cfg, table: "notes", schema: schema, files: []string{bad}}, nil, &out)
		assert.ErrorIs(err, jelstor.ErrConstraintViolation)
		assert.Empty(out.String())

		good := writeFile(t, dir, "good.json", `[{"title": "a"}]`)
		err = run(ctx, putOptions{cfg: cfg, table: "notes", schema: schema, files: []string{good}}, nil, &out)
		if !assert.NoError(err) {
			return
		}
		assert.Equal("1 inserted, 0 updated\n0: inserted 1 into Changes{tables=notes}\n", out.String(), "the failed batch wrote nothing")
	})

	t.Run("schema needs sqlite", func(t *testing.T) {
		cfg := config.Config{}.FillDefaults()

		err := run(context.Background(), putOptions{cfg: cfg, table: "notes", schema: "x.sql", files: []string{"-"}}, strings.NewReader("{}"), &bytes.Buffer{})

		assert.ErrorContains(t, err, "only sqlite")
	})

	t.Run("missing input file", func(t *testing.T) {
		cfg := config.Config{}.FillDefaults()

		err := run(context.Background(), putOptions{cfg: cfg, table: "notes", files: []string{filepath.Join(t.TempDir(), "nope.json")}}, nil, &bytes.Buffer{})

		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	file := filepath.Join(dir, name)
	if err := os.WriteFile(file, []byte(content), 0660); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return file
}
