package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/row"
)

// cursor adapts *sql.Rows to store.Cursor.
type cursor struct {
	rows   *sql.Rows
	cols   []string
	cur    row.Row
	err    error
	closed bool
}

func newCursor(rows *sql.Rows) *cursor {
	return &cursor{rows: rows}
}

func (c *cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}

	if c.cols == nil {
		cols, err := c.rows.Columns()
		if err != nil {
			c.err = jelstor.WrapDBError(err, "get columns")
			return false
		}
		c.cols = cols
	}

	if !c.rows.Next() {
		return false
	}

	raw := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = jelstor.WrapDBError(err)
		return false
	}

	var r row.Row
	for i, col := range c.cols {
		v, err := row.ValueOf(raw[i])
		if err != nil {
			c.err = jelstor.NewError(fmt.Sprintf("column %q", col), err, jelstor.ErrDecodingFailure)
			return false
		}
		r.Set(col, v)
	}
	c.cur = r
	return true
}

func (c *cursor) Row() row.Row {
	return c.cur
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return jelstor.WrapDBError(err)
	}
	return nil
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.rows.Close(); err != nil {
		return jelstor.WrapDBError(err)
	}
	return nil
}
