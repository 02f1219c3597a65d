package core

import (
	"database/sql"
	"database/sql/driver"
	"io"
)

// Cursor is a forward-only result set. It has the shape of driver.Rows so
// that cursors handed back by drivers (go-ora DataSet, godror ref cursors)
// can be mapped without conversion. Next returns io.EOF after the last row.
type Cursor interface {
	Columns() []string
	Next(dest []driver.Value) error
	Close() error
}

// rowsCursor adapts *sql.Rows to Cursor.
type rowsCursor struct {
	rows *sql.Rows
	cols []string
	buf  []any
}

// RowsCursor wraps rows. Column lookup errors surface on the first Next.
func RowsCursor(rows *sql.Rows) Cursor {
	return &rowsCursor{rows: rows}
}

func (c *rowsCursor) Columns() []string {
	if c.cols == nil {
		cols, err := c.rows.Columns()
		if err != nil {
			return nil
		}
		c.cols = cols
	}
	return c.cols
}

func (c *rowsCursor) Next(dest []driver.Value) error {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	if c.buf == nil {
		c.buf = make([]any, len(dest))
	}
	ptrs := make([]any, len(c.buf))
	for i := range c.buf {
		c.buf[i] = nil
		ptrs[i] = &c.buf[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return err
	}
	for i := range dest {
		dest[i] = c.buf[i]
	}
	return nil
}

func (c *rowsCursor) Close() error {
	return c.rows.Close()
}
