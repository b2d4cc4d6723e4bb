// Package warehouse reads from the analytical database jobs extract from.
//
// Every execution opens its own connection through a Connector; nothing is
// pooled or shared between executions. Results are consumed in batches from
// a Cursor so a large extraction never sits in memory.
package warehouse

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/exportd/errors"
)

// Connector opens a fresh warehouse connection.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a single warehouse connection owned by one execution.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (Cursor, error)
	Close() error
}

// Cursor streams query results.
type Cursor interface {
	// Columns returns the result column names.
	Columns() []string
	// Next returns up to n rows. An empty slice means the result is exhausted.
	Next(n int) ([][]any, error)
	Close() error
}

// sqlConn adapts *sql.DB to Conn.
type sqlConn struct {
	db *sql.DB
}

// NewConn wraps an open *sql.DB. Closing the Conn closes db.
func NewConn(db *sql.DB) Conn {
	return &sqlConn{db: db}
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (Cursor, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "run query"), errors.ErrExtraction)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.Mark(errors.Wrap(err, "read result columns"), errors.ErrExtraction)
	}
	return &sqlCursor{rows: rows, cols: cols}, nil
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}

type sqlCursor struct {
	rows *sql.Rows
	cols []string
	done bool
}

func (c *sqlCursor) Columns() []string {
	return c.cols
}

func (c *sqlCursor) Next(n int) ([][]any, error) {
	if c.done {
		return nil, nil
	}
	batch := make([][]any, 0, n)
	for len(batch) < n {
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return nil, errors.Mark(errors.Wrap(err, "fetch rows"), errors.ErrExtraction)
			}
			break
		}
		vals := make([]any, len(c.cols))
		ptrs := make([]any, len(c.cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "scan row"), errors.ErrExtraction)
		}
		for i, v := range vals {
			// Text columns arrive as bytes from some drivers
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		batch = append(batch, vals)
	}
	return batch, nil
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}

// Binder turns window bounds into query arguments.
type Binder struct {
	// Layout formats bounds as text. Empty binds them as time.Time.
	Layout string
}

// Bind returns one argument per bound.
func (b Binder) Bind(bounds ...time.Time) []any {
	args := make([]any, len(bounds))
	for i, t := range bounds {
		if b.Layout == "" {
			args[i] = t
		} else {
			args[i] = t.Format(b.Layout)
		}
	}
	return args
}
