// Package mzclient talks to Materialize (or anything speaking the postgres
// wire protocol) with one dedicated pgx connection per request or stream.
package mzclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/logutil"
	"github.com/zoravur/materialize-live/internal/target"
)

// Dialer opens connections. Statement selects the changefeed keyword.
type Dialer struct {
	Statement target.Statement
	Logger    *zap.Logger
}

// Conn is a single, unpooled connection. It must not be shared between
// concurrent operations.
type Conn struct {
	conn      *pgx.Conn
	statement target.Statement
	log       *zap.Logger
}

func (d Dialer) Connect(ctx context.Context, s Settings) (*Conn, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	log := d.Logger
	if log == nil {
		log = zap.L()
	}

	cfg, err := pgx.ParseConfig(s.ConnString())
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidSettings, "parse connection string", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.Connection, fmt.Sprintf("connect to %s", logutil.Mask(s.ConnString())), err)
	}
	return &Conn{conn: conn, statement: d.Statement, log: log}, nil
}

// Query runs sql and returns every row.
func (c *Conn) Query(ctx context.Context, sql string) ([]frame.Row, error) {
	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, apperr.Wrap(apperr.Connection, "query", err)
	}
	out, err := ReadRows(rows)
	if err != nil {
		return nil, apperr.Wrap(apperr.Connection, "read rows", err)
	}
	return out, nil
}

// Ping runs the liveness probe.
func (c *Conn) Ping(ctx context.Context) error {
	var one int
	if err := c.conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return apperr.Wrap(apperr.Connection, "health probe", err)
	}
	return nil
}

// Changefeed declares a cursor over the target's changefeed statement and
// fetches from it until the stream is closed. The statement never asks for
// an initial snapshot.
func (c *Conn) Changefeed(ctx context.Context, t target.Target) (*Feed, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Connection, "begin changefeed transaction", err)
	}
	stmt := "DECLARE c CURSOR FOR " + t.ChangefeedSQL(c.statement)
	if _, err := tx.Exec(ctx, stmt); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, apperr.Wrap(apperr.Connection, "declare changefeed cursor", err)
	}
	c.log.Debug("changefeed cursor declared", zap.String("target", t.String()))
	return &Feed{tx: tx}, nil
}

// Close releases the connection. Failures are logged, not returned.
func (c *Conn) Close() {
	if err := c.conn.Close(context.Background()); err != nil {
		c.log.Warn("connection close failed", zap.Error(err))
	}
}

// Feed is a changefeed read through a cursor.
type Feed struct {
	tx      pgx.Tx
	pending []frame.Row
	done    bool
}

// Recv returns the next change row, blocking until one is available.
// It returns io.EOF once the upstream ends the feed.
func (f *Feed) Recv(ctx context.Context) (frame.Row, error) {
	for len(f.pending) == 0 {
		if f.done {
			return frame.Row{}, io.EOF
		}
		rows, err := f.tx.Query(ctx, "FETCH ALL c")
		if err != nil {
			return frame.Row{}, apperr.Wrap(apperr.Connection, "fetch changefeed", err)
		}
		batch, err := ReadRows(rows)
		if err != nil {
			return frame.Row{}, apperr.Wrap(apperr.Connection, "fetch changefeed", err)
		}
		// FETCH ALL without a timeout only returns empty once the cursor is exhausted
		if len(batch) == 0 {
			f.done = true
		}
		f.pending = batch
	}
	row := f.pending[0]
	f.pending = f.pending[1:]
	return row, nil
}

func (f *Feed) Close() {
	if err := f.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		zap.L().Debug("changefeed rollback failed", zap.Error(err))
	}
}

// ReadRows drains rows into frame rows that share one column slice. JSON
// values are re-encoded so the converter sees JSON text rather than decoded
// Go values.
func ReadRows(rows pgx.Rows) ([]frame.Row, error) {
	defer rows.Close()

	tm := rows.Conn().TypeMap()
	fds := rows.FieldDescriptions()
	cols := make([]frame.Column, len(fds))
	for i, fd := range fds {
		name := fmt.Sprintf("oid %d", fd.DataTypeOID)
		if dt, ok := tm.TypeForOID(fd.DataTypeOID); ok {
			name = dt.Name
		}
		cols[i] = frame.Column{Name: fd.Name, Type: frame.TypeForOID(fd.DataTypeOID), TypeName: name}
	}

	var out []frame.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, col := range cols {
			if col.Type != frame.TypeJSON || vals[i] == nil {
				continue
			}
			b, err := json.Marshal(vals[i])
			if err != nil {
				return nil, fmt.Errorf("re-encode json column %q: %w", col.Name, err)
			}
			vals[i] = json.RawMessage(b)
		}
		out = append(out, frame.Row{Columns: cols, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
