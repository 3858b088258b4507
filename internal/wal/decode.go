package wal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zoravur/materialize-live/internal/frame"
)

// Change is one wal2json (format version 1) change entry.
type Change struct {
	Kind         string   `json:"kind"`
	Schema       string   `json:"schema"`
	Table        string   `json:"table"`
	ColumnNames  []string `json:"columnnames"`
	ColumnTypes  []string `json:"columntypes"`
	ColumnValues []any    `json:"columnvalues"`
	OldKeys      *Keys    `json:"oldkeys"`
}

type Keys struct {
	KeyNames  []string `json:"keynames"`
	KeyTypes  []string `json:"keytypes"`
	KeyValues []any    `json:"keyvalues"`
}

// Envelope is one wal2json transaction.
type Envelope struct {
	Timestamp string   `json:"timestamp"`
	Change    []Change `json:"change"`
}

// Filter selects the changes of one relation. An empty Schema matches any.
type Filter struct {
	Schema string
	Table  string
}

// FilterFor splits "schema.table" or "table".
func FilterFor(relation string) Filter {
	if i := strings.IndexByte(relation, '.'); i >= 0 {
		return Filter{Schema: relation[:i], Table: relation[i+1:]}
	}
	return Filter{Table: relation}
}

func (f Filter) matches(ch Change) bool {
	return ch.Table == f.Table && (f.Schema == "" || ch.Schema == f.Schema)
}

// AddTables is the wal2json add-tables argument for f.
func (f Filter) AddTables() string {
	schema := f.Schema
	if schema == "" {
		schema = "*"
	}
	return schema + "." + f.Table
}

// Decode turns one wal2json message into change rows. Inserts emit a +1
// row, deletes a -1 row built from the old key image, and updates a -1 row
// for the old image (when present) followed by a +1 row for the new one.
func Decode(msg []byte, f Filter, now time.Time) ([]frame.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode wal2json message: %w", err)
	}

	ts := now
	if env.Timestamp != "" {
		if t, err := parseTime(env.Timestamp, frame.TypeTimestamptz); err == nil {
			ts = t
		}
	}

	var out []frame.Row
	for _, ch := range env.Change {
		if !f.matches(ch) {
			continue
		}
		switch ch.Kind {
		case "insert":
			row, err := changeRow(ts, 1, ch.ColumnNames, ch.ColumnTypes, ch.ColumnValues)
			if err != nil {
				return nil, err
			}
			out = append(out, row)
		case "update":
			if ch.OldKeys != nil {
				row, err := changeRow(ts, -1, ch.OldKeys.KeyNames, ch.OldKeys.KeyTypes, ch.OldKeys.KeyValues)
				if err != nil {
					return nil, err
				}
				out = append(out, row)
			}
			row, err := changeRow(ts, 1, ch.ColumnNames, ch.ColumnTypes, ch.ColumnValues)
			if err != nil {
				return nil, err
			}
			out = append(out, row)
		case "delete":
			if ch.OldKeys == nil {
				return nil, fmt.Errorf("delete on %s.%s carries no old keys", ch.Schema, ch.Table)
			}
			row, err := changeRow(ts, -1, ch.OldKeys.KeyNames, ch.OldKeys.KeyTypes, ch.OldKeys.KeyValues)
			if err != nil {
				return nil, err
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func changeRow(ts time.Time, diff int64, names, types []string, values []any) (frame.Row, error) {
	if len(names) != len(values) {
		return frame.Row{}, fmt.Errorf("%d column names for %d values", len(names), len(values))
	}

	cols := make([]frame.Column, 0, len(names)+2)
	vals := make([]any, 0, len(names)+2)
	cols = append(cols,
		frame.Column{Name: frame.TimestampColumn, Type: frame.TypeTimestamptz},
		frame.Column{Name: frame.DiffColumn, Type: frame.TypeInt8},
	)
	vals = append(vals, ts, diff)

	for i, name := range names {
		typeName := ""
		if i < len(types) {
			typeName = types[i]
		}
		ct := frame.TypeForName(typeName)
		v, err := coerce(values[i], ct)
		if err != nil {
			return frame.Row{}, fmt.Errorf("column %q: %w", name, err)
		}
		cols = append(cols, frame.Column{Name: name, Type: ct, TypeName: typeName})
		vals = append(vals, v)
	}
	return frame.Row{Columns: cols, Values: vals}, nil
}

// coerce turns wal2json's text rendering of temporal values into time.Time.
// Everything else is handed to the converter as decoded.
func coerce(v any, ct frame.ColumnType) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch ct {
	case frame.TypeDate, frame.TypeTimestamp, frame.TypeTimestamptz:
		return parseTime(s, ct)
	default:
		return v, nil
	}
}

var layouts = map[frame.ColumnType][]string{
	frame.TypeDate:      {"2006-01-02"},
	frame.TypeTimestamp: {"2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"},
	frame.TypeTimestamptz: {
		"2006-01-02 15:04:05.999999999Z07",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00:00",
		time.RFC3339Nano,
	},
}

func parseTime(s string, ct frame.ColumnType) (time.Time, error) {
	for _, layout := range layouts[ct] {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as %s", s, ct)
}
