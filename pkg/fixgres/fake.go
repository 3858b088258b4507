package fixgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"strings"

	faker "github.com/go-faker/faker/v4"
)

// prngReader is a deterministic io.Reader backed by a math/rand RNG.
type prngReader struct {
	r *rand.Rand
}

// NewReader returns a deterministic reader seeded by seed.
func NewReader(seed int64) io.Reader {
	return &prngReader{r: rand.New(rand.NewSource(seed))}
}

func (r *prngReader) Read(p []byte) (int, error) {
	var buf [8]byte
	for i := 0; i < len(p); i += 8 {
		binary.LittleEndian.PutUint64(buf[:], uint64(r.r.Int63()))
		copy(p[i:], buf[:])
	}
	return len(p), nil
}

// SeedFaker makes faker output reproducible for seed.
func SeedFaker(seed int64) {
	faker.SetCryptoSource(NewReader(seed))
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertFakes fills n values of T with faker and inserts them into table.
// Columns come from `db` struct tags; "-" and autoinc fields are skipped.
func InsertFakes[T any](ctx context.Context, q Execer, table string, n int) ([]T, error) {
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		var v T
		if err := faker.FakeData(&v); err != nil {
			return nil, fmt.Errorf("fake %s: %w", table, err)
		}
		if err := Insert(ctx, q, table, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Insert writes v's tagged fields as one row of table.
func Insert(ctx context.Context, q Execer, table string, v any) error {
	cols, vals := columnsAndValues(v)
	if len(cols) == 0 {
		return fmt.Errorf("insert %s: no db-tagged fields", table)
	}
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(ph, ", "))
	if _, err := q.ExecContext(ctx, stmt, vals...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func columnsAndValues(u any) (cols []string, vals []any) {
	v := reflect.Indirect(reflect.ValueOf(u))
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		dbTag := f.Tag.Get("db")
		if dbTag == "" {
			continue
		}

		parts := strings.Split(dbTag, ",")
		col := parts[0]
		if col == "-" {
			continue
		}
		if len(parts) > 1 && strings.Contains(dbTag, "autoinc") {
			continue
		}

		cols = append(cols, col)
		vals = append(vals, v.Field(i).Interface())
	}
	return
}
