package mzclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/pkg/fixgres"
)

func TestMain(m *testing.M) {
	if fixgres.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := fixgres.Boot(ctx)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "fixgres boot failed:", err)
			os.Exit(1)
		}
	}
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func sandboxSettings(sbx *fixgres.Sandbox) Settings {
	ep := sbx.Endpoint
	return Settings{Host: ep.Host, Port: ep.Port, Username: ep.User, Password: ep.Password, Database: ep.Database}
}

func TestConnectValidatesSettings(t *testing.T) {
	_, err := Dialer{}.Connect(context.Background(), Settings{Port: 6875})
	require.True(t, apperr.Is(err, apperr.InvalidSettings))
}

func TestConnectFailureMasksPassword(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dialer{}.Connect(ctx, Settings{Host: "127.0.0.1", Port: 1, Username: "u", Password: "hunter2"})
	require.True(t, apperr.Is(err, apperr.Connection))
	require.NotContains(t, err.Error(), "hunter2")
}

type order struct {
	ID    int64  `db:"id,pk,autoinc" faker:"-"`
	Item  string `db:"item" faker:"word"`
	Price int32  `db:"price" faker:"boundary_start=1, boundary_end=500"`
}

func TestQueryReadsTypedRows(t *testing.T) {
	r := require.New(t)
	sbx := fixgres.NewSandbox(t)
	ctx := context.Background()

	_, err := sbx.DB.ExecContext(ctx, `CREATE TABLE orders (
		id bigserial PRIMARY KEY,
		item text NOT NULL,
		price int NOT NULL,
		meta jsonb DEFAULT '{"gift": true}',
		placed date DEFAULT '2024-03-01'
	)`)
	r.NoError(err)
	fakes, err := fixgres.InsertFakes[order](ctx, sbx.DB, "orders", 3)
	r.NoError(err)

	conn, err := Dialer{}.Connect(ctx, sandboxSettings(sbx))
	r.NoError(err)
	defer conn.Close()
	r.NoError(conn.Ping(ctx))

	rows, err := conn.Query(ctx, "SELECT item, price, meta, placed FROM "+sbx.Qualify("orders")+" ORDER BY id")
	r.NoError(err)
	r.Len(rows, 3)

	cols := rows[0].Columns
	r.Equal([]frame.ColumnType{frame.TypeText, frame.TypeInt4, frame.TypeJSON, frame.TypeDate},
		[]frame.ColumnType{cols[0].Type, cols[1].Type, cols[2].Type, cols[3].Type})
	r.Equal(fakes[0].Item, rows[0].Values[0])
	r.JSONEq(`{"gift": true}`, string(rows[0].Values[2].(json.RawMessage)))

	fr, err := frame.Convert(rows)
	r.NoError(err)
	r.Equal(3, fr.Rows())
}

func TestQueryErrorIsConnectionKind(t *testing.T) {
	sbx := fixgres.NewSandbox(t)
	ctx := context.Background()
	conn, err := Dialer{}.Connect(ctx, sandboxSettings(sbx))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Query(ctx, "SELECT * FROM does_not_exist")
	require.True(t, apperr.Is(err, apperr.Connection))
}
