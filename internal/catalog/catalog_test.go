package catalog

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoravur/materialize-live/internal/apperr"
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

func TestOpenRejectsUnknownFlavor(t *testing.T) {
	_, err := Open("postgres://localhost/x", Flavor("mysql"), Options{})
	require.True(t, apperr.Is(err, apperr.InvalidSettings))
}

func TestPostgresListing(t *testing.T) {
	r := require.New(t)
	sbx := fixgres.NewSandbox(t)
	ctx := context.Background()

	for _, stmt := range []string{
		`CREATE TABLE orders (id int PRIMARY KEY, item text)`,
		`CREATE VIEW big_orders AS SELECT * FROM orders WHERE id > 10`,
		`CREATE MATERIALIZED VIEW order_count AS SELECT count(*) FROM orders`,
	} {
		_, err := sbx.DB.ExecContext(ctx, stmt)
		r.NoError(err, stmt)
	}

	l, err := Open(sbx.Endpoint.ConnString(), Postgres, Options{Schemas: []string{sbx.Schema}})
	r.NoError(err)
	defer l.Close()

	r.NoError(l.Ping(ctx))

	names, err := l.Names(ctx)
	r.NoError(err)
	r.Equal([]string{"big_orders", "order_count", "orders"}, names)

	rels, err := l.Relations(ctx)
	r.NoError(err)
	r.Equal([]Relation{
		{Schema: sbx.Schema, Name: "big_orders", Type: "view"},
		{Schema: sbx.Schema, Name: "order_count", Type: "materialized view"},
		{Schema: sbx.Schema, Name: "orders", Type: "table"},
	}, rels)
}

func TestPingFailsOnBadEndpoint(t *testing.T) {
	l, err := Open("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", Postgres, Options{})
	require.NoError(t, err)
	defer l.Close()
	err = l.Ping(context.Background())
	require.True(t, apperr.Is(err, apperr.Connection))
}
