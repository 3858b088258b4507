package reactive

import (
	"context"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/mzclient"
	"github.com/zoravur/materialize-live/internal/target"
	"github.com/zoravur/materialize-live/internal/wal"
)

const (
	KindMaterialize = "materialize"
	KindPostgres    = "postgres"
)

// Connectors dispatches on Datasource.Kind.
type Connectors map[string]Connector

func (c Connectors) Connect(ctx context.Context, ds Datasource) (Client, error) {
	conn, ok := c[ds.Kind]
	if !ok {
		return nil, apperr.Newf(apperr.InvalidSettings, "no connector for datasource kind %q", ds.Kind)
	}
	return conn.Connect(ctx, ds)
}

// MaterializeConnector follows targets with SUBSCRIBE or TAIL cursors.
func MaterializeConnector(d mzclient.Dialer) Connector {
	return ConnectorFunc(func(ctx context.Context, ds Datasource) (Client, error) {
		c, err := d.Connect(ctx, ds.Settings)
		if err != nil {
			return nil, err
		}
		return mzConn{c}, nil
	})
}

type mzConn struct{ *mzclient.Conn }

func (c mzConn) Changefeed(ctx context.Context, t target.Target) (RowStream, error) {
	f, err := c.Conn.Changefeed(ctx, t)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// PostgresConnector follows relations through logical replication.
func PostgresConnector(d wal.Dialer) Connector {
	return ConnectorFunc(func(ctx context.Context, ds Datasource) (Client, error) {
		c, err := d.Connect(ctx, ds.Settings)
		if err != nil {
			return nil, err
		}
		return pgConn{c}, nil
	})
}

type pgConn struct{ *wal.Conn }

func (c pgConn) Changefeed(ctx context.Context, t target.Target) (RowStream, error) {
	f, err := c.Conn.Changefeed(ctx, t)
	if err != nil {
		return nil, err
	}
	return f, nil
}
