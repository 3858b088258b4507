// Package wal provides changefeeds for plain PostgreSQL datasources by
// following a relation through logical replication with wal2json.
package wal

import (
	"context"

	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/mzclient"
	"github.com/zoravur/materialize-live/internal/target"
)

// Dialer opens PostgreSQL clients. Snapshots go through an ordinary
// connection; changefeeds open their own replication connection.
type Dialer struct {
	SlotPrefix string
	Logger     *zap.Logger
}

type Conn struct {
	*mzclient.Conn
	settings   mzclient.Settings
	slotPrefix string
	log        *zap.Logger
}

func (d Dialer) Connect(ctx context.Context, s mzclient.Settings) (*Conn, error) {
	log := d.Logger
	if log == nil {
		log = zap.L()
	}
	c, err := mzclient.Dialer{Logger: log}.Connect(ctx, s)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c, settings: s, slotPrefix: d.SlotPrefix, log: log}, nil
}

// Changefeed follows a relation. Arbitrary queries cannot be followed
// through logical replication.
func (c *Conn) Changefeed(ctx context.Context, t target.Target) (*Feed, error) {
	if t.Kind != target.KindRelation {
		return nil, apperr.New(apperr.InvalidTarget, "postgres datasources only stream relations")
	}
	return OpenFeed(ctx, c.settings.ConnString(), c.slotPrefix, FilterFor(string(t.Name)), c.log)
}
