package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
)

const (
	outputPlugin          = "wal2json"
	standbyMessageTimeout = 10 * time.Second
)

// Feed follows one relation through a temporary logical replication slot.
// The slot starts at the current WAL position, so only changes committed
// after the feed opened are delivered.
type Feed struct {
	conn   *pgconn.PgConn
	filter Filter
	slot   string
	log    *zap.Logger
	now    func() time.Time

	pending      []frame.Row
	lastLSN      pglogrepl.LSN
	nextStandby  time.Time
	closedRemote bool
}

// slotName returns a unique, valid slot identifier.
func slotName(prefix string) string {
	if prefix == "" {
		prefix = "mzlive"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToLower(prefix) + "_" + id[:16]
}

// replicationConnString adds replication=database to a postgres:// URL.
func replicationConnString(connString string) string {
	sep := "?"
	if strings.Contains(connString, "?") {
		sep = "&"
	}
	return connString + sep + "replication=database"
}

// OpenFeed connects in replication mode and starts streaming changes of f.
func OpenFeed(ctx context.Context, connString, slotPrefix string, f Filter, log *zap.Logger) (*Feed, error) {
	if log == nil {
		log = zap.L()
	}
	conn, err := pgconn.Connect(ctx, replicationConnString(connString))
	if err != nil {
		return nil, apperr.Wrap(apperr.Connection, "replication connect", err)
	}

	sys, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, apperr.Wrap(apperr.Connection, "identify system", err)
	}

	slot := slotName(slotPrefix)
	if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, slot, outputPlugin,
		pglogrepl.CreateReplicationSlotOptions{Temporary: true}); err != nil {
		_ = conn.Close(context.Background())
		return nil, apperr.Wrap(apperr.Connection, "create replication slot "+slot, err)
	}

	args := []string{
		`"include-types" 'true'`,
		`"include-timestamp" 'true'`,
		fmt.Sprintf(`"add-tables" '%s'`, f.AddTables()),
	}
	if err := pglogrepl.StartReplication(ctx, conn, slot, sys.XLogPos,
		pglogrepl.StartReplicationOptions{PluginArgs: args}); err != nil {
		_ = conn.Close(context.Background())
		return nil, apperr.Wrap(apperr.Connection, "start replication", err)
	}

	log.Info("logical replication started",
		zap.String("slot", slot),
		zap.String("tables", f.AddTables()),
		zap.String("xlogpos", sys.XLogPos.String()),
	)

	return &Feed{
		conn:        conn,
		filter:      f,
		slot:        slot,
		log:         log,
		now:         time.Now,
		lastLSN:     sys.XLogPos,
		nextStandby: time.Now().Add(standbyMessageTimeout),
	}, nil
}

// Recv returns the next change row.
func (f *Feed) Recv(ctx context.Context) (frame.Row, error) {
	for len(f.pending) == 0 {
		if f.closedRemote {
			return frame.Row{}, io.EOF
		}
		if err := f.receive(ctx); err != nil {
			return frame.Row{}, err
		}
	}
	row := f.pending[0]
	f.pending = f.pending[1:]
	return row, nil
}

// receive handles one replication message, or a standby deadline.
func (f *Feed) receive(ctx context.Context) error {
	if time.Now().After(f.nextStandby) {
		err := pglogrepl.SendStandbyStatusUpdate(ctx, f.conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: f.lastLSN})
		if err != nil {
			return apperr.Wrap(apperr.Connection, "send standby status", err)
		}
		f.nextStandby = time.Now().Add(standbyMessageTimeout)
	}

	rctx, cancel := context.WithDeadline(ctx, f.nextStandby)
	rawMsg, err := f.conn.ReceiveMessage(rctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
			return nil
		}
		return apperr.Wrap(apperr.Connection, "receive replication message", err)
	}

	switch msg := rawMsg.(type) {
	case *pgproto3.ErrorResponse:
		return apperr.Wrap(apperr.Connection, "replication", errors.New(msg.Message))
	case *pgproto3.CopyDone:
		f.closedRemote = true
		return nil
	case *pgproto3.CopyData:
		return f.handleCopyData(msg.Data)
	default:
		f.log.Debug("unexpected replication message", zap.String("type", fmt.Sprintf("%T", rawMsg)))
		return nil
	}
}

func (f *Feed) handleCopyData(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(data[1:])
		if err != nil {
			return apperr.Wrap(apperr.Connection, "parse keepalive", err)
		}
		if pkm.ServerWALEnd > f.lastLSN {
			f.lastLSN = pkm.ServerWALEnd
		}
		if pkm.ReplyRequested {
			f.nextStandby = time.Time{}
		}

	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(data[1:])
		if err != nil {
			return apperr.Wrap(apperr.Connection, "parse xlog data", err)
		}
		rows, err := Decode(xld.WALData, f.filter, f.now())
		if err != nil {
			return apperr.Wrap(apperr.Conversion, "decode change", err)
		}
		f.pending = append(f.pending, rows...)
		if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > f.lastLSN {
			f.lastLSN = end
		}
	}
	return nil
}

// Close ends the replication connection. The temporary slot is dropped by
// the server when the session ends.
func (f *Feed) Close() {
	if err := f.conn.Close(context.Background()); err != nil {
		f.log.Warn("replication connection close failed", zap.String("slot", f.slot), zap.Error(err))
	}
}
