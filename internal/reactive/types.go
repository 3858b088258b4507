package reactive

import (
	"context"

	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/mzclient"
	"github.com/zoravur/materialize-live/internal/target"
)

// Datasource is the context every request must carry.
type Datasource struct {
	UID      string
	Kind     string
	Settings mzclient.Settings
}

// RowStream is an upstream changefeed. Recv blocks until a change row is
// available and returns io.EOF when the upstream ends the feed.
type RowStream interface {
	Recv(ctx context.Context) (frame.Row, error)
	Close()
}

// Client is one database connection. It is used by a single request or a
// single changefeed and never shared between concurrent operations.
type Client interface {
	Query(ctx context.Context, sql string) ([]frame.Row, error)
	Changefeed(ctx context.Context, t target.Target) (RowStream, error)
	Close()
}

type Connector interface {
	Connect(ctx context.Context, ds Datasource) (Client, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, ds Datasource) (Client, error)

func (f ConnectorFunc) Connect(ctx context.Context, ds Datasource) (Client, error) {
	return f(ctx, ds)
}

// PacketSender delivers one frame to the caller of RunStream.
type PacketSender interface {
	Send(*frame.Frame) error
}

// SenderFunc adapts a function to PacketSender.
type SenderFunc func(*frame.Frame) error

func (f SenderFunc) Send(fr *frame.Frame) error { return f(fr) }
