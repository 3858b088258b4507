// Package reactive serves snapshots and live changefeeds of relations and
// queries. One-shot queries and stream subscriptions each read their own
// snapshot; live changes for a (datasource, target) pair come from a single
// shared upstream changefeed opened without an initial snapshot, so the two
// paths never overlap in content.
package reactive

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/logutil"
	"github.com/zoravur/materialize-live/internal/metrics"
	"github.com/zoravur/materialize-live/internal/querycache"
	"github.com/zoravur/materialize-live/internal/target"
)

// Gateway is safe for concurrent use.
type Gateway struct {
	conn        Connector
	cache       *querycache.Cache
	registry    *Registry
	concurrency int
	convert     frame.Converter
}

type Options struct {
	// Concurrency bounds the snapshot queries of one batch run at once.
	// Zero means unbounded.
	Concurrency int
	Converter   frame.Converter
}

func NewGateway(conn Connector, cache *querycache.Cache, reg *Registry, opt Options) *Gateway {
	return &Gateway{
		conn:        conn,
		cache:       cache,
		registry:    reg,
		concurrency: opt.Concurrency,
		convert:     opt.Converter,
	}
}

// QueryData runs every query's snapshot concurrently and returns the
// results in submission order. Per-query failures are reported in their
// Result; only a missing datasource fails the whole request.
func (g *Gateway) QueryData(ctx context.Context, ds *Datasource, queries []Query) ([]Result, error) {
	if ds == nil {
		return nil, apperr.New(apperr.MissingDatasource, "request carries no datasource")
	}

	results := make([]Result, len(queries))
	eg, ctx := errgroup.WithContext(ctx)
	if g.concurrency > 0 {
		eg.SetLimit(g.concurrency)
	}
	for i, q := range queries {
		eg.Go(func() error {
			results[i] = g.queryOne(ctx, *ds, q)
			return nil
		})
	}
	_ = eg.Wait()
	return results, nil
}

func (g *Gateway) queryOne(ctx context.Context, ds Datasource, q Query) Result {
	res := Result{RefID: q.RefID}

	t, err := q.Resolve()
	if err != nil {
		res.Err = &QueryError{RefID: q.RefID, Err: err}
		return res
	}

	fr, err := g.snapshot(ctx, ds, t)
	if err != nil {
		res.Err = &QueryError{RefID: q.RefID, Err: err}
		return res
	}
	if t.Kind == target.KindQuery {
		g.cache.Insert(target.FingerprintOf(t.Text), t.Text)
		metrics.CachedQueries.Set(float64(g.cache.Len()))
	}
	res.Frame = fr
	return res
}

// snapshot reads t's current rows over a dedicated connection and tags the
// frame with the channel it can be followed on.
func (g *Gateway) snapshot(ctx context.Context, ds Datasource, t target.Target) (*frame.Frame, error) {
	log := logutil.FromContext(ctx)
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.QueriesTotal.WithLabelValues(t.Kind.String(), status).Inc()
		metrics.QueryDuration.WithLabelValues(t.Kind.String()).Observe(time.Since(start).Seconds())
	}()

	client, err := g.conn.Connect(ctx, ds)
	if err != nil {
		status = "error"
		return nil, err
	}
	defer client.Close()

	rows, err := client.Query(ctx, t.SnapshotSQL())
	if err != nil {
		status = "error"
		return nil, err
	}
	metrics.SnapshotRows.Add(float64(len(rows)))

	fr, err := g.convert.Convert(rows)
	if err != nil {
		status = "error"
		return nil, err
	}
	fr.SetChannel(target.Channel(ds.UID, target.EncodePath(t)))

	log.Debug("snapshot complete",
		logutil.Values(
			zap.String("datasource", ds.UID),
			zap.String("target", t.String()),
			zap.Int("rows", len(rows)),
			zap.Duration("took", time.Since(start)),
		))
	return fr, nil
}

// SubscribeStatus mirrors the outcome of a subscribe call.
type SubscribeStatus string

const SubscribeOK SubscribeStatus = "ok"

type SubscribeResponse struct {
	Status      SubscribeStatus
	InitialData *frame.Frame
}

// SubscribeStream resolves path and fetches this subscriber's own snapshot.
// It never opens a changefeed. Query paths resolve only after the same
// query went through QueryData in this process.
func (g *Gateway) SubscribeStream(ctx context.Context, ds *Datasource, path string) (*SubscribeResponse, error) {
	if ds == nil {
		return nil, apperr.New(apperr.MissingDatasource, "request carries no datasource")
	}
	t, err := target.DecodePath(path, g.cache)
	if err != nil {
		return nil, err
	}
	fr, err := g.snapshot(ctx, *ds, t)
	if err != nil {
		return nil, err
	}
	return &SubscribeResponse{Status: SubscribeOK, InitialData: fr}, nil
}

// RunStream attaches to the shared changefeed for path, opening it if no
// other caller has, and sends one single-row frame per change until ctx is
// cancelled or the feed ends. Cancelling ctx detaches only this caller.
func (g *Gateway) RunStream(ctx context.Context, ds *Datasource, path string, sender PacketSender) error {
	if ds == nil {
		return apperr.New(apperr.MissingDatasource, "request carries no datasource")
	}
	t, err := target.DecodePath(path, g.cache)
	if err != nil {
		return err
	}

	l, err := g.registry.Join(*ds, t)
	if err != nil {
		return err
	}
	defer l.Leave()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fr, ok := <-l.C:
			if !ok {
				return l.Err()
			}
			if err := sender.Send(fr); err != nil {
				return err
			}
		}
	}
}

// PublishStream is not supported: clients cannot write into a changefeed.
func (g *Gateway) PublishStream(context.Context, *Datasource, string, []byte) error {
	return apperr.New(apperr.NotImplemented, "publishing to a stream is not implemented")
}

// Streams lists the running changefeeds.
func (g *Gateway) Streams() []Info {
	return g.registry.SnapshotView()
}
