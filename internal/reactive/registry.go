package reactive

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/metrics"
	"github.com/zoravur/materialize-live/internal/target"
)

// Key identifies one upstream changefeed.
type Key struct {
	Datasource string
	Path       target.Path
}

// Registry holds at most one running feed per key. The first caller to
// Join a key starts the feed; everyone else attaches to it. Feeds outlive
// their listeners and end only when the upstream fails or Close is called.
type Registry struct {
	conn   Connector
	buffer int
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	data map[Key]*Feed
}

// NewRegistry creates a registry whose feeds open connections through
// conn. buffer bounds each listener's queue of undelivered packets.
func NewRegistry(conn Connector, buffer int, log *zap.Logger) *Registry {
	if buffer <= 0 {
		buffer = 1
	}
	if log == nil {
		log = zap.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		conn:   conn,
		buffer: buffer,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		data:   make(map[Key]*Feed),
	}
}

// Join claims or joins the feed for (ds, t) and returns a listener on it.
func (r *Registry) Join(ds Datasource, t target.Target) (*Listener, error) {
	key := Key{Datasource: ds.UID, Path: target.EncodePath(t)}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(key, ds, t)
}

// joinLocked requires r.mu. A feed whose run has returned refuses new
// listeners and is replaced here, even before its goroutine removes it.
func (r *Registry) joinLocked(key Key, ds Datasource, t target.Target) (*Listener, error) {
	if r.ctx.Err() != nil {
		return nil, apperr.New(apperr.Connection, "server is shutting down")
	}

	if f, ok := r.data[key]; ok {
		if l, ok := f.attach(); ok {
			return l, nil
		}
	}

	f := newFeed(key, ds, t, r.buffer, r.log.With(
		zap.String("datasource", ds.UID),
		zap.String("path", string(key.Path)),
	))
	r.data[key] = f
	l, _ := f.attach()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := f.run(r.ctx, r.conn)
		f.setState(StateClosed)
		r.remove(f)
		if err != nil {
			metrics.StreamErrors.WithLabelValues(string(apperr.KindOf(err))).Inc()
			f.log.Warn("changefeed closed", zap.Error(err))
		} else {
			f.log.Info("changefeed closed")
		}
		f.finish(err)
	}()
	return l, nil
}

// remove drops f so the next Join on its key starts over.
func (r *Registry) remove(f *Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.data[f.Key]; ok && cur == f {
		delete(r.data, f.Key)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// SnapshotView lists the running feeds ordered by channel.
func (r *Registry) SnapshotView() []Info {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.data))
	for _, f := range r.data {
		feeds = append(feeds, f)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, f.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Close stops every feed and waits for them to release their connections.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
