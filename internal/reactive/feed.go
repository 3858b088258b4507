package reactive

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/metrics"
	"github.com/zoravur/materialize-live/internal/target"
)

// State of a feed.
type State string

const (
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosed  State = "closed"
)

// Listener receives the frames of one feed. C is closed when the listener
// is detached or the feed ends; Err then tells why.
type Listener struct {
	ID string
	C  <-chan *frame.Frame

	c      chan *frame.Frame
	feed   *Feed
	err    error
	closed bool
}

// Err is the stream-ending error, nil after a clean detach or shutdown.
// Only valid once C is closed.
func (l *Listener) Err() error {
	l.feed.mu.Lock()
	defer l.feed.mu.Unlock()
	return l.err
}

// Leave detaches l. The feed keeps running for everyone else.
func (l *Listener) Leave() {
	l.feed.detach(l, nil)
}

// Feed is the single upstream changefeed of one key, fanned out to every
// listener. It is owned by a Registry.
type Feed struct {
	Key      Key
	Channel  string
	OpenedAt time.Time

	target  target.Target
	ds      Datasource
	buffer  int
	log     *zap.Logger
	convert frame.Converter

	mu        sync.Mutex
	state     State
	listeners map[*Listener]struct{}
	packets   uint64
}

func newFeed(key Key, ds Datasource, t target.Target, buffer int, log *zap.Logger) *Feed {
	return &Feed{
		Key:       key,
		Channel:   target.Channel(key.Datasource, key.Path),
		OpenedAt:  time.Now(),
		target:    t,
		ds:        ds,
		buffer:    buffer,
		log:       log,
		state:     StateOpening,
		listeners: make(map[*Listener]struct{}),
	}
}

// attach adds a listener. It reports false once the feed is closed; the
// caller must then start a new feed.
func (f *Feed) attach() (*Listener, bool) {
	c := make(chan *frame.Frame, f.buffer)
	l := &Listener{ID: uuid.NewString(), C: c, c: c, feed: f}

	f.mu.Lock()
	if f.state == StateClosed {
		f.mu.Unlock()
		return nil, false
	}
	f.listeners[l] = struct{}{}
	n := len(f.listeners)
	f.mu.Unlock()

	metrics.Subscribers.Inc()
	f.log.Debug("listener attached", zap.String("listener", l.ID), zap.Int("listeners", n))
	return l, true
}

func (f *Feed) detach(l *Listener, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachLocked(l, err)
}

func (f *Feed) detachLocked(l *Listener, err error) {
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	delete(f.listeners, l)
	close(l.c)
	metrics.Subscribers.Dec()
}

// broadcast hands fr to every listener without blocking. A listener whose
// buffer is full is detached with a slow-consumer error rather than
// silently losing the packet.
func (f *Feed) broadcast(fr *frame.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.packets++
	for l := range f.listeners {
		select {
		case l.c <- fr:
		default:
			f.log.Warn("listener too slow, detaching", zap.String("listener", l.ID))
			metrics.StreamErrors.WithLabelValues(string(apperr.SlowConsumer)).Inc()
			f.detachLocked(l, apperr.Newf(apperr.SlowConsumer, "subscriber fell more than %d packets behind", f.buffer))
		}
	}
}

// finish detaches every listener with err.
func (f *Feed) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClosed
	for l := range f.listeners {
		f.detachLocked(l, err)
	}
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Info is a point-in-time view of a feed.
type Info struct {
	Datasource  string    `json:"datasource"`
	Channel     string    `json:"channel"`
	State       State     `json:"state"`
	Subscribers int       `json:"subscribers"`
	Packets     uint64    `json:"packets"`
	OpenedAt    time.Time `json:"openedAt"`
}

func (f *Feed) info() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Info{
		Datasource:  f.Key.Datasource,
		Channel:     f.Channel,
		State:       f.state,
		Subscribers: len(f.listeners),
		Packets:     f.packets,
		OpenedAt:    f.OpenedAt,
	}
}

// run opens the upstream changefeed and pumps it until the connection fails
// or ctx (the registry's lifetime) ends. It returns the stream-ending error,
// nil on shutdown.
func (f *Feed) run(ctx context.Context, conn Connector) error {
	client, err := conn.Connect(ctx, f.ds)
	if err != nil {
		return shutdownOr(ctx, err)
	}
	defer client.Close()

	stream, err := client.Changefeed(ctx, f.target)
	if err != nil {
		return shutdownOr(ctx, err)
	}
	defer stream.Close()

	f.setState(StateOpen)
	metrics.ChangefeedOpens.Inc()
	metrics.ChangefeedsOpen.Inc()
	defer metrics.ChangefeedsOpen.Dec()
	f.log.Info("changefeed open")

	for {
		row, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return apperr.New(apperr.Connection, "changefeed ended by upstream")
			}
			return shutdownOr(ctx, err)
		}

		fr, err := f.convert.Convert([]frame.Row{row})
		if err != nil {
			return err
		}
		fr.SetChannel(f.Channel)
		metrics.StreamPackets.Inc()
		f.broadcast(fr)
	}
}

func shutdownOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	var e *apperr.E
	if !errors.As(err, &e) {
		return apperr.Wrap(apperr.Connection, "changefeed", err)
	}
	return err
}
