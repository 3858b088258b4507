package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/logutil"
	"github.com/zoravur/materialize-live/internal/protocol"
	"github.com/zoravur/materialize-live/internal/reactive"
	"github.com/zoravur/materialize-live/internal/target"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// outbox is how many responses may queue for a slow socket before
// subscriptions start blocking (and eventually get detached as slow
// consumers by the registry).
const outbox = 64

// GET /api/ds/{uid}/live upgrades the connection and serves
// subscribe/unsubscribe/publish/ping messages until the socket closes.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	ds, err := h.datasource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logutil.FromContext(r.Context()).Warn("upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	s := &liveSession{
		h:    h,
		ds:   ds,
		log:  logutil.FromContext(r.Context()),
		out:  make(chan protocol.Response, outbox),
		subs: protocol.NewSubscriptions(),
	}
	var cancel context.CancelFunc
	s.ctx, cancel = context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, cancel)
	}()

	s.readLoop(conn)

	cancel()
	s.subs.CloseAll()
	s.wg.Wait()
	<-writerDone
}

// liveSession is the state of one websocket connection. Only writeLoop
// writes to the socket.
type liveSession struct {
	h   *Handler
	ds  *reactive.Datasource
	log *zap.Logger
	ctx context.Context

	out  chan protocol.Response
	subs *protocol.Subscriptions
	wg   sync.WaitGroup
}

func (s *liveSession) writeLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write error", zap.Error(err))
				cancel()
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *liveSession) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read error", zap.Error(err))
			}
			return
		}

		req, err := protocol.Decode(raw)
		if err != nil {
			s.send(protocol.Error(req.ID, err))
			continue
		}

		switch req.Type {
		case protocol.TypePing:
			s.send(protocol.Pong())

		case protocol.TypePublish:
			s.send(protocol.Error(req.ID, s.h.Gateway.PublishStream(s.ctx, s.ds, req.Channel, req.Data)))

		case protocol.TypeUnsubscribe:
			s.subs.Remove(req.ID)
			s.send(protocol.Unsubscribed(req.ID))

		case protocol.TypeSubscribe:
			subCtx, subCancel := context.WithCancel(s.ctx)
			release, err := s.subs.Add(req.ID, subCancel)
			if err != nil {
				subCancel()
				s.send(protocol.Error(req.ID, err))
				continue
			}
			s.log.Debug("subscription added", zap.String("subscription", req.ID), zap.Int("active", s.subs.Len()))
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer release()
				defer subCancel()
				s.subscribe(subCtx, req)
			}()
		}
	}
}

// send queues msg for the writer. It gives up once the connection is gone.
func (s *liveSession) send(msg protocol.Response) bool {
	select {
	case s.out <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// subscribe serves one subscription: the subscriber's own snapshot first,
// then one packet per change until ctx ends or the stream fails.
func (s *liveSession) subscribe(ctx context.Context, req protocol.Request) {
	log := s.log.With(zap.String("subscription", req.ID), zap.String("channel", req.Channel))
	ctx = logutil.WithLogger(ctx, log)

	uid, path, err := target.SplitChannel(req.Channel)
	if err == nil && uid != "" && uid != s.ds.UID {
		err = apperr.Newf(apperr.MalformedPath, "channel %q belongs to another datasource", req.Channel)
	}
	if err != nil {
		s.send(protocol.Error(req.ID, err))
		return
	}

	sub, err := s.h.Gateway.SubscribeStream(ctx, s.ds, path)
	if err != nil {
		if ctx.Err() == nil {
			s.send(protocol.Error(req.ID, err))
		}
		return
	}
	if !s.send(protocol.Subscribed(req.ID, sub.InitialData.Meta.Channel, sub.InitialData)) {
		return
	}

	sender := reactive.SenderFunc(func(fr *frame.Frame) error {
		select {
		case s.out <- protocol.Packet(req.ID, fr):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	err = s.h.Gateway.RunStream(ctx, s.ds, path, sender)
	if err != nil && ctx.Err() == nil {
		log.Info("stream ended", zap.Error(err))
		s.send(protocol.Error(req.ID, err))
	}
}
