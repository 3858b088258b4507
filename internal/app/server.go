// Package app wires configuration, datasources, the gateway and the HTTP
// server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zoravur/materialize-live/internal/api"
	"github.com/zoravur/materialize-live/internal/catalog"
	"github.com/zoravur/materialize-live/internal/config"
	"github.com/zoravur/materialize-live/internal/mzclient"
	"github.com/zoravur/materialize-live/internal/querycache"
	"github.com/zoravur/materialize-live/internal/reactive"
	"github.com/zoravur/materialize-live/internal/target"
	"github.com/zoravur/materialize-live/internal/wal"
)

type Server struct {
	httpServer *http.Server
	Registry   *reactive.Registry
	Gateway    *reactive.Gateway
	cfg        config.Config
	log        *zap.Logger

	datasources map[string]*reactive.Datasource
	slotPrefix  map[string]string
	schemas     map[string][]string
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewServer builds every component; nothing connects until requests arrive.
func NewServer(cfg config.Config, log *zap.Logger) (*Server, error) {
	stmt, err := target.ParseStatement(cfg.Changefeed.Statement)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		log:         log,
		datasources: make(map[string]*reactive.Datasource, len(cfg.Datasources)),
		slotPrefix:  make(map[string]string, len(cfg.Datasources)),
		schemas:     make(map[string][]string, len(cfg.Datasources)),
	}
	for _, dc := range cfg.Datasources {
		s.datasources[dc.UID] = &reactive.Datasource{UID: dc.UID, Kind: dc.Kind, Settings: dc.Settings()}
		s.slotPrefix[dc.UID] = dc.ReplicationSlotPrefix
		s.schemas[dc.UID] = dc.Schemas
	}

	conn := reactive.Connectors{
		reactive.KindMaterialize: reactive.MaterializeConnector(mzclient.Dialer{Statement: stmt, Logger: log}),
		reactive.KindPostgres: reactive.ConnectorFunc(func(ctx context.Context, ds reactive.Datasource) (reactive.Client, error) {
			d := wal.Dialer{SlotPrefix: s.slotPrefix[ds.UID], Logger: log}
			return reactive.PostgresConnector(d).Connect(ctx, ds)
		}),
	}

	s.Registry = reactive.NewRegistry(conn, cfg.Changefeed.SubscriberBuffer, log.Named("changefeed"))
	s.Gateway = reactive.NewGateway(conn, querycache.New(), s.Registry, reactive.Options{
		Concurrency: cfg.Query.Concurrency,
	})

	h := &api.Handler{
		Gateway:     s.Gateway,
		Datasource:  s.Datasource,
		OpenCatalog: s.openCatalog,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: api.SetupRoutes(h, log),
	}
	return s, nil
}

// Datasource resolves a configured datasource by uid.
func (s *Server) Datasource(uid string) (*reactive.Datasource, bool) {
	ds, ok := s.datasources[uid]
	return ds, ok
}

func (s *Server) openCatalog(ds reactive.Datasource) (api.Catalog, error) {
	if err := ds.Settings.Validate(); err != nil {
		return nil, err
	}
	l, err := catalog.Open(ds.Settings.ConnString(), catalog.Flavor(ds.Kind), s.catalogOptions(ds.UID))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Server) catalogOptions(uid string) catalog.Options {
	return catalog.Options{Schemas: s.schemas[uid]}
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then stops HTTP and
// closes every changefeed.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.Registry.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Live sockets are hijacked and not waited for by Shutdown; closing the
	// registry ends their streams.
	err := s.httpServer.Shutdown(shutdownCtx)
	s.Registry.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
