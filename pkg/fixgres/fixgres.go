// Package fixgres boots one disposable PostgreSQL container per test binary
// and hands out isolated schemas to tests. Integration tests only run when
// MZLIVE_INTEGRATION=1.
package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvIntegration opts in to container-backed tests.
const EnvIntegration = "MZLIVE_INTEGRATION"

// Enabled reports whether integration tests should run.
func Enabled() bool {
	v, _ := strconv.ParseBool(os.Getenv(EnvIntegration))
	return v
}

type config struct {
	image    string
	dbName   string
	user     string
	password string
	gooseUp  bool
	gooseFS  fs.FS
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

// WithGooseUp enables migrations and sets the filesystem to read them from.
func WithGooseUp(migFS fs.FS) Option {
	return func(c *config) {
		c.gooseUp = true
		c.gooseFS = migFS
	}
}

// Endpoint is where the booted container listens.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// ConnString renders e as a postgres:// URL.
func (e Endpoint) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.PathEscape(e.User), url.PathEscape(e.Password),
		e.Host+":"+strconv.Itoa(e.Port), e.Database)
}

var (
	once     sync.Once
	bootErr  error
	mu       sync.Mutex
	pg       *postgres.PostgresContainer
	endpoint Endpoint
)

// Boot starts the container and runs migrations, once per process. Call it
// from TestMain.
func Boot(ctx context.Context, opts ...Option) error {
	once.Do(func() {
		c := &config{}
		for _, o := range opts {
			o(c)
		}
		bootErr = boot(ctx, c)
	})
	return bootErr
}

func boot(ctx context.Context, c *config) error {
	if c.image == "" {
		c.image = "docker.io/postgres:16-alpine"
	}
	if c.dbName == "" {
		c.dbName = "app"
	}
	if c.user == "" {
		c.user = "postgres"
	}
	if c.password == "" {
		c.password = "pass"
	}

	container, err := postgres.Run(ctx,
		c.image,
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return fmt.Errorf("start postgres: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}

	mu.Lock()
	pg = container
	endpoint = Endpoint{
		Host:     host,
		Port:     port.Int(),
		User:     c.user,
		Password: c.password,
		Database: c.dbName,
	}
	mu.Unlock()

	if c.gooseUp {
		if c.gooseFS == nil {
			return fmt.Errorf("WithGooseUp requires a non-nil fs.FS")
		}
		db, err := sql.Open("pgx", endpoint.ConnString())
		if err != nil {
			return err
		}
		defer db.Close()

		goose.SetBaseFS(c.gooseFS)
		if err := goose.SetDialect("postgres"); err != nil {
			return err
		}
		if err := goose.Up(db, "."); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Current returns the endpoint of the booted container.
func Current() (Endpoint, bool) {
	mu.Lock()
	defer mu.Unlock()
	return endpoint, pg != nil
}

func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := pg.Terminate(ctx)
	pg = nil
	return err
}
