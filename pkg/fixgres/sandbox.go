package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"
)

// Sandbox is a private schema in the shared container. DB connections
// resolve unqualified names in that schema first.
type Sandbox struct {
	DB       *sql.DB
	Schema   string
	Seed     int64
	Endpoint Endpoint
	Close    func()
}

// NewSandbox creates a fresh schema for t, dropped on cleanup. It skips t
// unless integration tests are enabled and the container is up.
func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if !Enabled() {
		t.Skipf("set %s=1 to run integration tests", EnvIntegration)
	}
	ep, ok := Current()
	if !ok {
		t.Fatalf("fixgres not booted. Call fixgres.Boot(...) in TestMain first.")
	}

	admin, err := sql.Open("pgx", ep.ConnString()) // admin connection (no search_path)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	db, err := sql.Open("pgx", withSearchPath(ep.ConnString(), schema))
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	sbx := &Sandbox{
		DB:       db,
		Schema:   schema,
		Seed:     time.Now().UnixNano(),
		Endpoint: ep,
	}
	t.Logf("sandbox %s seed %d", schema, sbx.Seed)
	SeedFaker(sbx.Seed)

	sbx.Close = func() {
		// drop schema with admin handle (it doesn't share the search_path)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)
	return sbx
}

// Qualify prefixes name with the sandbox schema.
func (s *Sandbox) Qualify(name string) string {
	return s.Schema + "." + name
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}
