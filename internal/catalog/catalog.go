// Package catalog lists the relations a datasource exposes and runs the
// datasource liveness probe. It is independent of the streaming path.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/zoravur/materialize-live/internal/apperr"
)

// Flavor selects the catalog queries.
type Flavor string

const (
	Materialize Flavor = "materialize"
	Postgres    Flavor = "postgres"
)

// Relation is one entry of the detailed listing.
type Relation struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

type Options struct {
	// Schemas restricts the postgres listing. If empty, all non-system
	// schemas are included.
	Schemas []string
}

// Lister reads a datasource catalog over one short-lived connection.
type Lister struct {
	db     *sql.DB
	flavor Flavor
	opt    Options
}

// Open prepares a lister; no connection is made until the first query.
func Open(connString string, flavor Flavor, opt Options) (*Lister, error) {
	switch flavor {
	case Materialize, Postgres:
	default:
		return nil, apperr.Newf(apperr.InvalidSettings, "unknown datasource kind %q", flavor)
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidSettings, "open catalog connection", err)
	}
	db.SetMaxOpenConns(1)
	return &Lister{db: db, flavor: flavor, opt: opt}, nil
}

// New wraps an existing handle.
func New(db *sql.DB, flavor Flavor, opt Options) *Lister {
	return &Lister{db: db, flavor: flavor, opt: opt}
}

func (l *Lister) Close() error { return l.db.Close() }

const mzRelationNames = `SELECT DISTINCT mzr.name AS name
FROM mz_catalog.mz_relations mzr
JOIN mz_catalog.mz_schemas mzs ON mzr.schema_id = mzs.id
WHERE database_id IS NOT NULL
ORDER BY mzr.name`

const mzRelations = `SELECT DISTINCT mzs.name, mzr.name, mzr.type
FROM mz_catalog.mz_relations mzr
JOIN mz_catalog.mz_schemas mzs ON mzr.schema_id = mzs.id
WHERE mzs.database_id IS NOT NULL
ORDER BY 2, 1`

const pgRelations = `SELECT schema, name, type FROM (
  SELECT table_schema AS schema, table_name AS name,
         CASE table_type WHEN 'BASE TABLE' THEN 'table' WHEN 'VIEW' THEN 'view' ELSE lower(table_type) END AS type
  FROM information_schema.tables
  UNION ALL
  SELECT schemaname, matviewname, 'materialized view' FROM pg_catalog.pg_matviews
) r
WHERE CASE WHEN cardinality($1::text[]) > 0 THEN schema = ANY($1::text[])
           ELSE schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast') END
ORDER BY name, schema`

// Names returns the distinct relation names, sorted.
func (l *Lister) Names(ctx context.Context) ([]string, error) {
	if l.flavor == Materialize {
		rows, err := l.db.QueryContext(ctx, mzRelationNames)
		if err != nil {
			return nil, apperr.Wrap(apperr.Connection, "list relations", err)
		}
		defer rows.Close()

		names := []string{}
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return nil, apperr.Wrap(apperr.Connection, "scan relation name", err)
			}
			names = append(names, n)
		}
		if err := rows.Err(); err != nil {
			return nil, apperr.Wrap(apperr.Connection, "list relations", err)
		}
		return names, nil
	}

	rels, err := l.Relations(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for i, r := range rels {
		if i > 0 && rels[i-1].Name == r.Name {
			continue
		}
		names = append(names, r.Name)
	}
	return names, nil
}

// Relations returns schema, name and kind of every relation.
func (l *Lister) Relations(ctx context.Context) ([]Relation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if l.flavor == Materialize {
		rows, err = l.db.QueryContext(ctx, mzRelations)
	} else {
		rows, err = l.db.QueryContext(ctx, pgRelations, pq.Array(l.opt.Schemas))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Connection, "list relations", err)
	}
	defer rows.Close()

	out := []Relation{}
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.Schema, &r.Name, &r.Type); err != nil {
			return nil, apperr.Wrap(apperr.Connection, "scan relation", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Connection, "list relations", err)
	}
	return out, nil
}

// Ping runs SELECT 1.
func (l *Lister) Ping(ctx context.Context) error {
	var one int
	if err := l.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return apperr.Wrap(apperr.Connection, "health probe", err)
	}
	if one != 1 {
		return apperr.New(apperr.Connection, fmt.Sprintf("health probe returned %d", one))
	}
	return nil
}
