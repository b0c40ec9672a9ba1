// Package catalog runs the small, synchronous set of SQL lookups the
// Transformer needs to turn a Relation message's raw OIDs into named,
// nullability-annotated column types: a formatted type name per
// (type OID, typmod) pair, and a not-null flag per (schema, table, column).
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	pgxutil "github.com/flowlane/pgcdc/pkg/pgx"
	"github.com/flowlane/pgcdc/pkg/metrics"
)

// ErrCatalogQuery wraps a failure of one of the probe's catalog queries.
type ErrCatalogQuery struct {
	Query string
	Err   error
}

func (e *ErrCatalogQuery) Error() string {
	return fmt.Sprintf("catalog: %s query failed: %v", e.Query, e.Err)
}

func (e *ErrCatalogQuery) Unwrap() error { return e.Err }

type typeKey struct {
	typeID  uint32
	typeMod int32
}

type columnKey struct {
	schema string
	table  string
	column string
}

// Prober answers type-name and nullability questions against a source
// database's catalog, on its own connection independent of the replication
// connection. Results are cached for the lifetime of the Prober; the cache
// has no eviction, matching the Transformer's own relation-keyed caches
// (there is no bound on the number of distinct relations or types a
// publication can expose). conn is typically a *pgxpool.Pool, but any
// pgxutil.Conn works, which makes the probe testable against a single
// connection too.
type Prober struct {
	conn pgxutil.Conn

	mu        sync.RWMutex
	typeNames map[typeKey]string
	optional  map[columnKey]bool
}

// New returns a Prober backed by conn. The caller owns conn's lifecycle.
func New(conn pgxutil.Conn) *Prober {
	return &Prober{
		conn:      conn,
		typeNames: make(map[typeKey]string),
		optional:  make(map[columnKey]bool),
	}
}

// FetchTypeName returns the formatted type name for a column's (type OID,
// typmod) pair, e.g. "numeric(10,2)" or "timestamp with time zone", via
// PostgreSQL's own format_type().
func (p *Prober) FetchTypeName(ctx context.Context, typeID uint32, typeMod int32) (string, error) {
	key := typeKey{typeID: typeID, typeMod: typeMod}

	p.mu.RLock()
	if name, ok := p.typeNames[key]; ok {
		p.mu.RUnlock()
		return name, nil
	}
	p.mu.RUnlock()

	var name string
	err := p.conn.QueryRow(ctx, "SELECT format_type($1, $2)", typeID, typeMod).Scan(&name)
	if err != nil {
		metrics.CatalogProbeErrors.Inc()
		return "", &ErrCatalogQuery{Query: "format_type", Err: err}
	}

	p.mu.Lock()
	p.typeNames[key] = name
	p.mu.Unlock()

	return name, nil
}

// FetchIsOptional reports whether a column may hold NULL, i.e. whether it
// lacks a NOT NULL constraint. It is the logical negation of pg_attribute's
// attnotnull, matching the original probe's polarity.
func (p *Prober) FetchIsOptional(ctx context.Context, schema, table, column string) (bool, error) {
	key := columnKey{schema: schema, table: table, column: column}

	p.mu.RLock()
	if optional, ok := p.optional[key]; ok {
		p.mu.RUnlock()
		return optional, nil
	}
	p.mu.RUnlock()

	relation := pgx.Identifier{schema, table}.Sanitize()

	var notNull bool
	query := fmt.Sprintf(
		"SELECT attnotnull FROM pg_attribute WHERE attrelid = %s::regclass AND attname = $1",
		relation,
	)
	err := p.conn.QueryRow(ctx, query, column).Scan(&notNull)
	if err != nil {
		metrics.CatalogProbeErrors.Inc()
		return false, &ErrCatalogQuery{Query: "attnotnull", Err: err}
	}

	optional := !notNull

	p.mu.Lock()
	p.optional[key] = optional
	p.mu.Unlock()

	return optional, nil
}
