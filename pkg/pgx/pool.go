package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool names a connection configuration for Connect. Config takes
// precedence over ConnString when both are set.
type Pool struct {
	Config     *pgxpool.Config
	ConnString string
}

// Connect creates a *pgxpool.Pool from cfg and pings it once, so a bad
// connection string or unreachable server fails here rather than on the
// Catalog Probe's first query.
func Connect(ctx context.Context, cfg Pool) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	var err error

	switch {
	case cfg.Config != nil:
		pool, err = pgxpool.NewWithConfig(ctx, cfg.Config)
	case cfg.ConnString != "":
		pool, err = pgxpool.New(ctx, cfg.ConnString)
	default:
		return nil, errors.New("pgx: either Config or ConnString must be provided")
	}
	if err != nil {
		return nil, fmt.Errorf("pgx: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: ping connection: %w", err)
	}

	return pool, nil
}
