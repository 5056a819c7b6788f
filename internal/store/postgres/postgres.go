// Package postgres stores trades and run snapshots in PostgreSQL (pgx/v5).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateTrade is returned when a trade id was already recorded.
var ErrDuplicateTrade = errors.New("duplicate trade id")

// Pool wraps pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Schema creates the tables used by TradeStore.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          BIGSERIAL PRIMARY KEY,
	trade_id    TEXT        NOT NULL UNIQUE,
	run_id      TEXT        NOT NULL,
	strategy    TEXT        NOT NULL,
	symbol      TEXT        NOT NULL,
	side        TEXT        NOT NULL,
	qty         BIGINT      NOT NULL,
	price       NUMERIC     NOT NULL,
	pnl         NUMERIC,
	reason      TEXT        NOT NULL DEFAULT '',
	executed_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades (run_id);

CREATE TABLE IF NOT EXISTS run_snapshots (
	run_id       TEXT PRIMARY KEY,
	strategy     TEXT        NOT NULL,
	symbol       TEXT        NOT NULL,
	balance      NUMERIC     NOT NULL,
	realized_pnl NUMERIC     NOT NULL,
	trade_count  INTEGER     NOT NULL,
	skipped      INTEGER     NOT NULL,
	positions    JSONB       NOT NULL,
	taken_at     TIMESTAMPTZ NOT NULL
);
`

// Migrate applies Schema.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
