package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/exits"
)

const schema = `
CREATE TABLE IF NOT EXISTS position_closes (
    id          BIGSERIAL PRIMARY KEY,
    position_id TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    direction   TEXT NOT NULL,
    entry_price DOUBLE PRECISION NOT NULL,
    exit_price  DOUBLE PRECISION NOT NULL,
    pnl_pct     DOUBLE PRECISION NOT NULL,
    max_pnl_pct DOUBLE PRECISION NOT NULL,
    category    TEXT,
    subtype     TEXT,
    reason      TEXT NOT NULL,
    entry_time  TIMESTAMPTZ NOT NULL,
    exit_time   TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Journal records closed positions to Postgres for offline audit. It is an
// observability sink: the engine tolerates a nil or failing journal.
type Journal struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects using the configured DSN and ensures the schema exists.
func Open(cfg config.JournalConfig) (*Journal, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect journal db: %w", err)
	}
	j := New(db, cfg.Timeout)
	if err := j.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an existing connection; tests use this with a mock.
func New(db *sqlx.DB, timeout time.Duration) *Journal {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Journal{db: db, timeout: timeout}
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// RecordClose inserts one closed-position row.
func (j *Journal) RecordClose(ctx context.Context, closed exits.ClosedPosition) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		INSERT INTO position_closes
			(position_id, symbol, direction, entry_price, exit_price,
			 pnl_pct, max_pnl_pct, category, subtype, reason, entry_time, exit_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := j.db.ExecContext(ctx, query,
		closed.PositionID, closed.Symbol, string(closed.Direction),
		closed.EntryPrice, closed.ExitPrice, closed.PnLPct, closed.MaxPnLPct,
		string(closed.Category), string(closed.Subtype), closed.Reason,
		closed.EntryTime, closed.ExitTime)
	if err != nil {
		return fmt.Errorf("insert position close: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
