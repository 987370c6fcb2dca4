package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS racetracks (
	id          TEXT PRIMARY KEY,
	seq         BIGINT NOT NULL,
	name        TEXT NOT NULL,
	username    TEXT NOT NULL,
	image_ref   TEXT NOT NULL,
	start_x     DOUBLE PRECISION,
	start_y     DOUBLE PRECISION,
	uploaded_at TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS time_entries (
	id           TEXT PRIMARY KEY,
	racetrack_id TEXT NOT NULL REFERENCES racetracks (id),
	username     TEXT NOT NULL,
	time         DOUBLE PRECISION NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS time_entries_racetrack_idx ON time_entries (racetrack_id);
`

// Postgres implements Repository using pgxpool
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// PostgresConfig holds database connection settings
type PostgresConfig struct {
	URI      string
	MinConns int32
	MaxConns int32
}

// NewPostgres connects, verifies the connection and creates the tables if missing
func NewPostgres(ctx context.Context, cfg PostgresConfig, l *logger.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Postgres{pool: pool, logger: l}, nil
}

// startPosColumns splits an optional start position into two nullable columns
func startPosColumns(p *model.StartPos) (x, y *float64) {
	if p == nil {
		return nil, nil
	}
	px, py := p[0], p[1]
	return &px, &py
}

func startPosFromColumns(x, y *float64) *model.StartPos {
	if x == nil || y == nil {
		return nil
	}
	return &model.StartPos{*x, *y}
}

func (p *Postgres) SaveRacetrack(ctx context.Context, r model.Racetrack) error {
	const query = `
		INSERT INTO racetracks (id, seq, name, username, image_ref, start_x, start_y, uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			image_ref = EXCLUDED.image_ref,
			start_x = EXCLUDED.start_x,
			start_y = EXCLUDED.start_y,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`
	x, y := startPosColumns(r.StartPos)

	var inserted bool
	err := p.pool.QueryRow(ctx, query, r.ID, int64(r.Seq), r.Name, r.Username, r.ImageRef, x, y, r.UploadedAt, r.UpdatedAt).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("failed to upsert racetrack %s: %w", r.ID, err)
	}

	status := "updated"
	if inserted {
		status = "inserted"
	}
	p.logger.Debug("upsert complete", zap.String("racetrack_id", r.ID), zap.String("status", status))
	return nil
}

func (p *Postgres) SaveTimeEntry(ctx context.Context, e model.TimeEntry) error {
	const query = `
		INSERT INTO time_entries (id, racetrack_id, username, time, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := p.pool.Exec(ctx, query, e.ID, e.RacetrackID, e.Username, e.Time, e.SubmittedAt); err != nil {
		return fmt.Errorf("failed to insert time entry %s: %w", e.ID, err)
	}
	return nil
}

func (p *Postgres) LoadRacetracks(ctx context.Context) ([]model.Racetrack, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, seq, name, username, image_ref, start_x, start_y, uploaded_at, updated_at
		FROM racetracks ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query racetracks: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Racetrack, error) {
		var (
			r    model.Racetrack
			seq  int64
			x, y *float64
		)
		err := row.Scan(&r.ID, &seq, &r.Name, &r.Username, &r.ImageRef, &x, &y, &r.UploadedAt, &r.UpdatedAt)
		r.Seq = uint64(seq)
		r.StartPos = startPosFromColumns(x, y)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan racetracks: %w", err)
	}
	return list, nil
}

func (p *Postgres) LoadTimeEntries(ctx context.Context) ([]model.TimeEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, racetrack_id, username, time, submitted_at
		FROM time_entries ORDER BY submitted_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TimeEntry, error) {
		var e model.TimeEntry
		err := row.Scan(&e.ID, &e.RacetrackID, &e.Username, &e.Time, &e.SubmittedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan time entries: %w", err)
	}
	return list, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
