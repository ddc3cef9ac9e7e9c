// Package history keeps an append-only ledger of runs in PostgreSQL.
package history

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/assetsync/internal/formatter"
	"github.com/telhawk-systems/assetsync/internal/paginate"
	"github.com/telhawk-systems/assetsync/internal/pipeline"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrDuplicateRun is returned when a run id is recorded twice.
var ErrDuplicateRun = errors.New("run already recorded")

// Migrate applies every pending schema migration.
func Migrate(databaseURL string) (uint, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, nil
}

// Store reads and writes the runs table.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// One run at a time needs very few connections.
	config.MaxConns = 4
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool. Closing a nil store is a no-op.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

// Record appends one finished run.
func (s *Store) Record(ctx context.Context, out pipeline.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dropped := out.Stats.Dropped
	if dropped == nil {
		dropped = map[formatter.DropReason]int{}
	}
	droppedJSON, err := json.Marshal(dropped)
	if err != nil {
		return fmt.Errorf("failed to marshal dropped counts: %w", err)
	}

	query := `
		INSERT INTO runs (run_id, asset_type, state, reason, stop_reason, pages, fetched, records,
			dropped, documents, indexed, failed, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.pool.Exec(ctx, query,
		out.RunID, out.AssetType, string(out.State), string(out.Reason), string(out.Stats.StopReason),
		out.Stats.Pages, out.Stats.Fetched, out.Stats.Records,
		droppedJSON, out.Stats.Documents, out.Stats.Indexed, out.Stats.Failed,
		out.Error, out.Started, out.Finished,
	)
	if err != nil {
		// 23505 is unique_violation.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, out.RunID)
		}
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs for assetType, newest first.
func (s *Store) Recent(ctx context.Context, assetType string, limit int) ([]pipeline.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, asset_type, state, reason, stop_reason, pages, fetched, records,
			dropped, documents, indexed, failed, error, started_at, finished_at
		FROM runs
		WHERE asset_type = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, assetType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []pipeline.Outcome
	for rows.Next() {
		var (
			out         pipeline.Outcome
			state       string
			reason      string
			stopReason  string
			droppedJSON []byte
		)
		if err := rows.Scan(
			&out.RunID, &out.AssetType, &state, &reason, &stopReason,
			&out.Stats.Pages, &out.Stats.Fetched, &out.Stats.Records,
			&droppedJSON, &out.Stats.Documents, &out.Stats.Indexed, &out.Stats.Failed,
			&out.Error, &out.Started, &out.Finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		out.State = pipeline.State(state)
		out.Reason = pipeline.Reason(reason)
		out.Stats.StopReason = paginate.StopReason(stopReason)
		out.Duration = out.Finished.Sub(out.Started)
		if len(droppedJSON) > 0 {
			if err := json.Unmarshal(droppedJSON, &out.Stats.Dropped); err != nil {
				return nil, fmt.Errorf("failed to decode dropped counts for %s: %w", out.RunID, err)
			}
		}
		if len(out.Stats.Dropped) == 0 {
			out.Stats.Dropped = nil
		}
		runs = append(runs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	return runs, nil
}
