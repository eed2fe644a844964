package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mediafetch/pkg/logger"
	"mediafetch/pkg/retry"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// PostgresLedger stores the ledger in PostgreSQL. Every write is committed
// immediately, so Commit is a no-op.
type PostgresLedger struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenPostgresLedger connects to dsn and applies pending migrations
func OpenPostgresLedger(ctx context.Context, dsn string, log logger.Logger) (*PostgresLedger, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	log = logger.OrDefault(log)
	backoff := &retry.ExponentialBackoff{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
	if err := retry.Do(ctx, 5, backoff, log, func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	log.Debug("postgres ledger ready")
	return &PostgresLedger{db: db, logger: log}, nil
}

func applyMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "mediafetch_migrations"})
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *PostgresLedger) PathCompleted(ctx context.Context, path string) (bool, error) {
	var completed bool
	err := p.db.QueryRowContext(ctx, `SELECT completed FROM downloads WHERE path = $1`, path).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return completed, nil
}

func (p *PostgresLedger) InsertPending(ctx context.Context, path, filename string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO downloads (path, filename, completed) VALUES ($1, $2, FALSE)
		 ON CONFLICT (path) DO NOTHING`,
		path, filename)
	if err != nil {
		return fmt.Errorf("failed to insert pending record: %w", err)
	}
	return nil
}

func (p *PostgresLedger) MarkCompleted(ctx context.Context, path, filename string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO downloads (path, filename, completed) VALUES ($1, $2, TRUE)
		 ON CONFLICT (path) DO UPDATE SET filename = EXCLUDED.filename, completed = TRUE, updated_at = NOW()`,
		path, filename)
	if err != nil {
		return fmt.Errorf("failed to mark record completed: %w", err)
	}
	return nil
}

func (p *PostgresLedger) AssignedName(ctx context.Context, path string) (string, error) {
	var filename string
	err := p.db.QueryRowContext(ctx, `SELECT filename FROM downloads WHERE path = $1`, path).Scan(&filename)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query ledger: %w", err)
	}
	return filename, nil
}

func (p *PostgresLedger) NameInUse(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM downloads WHERE filename = $1)`, filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return exists, nil
}

func (p *PostgresLedger) InsertTempMarker(ctx context.Context, tempPath string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO temp_markers (path) VALUES ($1) ON CONFLICT (path) DO NOTHING`, tempPath)
	if err != nil {
		return fmt.Errorf("failed to insert temp marker: %w", err)
	}
	return nil
}

func (p *PostgresLedger) TempMarkers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT path FROM temp_markers ORDER BY created_at, path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list temp markers: %w", err)
	}
	defer rows.Close()

	var temps []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		temps = append(temps, t)
	}
	return temps, rows.Err()
}

func (p *PostgresLedger) Records(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT path, filename, completed, updated_at FROM downloads ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Path, &r.Filename, &r.Completed, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Commit is a no-op: writes are autocommitted
func (p *PostgresLedger) Commit(context.Context) error { return nil }

func (p *PostgresLedger) Close() error {
	return p.db.Close()
}
