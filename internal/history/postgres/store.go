// Package postgres provides a PostgreSQL-backed [history.Store].
//
// The schema lives in embedded goose migrations that [Open] applies before
// returning, so a fresh database needs no manual setup.
//
// Usage:
//
//	store, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	saved, _ := store.Save(ctx, history.Entry{Kind: history.KindSermon, Text: text})
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrWong99/wicara/internal/history"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ history.Store = (*Store)(nil)

// Store is a [history.Store] on a single [pgxpool.Pool]. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to the database at dsn, verifies the connection and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Migrate applies every pending migration to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("history postgres: migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("history postgres: migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history postgres: migrate: %w", err)
	}
	for _, r := range results {
		slog.Info("history postgres: applied migration",
			"version", r.Source.Version,
			"took", r.Duration,
		)
	}
	return nil
}

// Close releases every connection held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [history.Store].
func (s *Store) Save(ctx context.Context, e history.Entry) (history.Entry, error) {
	e, err := history.Prepare(e, s.now())
	if err != nil {
		return history.Entry{}, err
	}

	const q = `
		INSERT INTO history_entries (id, kind, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		    SET kind = EXCLUDED.kind,
		        title = EXCLUDED.title,
		        body = EXCLUDED.body`

	if _, err := s.pool.Exec(ctx, q, e.ID, string(e.Kind), e.Title, e.Text, e.CreatedAt); err != nil {
		return history.Entry{}, fmt.Errorf("history postgres: save: %w", err)
	}
	return e, nil
}

// Get implements [history.Store].
func (s *Store) Get(ctx context.Context, id uuid.UUID) (history.Entry, error) {
	const q = `
		SELECT id, kind, title, body, created_at
		FROM   history_entries
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return history.Entry{}, fmt.Errorf("history postgres: get: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Entry{}, history.ErrNotFound
	}
	if err != nil {
		return history.Entry{}, fmt.Errorf("history postgres: get: %w", err)
	}
	return e, nil
}

// List implements [history.Store].
func (s *Store) List(ctx context.Context, kind history.Kind, limit int) ([]history.Entry, error) {
	const q = `
		SELECT id, kind, title, body, created_at
		FROM   history_entries
		WHERE  ($1 = '' OR kind = $1)
		ORDER  BY created_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, string(kind), history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history postgres: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("history postgres: list: %w", err)
	}
	return entries, nil
}

// Delete implements [history.Store].
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM history_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("history postgres: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history postgres: ping: %w", err)
	}
	return nil
}

func scanEntry(row pgx.CollectableRow) (history.Entry, error) {
	var (
		e    history.Entry
		kind string
	)
	if err := row.Scan(&e.ID, &kind, &e.Title, &e.Text, &e.CreatedAt); err != nil {
		return history.Entry{}, err
	}
	e.Kind = history.Kind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
