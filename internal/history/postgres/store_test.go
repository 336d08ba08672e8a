package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wicara/internal/history"
	"github.com/MrWong99/wicara/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if WICARA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("WICARA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WICARA_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore opens a Store on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS history_entries",
		"DROP TABLE IF EXISTS goose_db_version",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	pool.Close()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestOpen_Unreachable(t *testing.T) {
	t.Parallel()
	if _, err := postgres.Open(context.Background(), "postgres://127.0.0.1:1/wicara?connect_timeout=1"); err == nil {
		t.Error("expected error for an unreachable database")
	}
}

func TestStore_SaveGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, history.Entry{Kind: history.KindSermon, Text: "# Kesabaran\nAssalamu'alaikum"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Title != "Kesabaran" {
		t.Errorf("Title = %q", saved.Title)
	}

	got, err := store.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != saved.Text || got.Kind != saved.Kind {
		t.Errorf("Get = %+v, want %+v", got, saved)
	}
	if d := got.CreatedAt.Sub(saved.CreatedAt).Abs(); d > time.Millisecond {
		t.Errorf("CreatedAt drift %v", d)
	}

	if err := store.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, saved.ID); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, uuid.New()); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("Delete unknown err = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range []history.Entry{
		{Kind: history.KindSermon, Text: "one"},
		{Kind: history.KindMC, Text: "two"},
		{Kind: history.KindSermon, Text: "three"},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if _, err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	sermons, err := store.List(ctx, history.KindSermon, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sermons) != 2 || sermons[0].Text != "three" {
		t.Errorf("sermons = %+v", sermons)
	}

	all, err := store.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[1].Text != "two" {
		t.Errorf("all = %+v", all)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
