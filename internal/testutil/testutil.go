// Package testutil provides storage and clock fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"gift-exchange-backend/internal/features/event/repository"
	"gift-exchange-backend/internal/features/event/repository/sqldb"
	"gift-exchange-backend/internal/platform/migrations"
	"gift-exchange-backend/internal/platform/sqlite"
)

// PostgresURLEnv names the variable enabling Postgres-backed tests.
const PostgresURLEnv = "TEST_DATABASE_URL"

// SQLiteRepository opens a fresh SQLite database in t.TempDir.
func SQLiteRepository(t *testing.T) (repository.EventRepository, *sql.DB) {
	t.Helper()

	client, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return sqldb.NewRepository(client.GetDB(), sqldb.SQLite), client.GetDB()
}

// PostgresRepository connects to TEST_DATABASE_URL with a clean schema, or
// skips the test when the variable is unset.
func PostgresRepository(t *testing.T) (repository.EventRepository, *sql.DB) {
	t.Helper()

	url := os.Getenv(PostgresURLEnv)
	if url == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		DROP TABLE IF EXISTS assignments CASCADE;
		DROP TABLE IF EXISTS wishlist_items CASCADE;
		DROP TABLE IF EXISTS participants CASCADE;
		DROP TABLE IF EXISTS events CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean database: %v", err)
	}
	if err := migrations.Apply(context.Background(), db, migrations.DialectPostgres); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return sqldb.NewRepository(db, sqldb.Postgres), db
}

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Date returns UTC midnight of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
