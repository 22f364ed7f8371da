// Package testsupport provides an ephemeral Postgres instance for
// package-level integration tests, modeled on the teacher's
// tests/helpers/database.go but scoped to one container per call
// rather than a templated multi-database manager.
package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hbomb79/theapipe/internal/config"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDBName = "theapipe_test"
	testUser   = "postgres"
	testPass   = "postgres"
)

// Postgres spins up a single Postgres container, migrates it via
// database.Manager.Connect, and returns a *sqlx.DB plus a teardown func.
// Each call starts a new container; the package tests call it (through
// RequirePostgres) once per test.
func Postgres(ctx context.Context) (*sqlx.DB, func(), error) {
	container, err := postgres.Run(ctx, "docker.io/postgres:16-alpine",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve mapped port: %w", err)
	}

	mgr := database.New()
	if err := mgr.Connect(config.DatabaseConfig{
		Host: host, Port: port.Port(), User: testUser, Password: testPass,
		Name: testDBName, SSLMode: "disable",
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to connect/migrate test database: %w", err)
	}

	teardown := func() {
		_ = container.Terminate(ctx)
	}

	return mgr.GetSqlxDB(), teardown, nil
}

// RequirePostgres wraps Postgres for use inside a test: on failure it stops
// the calling test via t.Fatalf with a clear message rather than panicking.
func RequirePostgres(ctx context.Context, t testing.TB) (*sqlx.DB, func()) {
	t.Helper()
	db, teardown, err := Postgres(ctx)
	if err != nil {
		t.Fatalf("testsupport: failed to provision postgres: %v", err)
	}
	return db, teardown
}

// Truncate clears every row from files/tasks and restarts the task id
// sequence, so a test starts from a clean slate.
func Truncate(t testing.TB, db *sqlx.DB) {
	t.Helper()
	if _, err := db.Exec(`TRUNCATE TABLE tasks, files RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("testsupport: failed to truncate tables: %v", err)
	}
}
