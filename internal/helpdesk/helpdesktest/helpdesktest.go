// Package helpdesktest starts a disposable helpdesk Postgres database for
// integration tests.
package helpdesktest

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	once     sync.Once
	shared   *bun.DB
	dsn      string
	startErr error
)

// DB returns a connection to a migrated Postgres container shared by the
// tests of one package, with every table emptied. The test is skipped under
// -short or when no container runtime is available.
func DB(t *testing.T) *bun.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(func() { shared, dsn, startErr = start(context.Background()) })
	if startErr != nil {
		t.Skipf("postgres container unavailable: %v", startErr)
	}

	_, err := shared.ExecContext(context.Background(),
		`TRUNCATE messages, conversations, contacts, taggings, tags, labels, account_users, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return shared
}

// DSN returns the connection string of the shared container. DB must have
// been called first.
func DSN() string {
	return dsn
}

func start(ctx context.Context) (*bun.DB, string, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("helpdesk"),
		postgres.WithUsername("helpdesk"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("connection string: %w", err)
	}

	if err := migrateUp(connStr); err != nil {
		return nil, "", err
	}

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, "", err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, "", fmt.Errorf("ping: %w", err)
	}
	return bun.NewDB(sqlDB, pgdialect.New()), connStr, nil
}

func migrateUp(connStr string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connStr)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// AddAdministrator creates a user with the administrator role on accountID
// and returns the user id.
func AddAdministrator(t testing.TB, db *bun.DB, accountID int64, email string) int64 {
	t.Helper()
	return addAccountUser(t, db, accountID, email, 1)
}

// AddAgent creates a user with the agent role on accountID.
func AddAgent(t testing.TB, db *bun.DB, accountID int64, email string) int64 {
	t.Helper()
	return addAccountUser(t, db, accountID, email, 0)
}

func addAccountUser(t testing.TB, db *bun.DB, accountID int64, email string, role int) int64 {
	t.Helper()
	ctx := context.Background()
	var userID int64
	if err := db.NewRaw("INSERT INTO users (name, email) VALUES (?, ?) RETURNING id", email, email).Scan(ctx, &userID); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO account_users (account_id, user_id, role) VALUES (?, ?, ?)", accountID, userID, role); err != nil {
		t.Fatalf("insert account user: %v", err)
	}
	return userID
}

// Count returns the number of rows of table matching the optional where
// clause.
func Count(t testing.TB, db *bun.DB, table, where string, args ...any) int {
	t.Helper()
	q := db.NewSelect().TableExpr(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	n, err := q.Count(context.Background())
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
