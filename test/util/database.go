// Package util provides test utilities and helper functions for database testing.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rcrt-io/rcrt/pkg/database"
	"github.com/rcrt-io/rcrt/pkg/store"
)

var (
	// Shared connection string for all tests in local dev
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// TestDB bundles everything an integration test needs: a store bound
// to a non-superuser role (so row-level security is enforced), the
// underlying pool, and the connection string for components that open
// their own connection, e.g. the notify listener.
type TestDB struct {
	Store      *store.Store
	DB         *stdsql.DB
	ConnString string
}

// SetupTestDatabase provisions an isolated database for one test:
// migrations and index sizing run as the admin role, then the returned
// pool connects as a plain application role. Superusers bypass
// row-level security, so tenancy tests must not run on the admin
// connection.
func SetupTestDatabase(t *testing.T, embeddingDim int) *TestDB {
	ctx := context.Background()

	baseConnStr := getOrCreateSharedDatabase(t)
	dbName := generateDatabaseName(t)
	appRole := dbName + "_app"

	admin, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)

	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx,
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD 'test'", appRole))
	require.NoError(t, err)
	_ = admin.Close()

	t.Logf("Created test database: %s", dbName)

	// Run migrations and size the vector column as the admin role.
	adminConnStr := replaceDatabase(t, baseConnStr, dbName)
	client, err := database.NewClient(ctx, database.Config{
		URL:             adminConnStr,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
		EmbeddingDim:    embeddingDim,
		IVFLists:        1,
	})
	require.NoError(t, err)

	// The application role gets table access but not ownership, so the
	// FORCE ROW LEVEL SECURITY policies apply to every query it runs.
	grants := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s", appRole),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", appRole),
		fmt.Sprintf("GRANT USAGE ON ALL SEQUENCES IN SCHEMA public TO %s", appRole),
	}
	for _, g := range grants {
		_, err = client.DB().ExecContext(ctx, g)
		require.NoError(t, err)
	}
	require.NoError(t, client.Close())

	appConnStr := replaceCredentials(t, adminConnStr, appRole, "test")
	db, err := stdsql.Open("pgx", appConnStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	require.NoError(t, db.PingContext(ctx))

	t.Cleanup(func() {
		_ = db.Close()
		cleanup, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("Warning: failed to open cleanup connection: %v", err)
			return
		}
		defer cleanup.Close()
		if _, err := cleanup.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: failed to drop database %s: %v", dbName, err)
		}
		if _, err := cleanup.Exec(fmt.Sprintf("DROP ROLE IF EXISTS %s", appRole)); err != nil {
			t.Logf("Warning: failed to drop role %s: %v", appRole, err)
		}
	})

	return &TestDB{
		Store:      store.New(db, embeddingDim),
		DB:         db,
		ConnString: appConnStr,
	}
}

// getOrCreateSharedDatabase returns a connection string to the shared database.
// In CI, uses CI_DATABASE_URL. In local dev, creates a shared testcontainer once.
func getOrCreateSharedDatabase(t *testing.T) string {
	// Check if we're in CI with an external database
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return ciDatabaseURL
	}

	// Local dev: ensure shared container is started (once per package)
	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer for all tests")

		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg17",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}

		sharedConnStr = connStr
		t.Logf("Shared container ready: %s", sharedConnStr)
	})

	require.NoError(t, containerErr, "Failed to setup shared test container")
	return sharedConnStr
}

// generateDatabaseName creates a unique, PostgreSQL-safe database name.
// Format: test_<sanitized_test_name>_<random_hex>
func generateDatabaseName(t *testing.T) string {
	testName := strings.ToLower(t.Name())
	testName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)

	// Limit length to avoid PostgreSQL's 63 char identifier limit
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("failed to generate random bytes for database name: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

// replaceDatabase swaps the database name in a postgres:// URL.
func replaceDatabase(t *testing.T, connStr, dbName string) string {
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	u.Path = "/" + dbName
	return u.String()
}

// replaceCredentials swaps the user and password in a postgres:// URL.
func replaceCredentials(t *testing.T, connStr, user, password string) string {
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	u.User = url.UserPassword(user, password)
	return u.String()
}
