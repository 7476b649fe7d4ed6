//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/testhelpers"
)

// scratchDatabase creates a throwaway database owned by the superuser plus a
// login role, and returns a connection string for that role.
func scratchDatabase(t *testing.T, name, user string, grantSchema bool) string {
	t.Helper()
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()
	pool := engineDB.DB.Pool

	_, _ = pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
	_, _ = pool.Exec(ctx, "DROP USER IF EXISTS "+user)

	_, err := pool.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "CREATE USER "+user+" WITH PASSWORD 'test_password'")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "GRANT CONNECT ON DATABASE "+name+" TO "+user)
	require.NoError(t, err)

	superURL, err := url.Parse(engineDB.ConnStr)
	require.NoError(t, err)
	superURL.Path = "/" + name

	if grantSchema {
		superDB, err := sql.Open("pgx", superURL.String())
		require.NoError(t, err)
		_, err = superDB.Exec("GRANT ALL ON SCHEMA public TO " + user)
		superDB.Close()
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `
			SELECT pg_terminate_backend(pid) FROM pg_stat_activity
			WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
		time.Sleep(100 * time.Millisecond)
		_, _ = pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
		_, _ = pool.Exec(ctx, "DROP USER IF EXISTS "+user)
	})

	userURL := *superURL
	userURL.User = url.UserPassword(user, "test_password")
	return userURL.String()
}

func runMigrationsWithTimeout(t *testing.T, db *sql.DB) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- database.RunMigrations(db, config.DatabaseTypePostgres, zap.NewNop())
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		t.Fatal("migrations hung instead of returning")
		return nil
	}
}

func Test_Migrations_InsufficientPermissions(t *testing.T) {
	connStr := scratchDatabase(t, "srs_migration_perms", "srs_restricted", false)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	_, err = db.Exec("CREATE TABLE probe (id int)")
	require.Error(t, err, "restricted role should not be able to create tables")

	err = runMigrationsWithTimeout(t, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func Test_Migrations_SuccessWithProperPermissions(t *testing.T) {
	connStr := scratchDatabase(t, "srs_migration_ok", "srs_owner", true)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, runMigrationsWithTimeout(t, db))
	// A second run is a no-op.
	require.NoError(t, runMigrationsWithTimeout(t, db))

	var count int
	require.NoError(t, db.QueryRow(`
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'public'
		AND table_name IN ('projects', 'srs_versions', 'memory_facts', 'chat_turns')`).Scan(&count))
	assert.Equal(t, 4, count)
}
