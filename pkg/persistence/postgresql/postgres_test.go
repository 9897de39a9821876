package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/persistence/persistencetest"
	"github.com/dukex/orgflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"node_executions", "workflow_executions", "workflows", "rules", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("orgflow_test"),
			postgres.WithUsername("orgflow"),
			postgres.WithPassword("orgflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestPersistence_Suite(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		p, _, _ := setupTestDB(t)

		return p
	})
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	version, err := p.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"rules", "workflows", "workflow_executions", "node_executions"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	version, err = again.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	require.NoError(t, again.Close(ctx))
}

func TestExecutionRepository_CascadeOnWorkflowDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.Workflows().Save(ctx, persistencetest.Workflow("wf-1")))

	execution := persistencetest.Execution("exec-1", "wf-1", "")
	require.NoError(t, p.Executions().Create(ctx, execution))
	require.NoError(t, p.Executions().AppendNodeExecution(ctx, "exec-1", persistencetest.NodeExecution("ne-1", "start", 0)))

	require.NoError(t, p.Workflows().Delete(ctx, "wf-1"))

	_, err := p.Executions().GetByID(ctx, "exec-1")
	assert.True(t, persistence.IsExecutionNotFound(err))
}
