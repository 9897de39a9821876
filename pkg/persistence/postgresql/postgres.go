// Package postgresql provides PostgreSQL persistence for rules, workflows and executions.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	ruleRepo       *RuleRepository
	workflowRepo   *WorkflowRepository
	executionRepo  *ExecutionRepository
	migrationsRepo *sqlbase.MigrationManager
}

// NewPersistence creates a new PostgreSQL persistence layer and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	postgres := &Persistence{
		db:             database,
		logger:         logger,
		ruleRepo:       NewRuleRepository(database, logger),
		workflowRepo:   NewWorkflowRepository(database, logger),
		executionRepo:  NewExecutionRepository(database, logger),
		migrationsRepo: sqlbase.NewMigrationManager(logger, database, migrations()),
	}

	err = postgres.migrationsRepo.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) Rules() persistence.RuleRepository           { return p.ruleRepo }
func (p *Persistence) Workflows() persistence.WorkflowRepository   { return p.workflowRepo }
func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executionRepo }

// SchemaVersion returns the applied migration version.
func (p *Persistence) SchemaVersion(ctx context.Context) (int, error) {
	return p.migrationsRepo.CurrentVersion(ctx)
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// nullableJSON marshals value, storing SQL NULL for nil.
func nullableJSON[T any](value *T) (any, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

func decodeJSON[T any](data []byte, target *T) error {
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, target)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
