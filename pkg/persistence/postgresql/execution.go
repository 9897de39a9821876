package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

const executionColumns = `
	id
  , workflow_id
  , status
  , started_at
  , completed_at
  , trigger_data
  , error
  , duration_ms
  , continuation
  , approval_id
  , cancel_requested
`

// ExecutionRepository stores executions in workflow_executions and their
// node traces in node_executions, ordered by insertion.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

type executionRow struct {
	triggerData  []byte
	errorData    any
	continuation any
	approvalID   sql.NullString
}

func encodeExecution(execution *models.WorkflowExecution) (*executionRow, error) {
	triggerData, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	errorData, err := nullableJSON(execution.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error: %w", err)
	}

	continuation, err := nullableJSON(execution.Continuation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal continuation: %w", err)
	}

	row := &executionRow{triggerData: triggerData, errorData: errorData, continuation: continuation}

	if execution.Continuation != nil && execution.Continuation.ApprovalID != "" {
		row.approvalID = sql.NullString{String: execution.Continuation.ApprovalID, Valid: true}
	}

	return row, nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	err := persistence.ValidateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	row, err := encodeExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.StartedAt,
		execution.CompletedAt,
		row.triggerData,
		row.errorData,
		execution.DurationMs,
		row.continuation,
		row.approvalID,
		execution.CancelRequested,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	for _, nodeExecution := range execution.NodeExecutions {
		err = insertNodeExecution(ctx, tx, execution.ID, nodeExecution)
		if err != nil {
			return persistence.NewExecutionError("Create", execution.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// Update writes the execution header. Node executions are left untouched.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	row, err := encodeExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = $2
		  , completed_at = $3
		  , trigger_data = $4
		  , error = $5
		  , duration_ms = $6
		  , continuation = $7
		  , approval_id = $8
		  , cancel_requested = $9
		WHERE id = $1
	`,
		execution.ID,
		execution.Status,
		execution.CompletedAt,
		row.triggerData,
		row.errorData,
		execution.DurationMs,
		row.continuation,
		row.approvalID,
		execution.CancelRequested,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) AppendNodeExecution(ctx context.Context, executionID string, nodeExecution *models.NodeExecution) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, executionID).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, err)
	}

	if !exists {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, persistence.ErrExecutionNotFound)
	}

	err = insertNodeExecution(ctx, r.db, executionID, nodeExecution)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNodeExecution(ctx context.Context, db execer, executionID string, nodeExecution *models.NodeExecution) error {
	input, err := json.Marshal(nodeExecution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal node input: %w", err)
	}

	output, err := json.Marshal(nodeExecution.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal node output: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO node_executions (
			id
		  , execution_id
		  , node_id
		  , node_type
		  , status
		  , input
		  , output
		  , duration_ms
		  , error
		  , started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		nodeExecution.ID,
		executionID,
		nodeExecution.NodeID,
		nodeExecution.NodeType,
		nodeExecution.Status,
		input,
		output,
		nodeExecution.DurationMs,
		nodeExecution.Error,
		nodeExecution.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert node execution %s: %w", nodeExecution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := r.load(ctx, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByApprovalID(ctx context.Context, approvalID string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE approval_id = $1
		ORDER BY started_at ASC, id ASC
		LIMIT 1
	`, approvalID)

	execution, err := r.load(ctx, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByApprovalID", approvalID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByApprovalID", approvalID, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at ASC, id ASC
	`, workflowID)
	if err != nil {
		return nil, persistence.NewExecutionError("ListByWorkflow", workflowID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewExecutionError("ListByWorkflow", workflowID, err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewExecutionError("ListByWorkflow", workflowID, err)
	}

	for _, execution := range executions {
		execution.NodeExecutions, err = r.nodeExecutions(ctx, execution.ID)
		if err != nil {
			return nil, persistence.NewExecutionError("ListByWorkflow", workflowID, err)
		}
	}

	return executions, nil
}

func (r *ExecutionRepository) load(ctx context.Context, row scanner) (*models.WorkflowExecution, error) {
	execution, err := scanExecution(row)
	if err != nil {
		return nil, err
	}

	execution.NodeExecutions, err = r.nodeExecutions(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution    models.WorkflowExecution
		completedAt  sql.NullTime
		triggerData  []byte
		errorData    []byte
		continuation []byte
		approvalID   sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&execution.StartedAt,
		&completedAt,
		&triggerData,
		&errorData,
		&execution.DurationMs,
		&continuation,
		&approvalID,
		&execution.CancelRequested,
	)
	if err != nil {
		return nil, err
	}

	execution.StartedAt = execution.StartedAt.UTC()

	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		execution.CompletedAt = &completed
	}

	err = decodeJSON(triggerData, &execution.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
	}

	err = decodeJSON(errorData, &execution.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal error: %w", err)
	}

	err = decodeJSON(continuation, &execution.Continuation)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal continuation: %w", err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) nodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , node_id
		  , node_type
		  , status
		  , input
		  , output
		  , duration_ms
		  , error
		  , started_at
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY seq ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	nodeExecutions := make([]*models.NodeExecution, 0)

	for rows.Next() {
		var (
			ne     models.NodeExecution
			input  []byte
			output []byte
		)

		err := rows.Scan(&ne.ID, &ne.NodeID, &ne.NodeType, &ne.Status, &input, &output, &ne.DurationMs, &ne.Error, &ne.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		err = decodeJSON(input, &ne.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node input: %w", err)
		}

		err = decodeJSON(output, &ne.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node output: %w", err)
		}

		ne.StartedAt = ne.StartedAt.UTC()
		nodeExecutions = append(nodeExecutions, &ne)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return nodeExecutions, nil
}
