package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema creates the executions table. The full execution is kept in
// record; the other columns exist for filtering.
const Schema = `CREATE TABLE IF NOT EXISTS fulfillment_executions (
	id           TEXT PRIMARY KEY,
	order_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	initiated_at TIMESTAMPTZ NOT NULL,
	record       JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS fulfillment_executions_order_idx ON fulfillment_executions (order_id);`

// ExecutionStore implements ports.ExecutionStore on PostgreSQL
type ExecutionStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewExecutionStore creates a new PostgreSQL execution store
func NewExecutionStore(db *pgxpool.Pool, logger *zap.Logger) *ExecutionStore {
	return &ExecutionStore{db: db, logger: logger}
}

// EnsureSchema creates the table and index when missing
func (s *ExecutionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save upserts the execution row
func (s *ExecutionStore) Save(ctx context.Context, exec *domain.Execution) error {
	record, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	_, err = s.db.Exec(ctx, `INSERT INTO fulfillment_executions (id, order_id, status, initiated_at, record, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, record = EXCLUDED.record, updated_at = now()`,
		exec.ID, exec.OrderID, string(exec.Status), exec.InitiatedAt, record)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	s.logger.Debug("execution saved",
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)))
	return nil
}

// Load retrieves an execution
func (s *ExecutionStore) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	var record []byte
	err := s.db.QueryRow(ctx, "SELECT record FROM fulfillment_executions WHERE id = $1", executionID).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return decode(record)
}

// Delete removes an execution
func (s *ExecutionStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM fulfillment_executions WHERE id = $1", executionID); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// List returns every execution, oldest first
func (s *ExecutionStore) List(ctx context.Context) ([]*domain.Execution, error) {
	rows, err := s.db.Query(ctx, "SELECT record FROM fulfillment_executions ORDER BY initiated_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*domain.Execution
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec, err := decode(record)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}

func decode(record []byte) (*domain.Execution, error) {
	var exec domain.Execution
	if err := json.Unmarshal(record, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}
