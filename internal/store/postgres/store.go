// Package postgres stores trigger definitions and execution history in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"

	"github.com/lib/pq"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/history"
)

//go:embed schema.sql
var schema string

const pageSize = 500

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ListTriggerDefinitions returns every trigger definition, enabled or not.
func (s *Store) ListTriggerDefinitions(ctx context.Context) ([]domain.TriggerDefinition, error) {
	var result []domain.TriggerDefinition
	for offset := 0; ; offset += pageSize {
		page, err := s.listTriggerDefinitions(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		result = append(result, page...)
		if len(page) < pageSize {
			return result, nil
		}
	}
}

func (s *Store) listTriggerDefinitions(ctx context.Context, limit, offset int) ([]domain.TriggerDefinition, error) {
	rows, err := s.db.QueryContext(ctx, queryListTriggerDefinitions, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TriggerDefinition
	for rows.Next() {
		var def domain.TriggerDefinition
		var enabled bool

		err := rows.Scan(
			&def.ID,
			&def.Expression,
			&def.Payload.ProjectID,
			&def.Payload.PipelineID,
			&enabled,
		)
		if err != nil {
			return nil, err
		}
		def.Disabled = !enabled
		result = append(result, def)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertExecution stores one execution record.
// Returns history.ErrDuplicateExecution if the event id is already stored.
func (s *Store) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		rec.EventID,
		rec.TriggerID,
		rec.ProjectID,
		rec.PipelineID,
		string(rec.Status),
		rec.Error,
		rec.ScheduledAt,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return history.ErrDuplicateExecution
		}
		return err
	}
	return nil
}

// ListExecutions returns the newest executions of a trigger first.
func (s *Store) ListExecutions(ctx context.Context, triggerID string, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListExecutions, triggerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var status string

		err := rows.Scan(
			&rec.EventID,
			&rec.TriggerID,
			&rec.ProjectID,
			&rec.PipelineID,
			&status,
			&rec.Error,
			&rec.ScheduledAt,
			&rec.StartedAt,
			&rec.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Status = domain.ExecutionStatus(status)
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var _ history.Store = (*Store)(nil)
