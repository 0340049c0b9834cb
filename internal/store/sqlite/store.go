// Package sqlite keeps execution history in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/history"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(event_id, trigger_id, project_id, pipeline_id, status, error, scheduled_at, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.EventID.String(), rec.TriggerID, rec.ProjectID, rec.PipelineID,
		string(rec.Status), rec.Error,
		formatTime(rec.ScheduledAt), formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if isConstraintError(err) {
		return history.ErrDuplicateExecution
	}
	return err
}

func (s *Store) ListExecutions(ctx context.Context, triggerID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, trigger_id, project_id, pipeline_id, status, error, scheduled_at, started_at, finished_at
		 FROM executions WHERE trigger_id = ?
		 ORDER BY finished_at DESC, event_id
		 LIMIT ?`,
		triggerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec                              domain.ExecutionRecord
			eventID, status                  string
			scheduledAt, startedAt, finished string
		)
		if err := rows.Scan(&eventID, &rec.TriggerID, &rec.ProjectID, &rec.PipelineID,
			&status, &rec.Error, &scheduledAt, &startedAt, &finished); err != nil {
			return nil, err
		}
		if rec.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("sqlite: event id %q: %w", eventID, err)
		}
		rec.Status = domain.ExecutionStatus(status)
		if rec.ScheduledAt, err = parseTime(scheduledAt); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Times are stored as fixed-width UTC text so that they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isConstraintError(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	// The low byte is the primary result code.
	return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

var _ history.Store = (*Store)(nil)
