package jobs

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/exportd/errors"
)

// Execution records one run of a job or eventual request.
//
// It is history only: the scheduler never reads it back to decide anything,
// bookkeeping lives on the job row.
type Execution struct {
	ID           string
	JobID        *int64 // nil for eventual requests
	JobName      string
	Kind         string
	Status       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMs   *int64
	Rows         int64
	Files        []string
	ErrorMessage *string
}

// executionTimeLayout has fixed-width fractions so stored values sort as text.
const executionTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Execution kinds
const (
	KindScheduled = "scheduled"
	KindRetry     = "retry"
	KindEventual  = "eventual"
)

// Execution status constants
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
	ExecutionStatusSkipped   = "skipped"
)

// ExecutionStore handles persistence of run history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Start inserts a running execution and returns it with a fresh ID.
func (s *ExecutionStore) Start(ctx context.Context, jobID *int64, jobName, kind string, startedAt time.Time) (*Execution, error) {
	exec := &Execution{
		ID:        uuid.NewString(),
		JobID:     jobID,
		JobName:   jobName,
		Kind:      kind,
		Status:    ExecutionStatusRunning,
		StartedAt: startedAt,
	}

	var jid interface{}
	if jobID != nil {
		jid = *jobID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, job_id, job_name, kind, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ID, jid, jobName, kind, exec.Status, startedAt.UTC().Format(executionTimeLayout))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create execution")
	}
	return exec, nil
}

// Finish stores the outcome of exec. runErr nil means completed.
func (s *ExecutionStore) Finish(ctx context.Context, exec *Execution, status string, completedAt time.Time, rows int64, files []string, runErr error) error {
	duration := completedAt.Sub(exec.StartedAt).Milliseconds()
	exec.Status = status
	exec.CompletedAt = &completedAt
	exec.DurationMs = &duration
	exec.Rows = rows
	exec.Files = files

	var errorMessage interface{}
	if runErr != nil {
		msg := runErr.Error()
		exec.ErrorMessage = &msg
		errorMessage = msg
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, completed_at = ?, duration_ms = ?, row_count = ?, files = ?, error_message = ?
		WHERE id = ?`,
		status,
		completedAt.UTC().Format(executionTimeLayout),
		duration,
		rows,
		strings.Join(files, "\n"),
		errorMessage,
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "execution %s", exec.ID)
	}
	return nil
}

const executionColumns = `
	id, job_id, job_name, kind, status, started_at, completed_at,
	duration_ms, row_count, files, error_message`

// GetExecution retrieves an execution by ID
func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "execution %s", id)
		}
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// ListExecutions returns the most recent executions of a job, newest first.
// jobID nil lists eventual executions.
func (s *ExecutionStore) ListExecutions(ctx context.Context, jobID *int64, limit int) ([]*Execution, error) {
	var rows *sql.Rows
	var err error
	if jobID != nil {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+executionColumns+" FROM executions WHERE job_id = ? ORDER BY started_at DESC LIMIT ?",
			*jobID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+executionColumns+" FROM executions WHERE job_id IS NULL ORDER BY started_at DESC LIMIT ?",
			limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return executions, nil
}

// CleanupOldExecutions deletes records started before the retention period.
// Returns the number of executions deleted.
func (s *ExecutionStore) CleanupOldExecutions(ctx context.Context, retentionDays int, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -retentionDays).UTC().Format(executionTimeLayout)

	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(deleted), nil
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var jobID, durationMs sql.NullInt64
	var startedAt, files string
	var completedAt, errorMessage sql.NullString

	err := row.Scan(
		&exec.ID,
		&jobID,
		&exec.JobName,
		&exec.Kind,
		&exec.Status,
		&startedAt,
		&completedAt,
		&durationMs,
		&exec.Rows,
		&files,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if exec.StartedAt, err = time.Parse(executionTimeLayout, startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	if jobID.Valid {
		id := jobID.Int64
		exec.JobID = &id
	}
	if completedAt.Valid {
		t, err := time.Parse(executionTimeLayout, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed_at for execution %s", exec.ID)
		}
		exec.CompletedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		exec.DurationMs = &d
	}
	if files != "" {
		exec.Files = strings.Split(files, "\n")
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}
	return &exec, nil
}
