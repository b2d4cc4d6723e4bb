package jobs

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/logger"
)

// DateLayout is the stored form of calendar dates.
const DateLayout = "2006-01-02"

// Legacy layouts written by the previous tooling, accepted on read.
const (
	legacyDateLayout      = "02/01/2006"
	legacyTimestampLayout = "02/01/2006 15:04"
)

// Store handles persistence of jobs, schedule entries, gating parameters
// and eventual requests.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now, logger: logger.ComponentLogger("jobs")}
}

// parseStored reads a stored date or timestamp in any accepted layout.
func parseStored(value string, layouts ...string) (time.Time, error) {
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

const jobColumns = `
	id, name, status, query, export_path, export_name, policy,
	days_offset, parameter_id, primary_key, date_column,
	last_execution, last_processed_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var policy, createdAt, updatedAt string
	var parameterID sql.NullInt64
	var lastExecution, lastProcessed sql.NullString

	if err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Status,
		&job.Query,
		&job.ExportPath,
		&job.ExportName,
		&policy,
		&job.DaysOffset,
		&parameterID,
		&job.PrimaryKey,
		&job.DateColumn,
		&lastExecution,
		&lastProcessed,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	var err error

	// An unknown policy is kept as written so Validate rejects the job later
	if p, perr := ParsePolicy(policy); perr == nil {
		job.Policy = p
	} else {
		job.Policy = Policy(policy)
	}

	if parameterID.Valid {
		id := parameterID.Int64
		job.ParameterID = &id
	}

	if job.CreatedAt, err = parseStored(createdAt, time.RFC3339); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse created_at for job %d", job.ID), errors.ErrDefinition)
	}
	if job.UpdatedAt, err = parseStored(updatedAt, time.RFC3339); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse updated_at for job %d", job.ID), errors.ErrDefinition)
	}
	if lastExecution.Valid && lastExecution.String != "" {
		t, err := parseStored(lastExecution.String, time.RFC3339, legacyTimestampLayout)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "failed to parse last_execution for job %d", job.ID), errors.ErrDefinition)
		}
		job.LastExecution = &t
	}
	if lastProcessed.Valid && lastProcessed.String != "" {
		t, err := parseStored(lastProcessed.String, DateLayout, legacyDateLayout)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "failed to parse last_processed_date for job %d", job.ID), errors.ErrDefinition)
		}
		job.LastProcessedDate = &t
	}

	return &job, nil
}

// CreateJob inserts a job and returns its ID.
func (s *Store) CreateJob(ctx context.Context, job *Job) (int64, error) {
	now := s.now().UTC().Format(time.RFC3339)

	status := job.Status
	if status == "" {
		status = StatusActive
	}
	policy := job.Policy
	if policy == "" {
		policy = PolicyOnce
	}

	var parameterID, lastExecution, lastProcessed interface{}
	if job.ParameterID != nil {
		parameterID = *job.ParameterID
	}
	if job.LastExecution != nil {
		lastExecution = job.LastExecution.UTC().Format(time.RFC3339)
	}
	if job.LastProcessedDate != nil {
		lastProcessed = job.LastProcessedDate.Format(DateLayout)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			name, status, query, export_path, export_name, policy,
			days_offset, parameter_id, primary_key, date_column,
			last_execution, last_processed_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name,
		status,
		job.Query,
		job.ExportPath,
		job.ExportName,
		string(policy),
		job.DaysOffset,
		parameterID,
		job.PrimaryKey,
		job.DateColumn,
		lastExecution,
		lastProcessed,
		now,
		now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create job")
	}
	return res.LastInsertId()
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "job %d", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %d", id)
	}
	return job, nil
}

// ListJobs returns every job ordered by ID.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY id")
}

// ListActiveJobs returns jobs whose status marks them active, ordered by ID.
// A row that cannot be read is logged and left out; the others are returned.
func (s *Store) ListActiveJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM jobs WHERE lower(status) IN ('active', 'y') ORDER BY id")
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if errors.Is(err, errors.ErrDefinition) {
			s.logger.Warnw("Skipping unreadable job row",
				logger.FieldJobID, job.ID,
				logger.FieldError, err,
				logger.FieldErrorKind, errors.Kind(err))
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// SetJobStatus activates or deactivates a job.
func (s *Store) SetJobStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?",
		status, s.now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set status of job %d", id)
	}
	return requireOneRow(res, "job", id)
}

// UpdateLastExecution records a successful run. lastDate, when non-nil,
// becomes the job's last processed date; nil leaves it untouched.
func (s *Store) UpdateLastExecution(ctx context.Context, jobID int64, ts time.Time, lastDate *time.Time) error {
	now := s.now().UTC().Format(time.RFC3339)
	var res sql.Result
	var err error
	if lastDate != nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE jobs SET last_execution = ?, last_processed_date = ?, updated_at = ? WHERE id = ?",
			ts.UTC().Format(time.RFC3339), lastDate.Format(DateLayout), now, jobID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE jobs SET last_execution = ?, updated_at = ? WHERE id = ?",
			ts.UTC().Format(time.RFC3339), now, jobID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to update bookkeeping of job %d", jobID)
	}
	return requireOneRow(res, "job", jobID)
}

// AddScheduleEntry stores a recurrence line for a job.
func (s *Store) AddScheduleEntry(ctx context.Context, entry *ScheduleEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO schedule_entries (job_id, day, hour, minute) VALUES (?, ?, ?, ?)",
		entry.JobID, entry.Day, entry.Hour, entry.Minute)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to add schedule entry for job %d", entry.JobID)
	}
	return res.LastInsertId()
}

// ListScheduleEntries returns the recurrence lines of a job ordered by ID.
func (s *Store) ListScheduleEntries(ctx context.Context, jobID int64) ([]ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, day, hour, minute FROM schedule_entries WHERE job_id = ? ORDER BY id", jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list schedule entries of job %d", jobID)
	}
	defer rows.Close()

	var entries []ScheduleEntry
	for rows.Next() {
		var e ScheduleEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Day, &e.Hour, &e.Minute); err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateGatingParameter stores a gate query and returns its ID.
func (s *Store) CreateGatingParameter(ctx context.Context, p *GatingParameter) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO gating_parameters (name, query) VALUES (?, ?)", p.Name, p.Query)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create gating parameter")
	}
	return res.LastInsertId()
}

// GetGatingParameter retrieves a gate query by ID
func (s *Store) GetGatingParameter(ctx context.Context, id int64) (*GatingParameter, error) {
	var p GatingParameter
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, query FROM gating_parameters WHERE id = ?", id).Scan(&p.ID, &p.Name, &p.Query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "gating parameter %d", id)
		}
		return nil, errors.Wrapf(err, "failed to get gating parameter %d", id)
	}
	return &p, nil
}

func requireOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "%s %d", what, id)
	}
	return nil
}
