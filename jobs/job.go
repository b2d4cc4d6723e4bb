// Package jobs holds extraction job definitions and their SQLite store.
package jobs

import (
	"strings"
	"time"

	"github.com/teranos/exportd/errors"
)

// Policy decides how an extraction result lands on disk.
type Policy string

const (
	// PolicyOnce overwrites <path>/<name>.csv with the full result.
	PolicyOnce Policy = "Once"
	// PolicyAccumulate merges the window into the existing file.
	PolicyAccumulate Policy = "Accumulate"
	// PolicyMonthly writes one file per calendar month.
	PolicyMonthly Policy = "Monthly"
)

// ParsePolicy accepts the canonical names and the legacy labels.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once", "único", "unico":
		return PolicyOnce, nil
	case "accumulate", "acumulado":
		return PolicyAccumulate, nil
	case "monthly", "mês", "mes":
		return PolicyMonthly, nil
	}
	return "", errors.NewDefinitionError("unknown export policy %q", s)
}

// Status constants for jobs
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// IsActiveStatus treats the legacy "Y" flag as active.
func IsActiveStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusActive, "y":
		return true
	}
	return false
}

// Job is a stored extraction definition.
type Job struct {
	ID                int64
	Name              string
	Status            string
	Query             string
	ExportPath        string
	ExportName        string // base file name without extension
	Policy            Policy
	DaysOffset        int
	ParameterID       *int64 // gating parameter, nil when ungated
	PrimaryKey        string // carried for future dedup, unused
	DateColumn        string // row date column for Accumulate and Monthly, empty means the first column
	LastExecution     *time.Time
	LastProcessedDate *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Gated reports whether the job has a precondition.
func (j Job) Gated() bool {
	return j.ParameterID != nil
}

// Validate checks the fields every run depends on.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Query) == "" {
		return errors.NewDefinitionError("job %d has an empty query", j.ID)
	}
	if strings.TrimSpace(j.ExportName) == "" {
		return errors.NewDefinitionError("job %d has no export name", j.ID)
	}
	switch j.Policy {
	case PolicyOnce, PolicyAccumulate, PolicyMonthly:
	default:
		return errors.NewDefinitionError("job %d has unknown policy %q", j.ID, j.Policy)
	}
	if j.DaysOffset < 0 {
		return errors.NewDefinitionError("job %d has negative days offset %d", j.ID, j.DaysOffset)
	}
	return nil
}

// ScheduleEntry is one stored weekly recurrence line of a job.
// Day, Hour and Minute are kept as written.
type ScheduleEntry struct {
	ID     int64
	JobID  int64
	Day    string
	Hour   string
	Minute string
}

// GatingParameter is a query returning (unit, date reached) rows.
type GatingParameter struct {
	ID    int64
	Name  string
	Query string
}

// EventualRequest is a one-shot extraction consumed by the scheduler loop.
type EventualRequest struct {
	ID        int64
	Name      string
	Query     string
	CreatedAt time.Time
}
