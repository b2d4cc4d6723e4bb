package schedule

import (
	"time"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/jobs"
)

// Window is the inclusive date range a recurring run extracts.
type Window struct {
	Initial time.Time
	Final   time.Time
}

// ComputeWindow returns the range job should extract on today. Once jobs
// have no window and get nil. Dates are midnight UTC calendar days.
func ComputeWindow(job jobs.Job, today time.Time) (*Window, error) {
	switch job.Policy {
	case jobs.PolicyOnce:
		return nil, nil
	case jobs.PolicyAccumulate, jobs.PolicyMonthly:
	default:
		return nil, errors.NewDefinitionError("job %d has unknown policy %q", job.ID, job.Policy)
	}

	final := Civil(today).AddDate(0, 0, -job.DaysOffset)
	initial := FirstOfMonth(final)
	if job.LastProcessedDate != nil {
		initial = FirstOfMonth(Civil(*job.LastProcessedDate).AddDate(0, 0, 1))
	}
	return &Window{Initial: initial, Final: final}, nil
}

// Empty reports a window whose start is past its end. Nothing is extracted.
func (w *Window) Empty() bool {
	return w.Initial.After(w.Final)
}

// CrossesMonth reports whether Initial and Final are in different months.
func (w *Window) CrossesMonth() bool {
	return !FirstOfMonth(w.Initial).Equal(FirstOfMonth(w.Final))
}

// Months lists the first day of every month the window touches.
func (w *Window) Months() []time.Time {
	if w.Empty() {
		return nil
	}
	var out []time.Time
	last := FirstOfMonth(w.Final)
	for m := FirstOfMonth(w.Initial); !m.After(last); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}

func (w *Window) String() string {
	return w.Initial.Format(jobs.DateLayout) + ".." + w.Final.Format(jobs.DateLayout)
}

// Civil keeps the calendar date of t, as seen in t's location, at midnight UTC.
func Civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FirstOfMonth returns the first day of t's month at midnight UTC.
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Today is the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return Civil(now.In(loc))
}
