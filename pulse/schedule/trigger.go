// Package schedule decides when jobs run and dispatches them.
//
// A Scheduler owns an in-memory set of Triggers rebuilt from the job store
// on every reload. Each pass it evaluates due triggers on its own loop,
// gates them, and hands ready executions to a worker pool.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/logger"
)

// DayEvery expands to all seven weekdays.
const DayEvery = "Every"

var dayCodes = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday, "seg": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "ter": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "qua": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "qui": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "sex": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "sab": time.Saturday, "sáb": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday, "dom": time.Sunday,
}

var allWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// ParseDay maps a stored day code to the weekdays it covers.
// English and Portuguese abbreviations are accepted, case-insensitively.
func ParseDay(code string) ([]time.Weekday, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	switch c {
	case "every", "todos", "all", "*":
		return allWeekdays, nil
	}
	if d, ok := dayCodes[c]; ok {
		return []time.Weekday{d}, nil
	}
	return nil, errors.NewDefinitionError("unknown day code %q", code)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger is the next fire instant of one job on one weekday.
type Trigger struct {
	Job     jobs.Job
	EntryID int64
	Weekday time.Weekday
	Hour    int
	Minute  int
	Next    time.Time
	Attempt int  // gate retries already spent on this occurrence
	OneShot bool // a gate retry, dropped after firing

	sched cron.Schedule
}

// Key identifies the recurrence a trigger belongs to.
func (t *Trigger) Key() string {
	if t.OneShot {
		return fmt.Sprintf("%d/retry", t.Job.ID)
	}
	return fmt.Sprintf("%d/%d/%d", t.Job.ID, t.EntryID, t.Weekday)
}

// Due reports whether the trigger should fire at now.
func (t *Trigger) Due(now time.Time) bool {
	return !t.Next.After(now)
}

// Advance moves a recurring trigger past now to its next weekly
// occurrence and clears any retry state.
func (t *Trigger) Advance(now time.Time) {
	t.Attempt = 0
	if t.sched == nil {
		return
	}
	for !t.Next.After(now) {
		t.Next = t.sched.Next(t.Next)
	}
}

// RetryTrigger builds the one-shot gate retry for job at fireAt.
func RetryTrigger(job jobs.Job, fireAt time.Time, attempt int) *Trigger {
	return &Trigger{Job: job, Next: fireAt, Attempt: attempt, OneShot: true}
}

// JobEntries pairs a job with its stored recurrence lines.
type JobEntries struct {
	Job     jobs.Job
	Entries []jobs.ScheduleEntry
}

// Resolve builds one trigger per job, entry and weekday, each set to its
// first occurrence after now in loc. Invalid entries are logged and skipped.
func Resolve(set []JobEntries, now time.Time, loc *time.Location, log *zap.SugaredLogger) []*Trigger {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	local := now.In(loc)

	var out []*Trigger
	for _, je := range set {
		for _, e := range je.Entries {
			ts, err := entryTriggers(je.Job, e, local)
			if err != nil {
				log.Warnw("Skipping schedule entry",
					logger.FieldJobID, je.Job.ID,
					logger.FieldJobName, je.Job.Name,
					logger.FieldEntryID, e.ID,
					"day", e.Day,
					"hour", e.Hour,
					"minute", e.Minute,
					logger.FieldError, err)
				continue
			}
			out = append(out, ts...)
		}
	}
	SortTriggers(out)
	return out
}

func entryTriggers(job jobs.Job, e jobs.ScheduleEntry, now time.Time) ([]*Trigger, error) {
	days, err := ParseDay(e.Day)
	if err != nil {
		return nil, err
	}
	hour, err := parseClock(e.Hour, 23, "hour")
	if err != nil {
		return nil, err
	}
	minute, err := parseClock(e.Minute, 59, "minute")
	if err != nil {
		return nil, err
	}

	out := make([]*Trigger, 0, len(days))
	for _, d := range days {
		sched, err := cronParser.Parse(fmt.Sprintf("%d %d * * %d", minute, hour, int(d)))
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "entry %d", e.ID), errors.ErrDefinition)
		}
		out = append(out, &Trigger{
			Job:     job,
			EntryID: e.ID,
			Weekday: d,
			Hour:    hour,
			Minute:  minute,
			Next:    sched.Next(now),
			sched:   sched,
		})
	}
	return out, nil
}

func parseClock(s string, max int, what string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > max {
		return 0, errors.NewDefinitionError("invalid %s %q", what, s)
	}
	return n, nil
}

// SortTriggers orders by fire time, then job id, then key.
func SortTriggers(ts []*Trigger) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if !a.Next.Equal(b.Next) {
			return a.Next.Before(b.Next)
		}
		if a.Job.ID != b.Job.ID {
			return a.Job.ID < b.Job.ID
		}
		return a.Key() < b.Key()
	})
}
