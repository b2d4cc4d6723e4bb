package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/jobs"
)

// 2024-03-04 is a Monday.
var monday = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func entry(id int64, day, hour, minute string) jobs.ScheduleEntry {
	return jobs.ScheduleEntry{ID: id, Day: day, Hour: hour, Minute: minute}
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		code string
		want []time.Weekday
	}{
		{"Mon", []time.Weekday{time.Monday}},
		{"seg", []time.Weekday{time.Monday}},
		{"Sab", []time.Weekday{time.Saturday}},
		{"Sunday", []time.Weekday{time.Sunday}},
		{" Fri ", []time.Weekday{time.Friday}},
		{"Every", allWeekdays},
		{"Todos", allWeekdays},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseDay(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDay("Funday")
	assert.True(t, errors.Is(err, errors.ErrDefinition))
}

func TestResolve_SpecificDay(t *testing.T) {
	job := jobs.Job{ID: 1, Name: "sales"}
	ts := Resolve([]JobEntries{{Job: job, Entries: []jobs.ScheduleEntry{entry(10, "Mon", "9", "30")}}}, monday, time.UTC, nil)

	require.Len(t, ts, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC), ts[0].Next)
	assert.Equal(t, time.Monday, ts[0].Weekday)
	assert.Equal(t, int64(10), ts[0].EntryID)
	assert.False(t, ts[0].OneShot)
}

func TestResolve_EveryExpandsToSevenDays(t *testing.T) {
	job := jobs.Job{ID: 1}
	ts := Resolve([]JobEntries{{Job: job, Entries: []jobs.ScheduleEntry{entry(1, "Every", "7", "0")}}}, monday, time.UTC, nil)

	require.Len(t, ts, 7)
	// Monday 07:00 already passed, so Tuesday is first and Monday is a week out
	assert.Equal(t, time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC), ts[0].Next)
	assert.Equal(t, time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC), ts[6].Next)

	seen := map[time.Weekday]bool{}
	for _, tr := range ts {
		seen[tr.Next.Weekday()] = true
		assert.Equal(t, tr.Weekday, tr.Next.Weekday())
	}
	assert.Len(t, seen, 7)
}

func TestResolve_SkipsInvalidEntries(t *testing.T) {
	set := []JobEntries{
		{Job: jobs.Job{ID: 1}, Entries: []jobs.ScheduleEntry{
			entry(1, "Xyz", "9", "0"),
			entry(2, "Tue", "24", "0"),
			entry(3, "Tue", "9", "60"),
			entry(4, "Tue", "nine", "0"),
			entry(5, "Wed", "09", "05"),
		}},
		{Job: jobs.Job{ID: 2}, Entries: []jobs.ScheduleEntry{entry(6, "Thu", "10", "0")}},
	}
	ts := Resolve(set, monday, time.UTC, zaptest.NewLogger(t).Sugar())

	require.Len(t, ts, 2)
	assert.Equal(t, int64(5), ts[0].EntryID)
	assert.Equal(t, time.Date(2024, 3, 6, 9, 5, 0, 0, time.UTC), ts[0].Next)
	assert.Equal(t, int64(6), ts[1].EntryID)
}

func TestResolve_UsesLocation(t *testing.T) {
	brt := time.FixedZone("BRT", -3*3600)
	ts := Resolve([]JobEntries{{Job: jobs.Job{ID: 1}, Entries: []jobs.ScheduleEntry{entry(1, "Mon", "6", "0")}}}, monday, brt, nil)

	require.Len(t, ts, 1)
	// 08:00 UTC is 05:00 BRT, so 06:00 BRT the same day
	assert.True(t, ts[0].Next.Equal(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)))
}

func TestResolve_OrdersByTimeThenJob(t *testing.T) {
	set := []JobEntries{
		{Job: jobs.Job{ID: 3}, Entries: []jobs.ScheduleEntry{entry(1, "Mon", "9", "0")}},
		{Job: jobs.Job{ID: 1}, Entries: []jobs.ScheduleEntry{entry(2, "Mon", "9", "0")}},
		{Job: jobs.Job{ID: 2}, Entries: []jobs.ScheduleEntry{entry(3, "Mon", "8", "30")}},
	}
	ts := Resolve(set, monday, time.UTC, nil)

	require.Len(t, ts, 3)
	assert.Equal(t, []int64{2, 1, 3}, []int64{ts[0].Job.ID, ts[1].Job.ID, ts[2].Job.ID})
}

func TestTrigger_Advance(t *testing.T) {
	ts := Resolve([]JobEntries{{Job: jobs.Job{ID: 1}, Entries: []jobs.ScheduleEntry{entry(1, "Mon", "9", "30")}}}, monday, time.UTC, nil)
	require.Len(t, ts, 1)
	tr := ts[0]
	tr.Attempt = 1

	fired := tr.Next
	assert.True(t, tr.Due(fired))
	tr.Advance(fired)
	assert.Equal(t, fired.AddDate(0, 0, 7), tr.Next)
	assert.Zero(t, tr.Attempt)

	// A long outage skips missed weeks instead of replaying them
	tr.Advance(fired.AddDate(0, 0, 30))
	assert.Equal(t, time.Date(2024, 4, 8, 9, 30, 0, 0, time.UTC), tr.Next)
}

func TestRetryTrigger(t *testing.T) {
	at := monday.Add(10 * time.Minute)
	tr := RetryTrigger(jobs.Job{ID: 4}, at, 1)
	assert.True(t, tr.OneShot)
	assert.Equal(t, 1, tr.Attempt)
	assert.Equal(t, "4/retry", tr.Key())
	assert.False(t, tr.Due(monday))
	assert.True(t, tr.Due(at))

	// One-shots have no recurrence to advance to
	tr.Advance(at)
	assert.Equal(t, at, tr.Next)
}
