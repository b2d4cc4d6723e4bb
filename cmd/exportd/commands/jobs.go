package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/exportd/internal/util"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/logger"
	"github.com/teranos/exportd/pulse/schedule"
)

// JobsCmd groups job inspection commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and toggle extraction jobs",
	Long: `Inspect extraction jobs, their bookkeeping and run history.

Job definitions are maintained directly in the job store; these commands
only read them and flip their status.

Examples:
  exportd jobs ls                 # Jobs with their next fire time
  exportd jobs history 12         # Last runs of job 12
  exportd jobs disable 12         # Stop scheduling job 12`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE:  runJobsLs,
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show recent executions of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsHistory,
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Mark a job active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobStatus(cmd.Context(), args[0], jobs.StatusActive)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <job-id>",
	Short: "Mark a job inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobStatus(cmd.Context(), args[0], jobs.StatusInactive)
	},
}

var historyLimit int

func init() {
	jobsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of executions to show")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsHistoryCmd)
	JobsCmd.AddCommand(jobsEnableCmd)
	JobsCmd.AddCommand(jobsDisableCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	store := jobs.NewStore(database)
	all, err := store.ListJobs(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		pterm.Info.Println("No jobs defined")
		return nil
	}

	// Next fire time of each active job
	var set []schedule.JobEntries
	for _, job := range all {
		if !jobs.IsActiveStatus(job.Status) {
			continue
		}
		entries, err := store.ListScheduleEntries(ctx, job.ID)
		if err != nil {
			return err
		}
		set = append(set, schedule.JobEntries{Job: job, Entries: entries})
	}
	next := make(map[int64]time.Time)
	for _, t := range schedule.Resolve(set, time.Now(), loc, logger.ComponentLogger("jobs")) {
		if _, seen := next[t.Job.ID]; !seen {
			next[t.Job.ID] = t.Next
		}
	}

	data := pterm.TableData{{"ID", "Name", "Status", "Policy", "Offset", "Gated", "Last run", "Processed to", "Next"}}
	for _, job := range all {
		nextFire := "-"
		if t, ok := next[job.ID]; ok {
			nextFire = t.Format("Mon 2006-01-02 15:04")
		}
		data = append(data, []string{
			strconv.FormatInt(job.ID, 10),
			job.Name,
			job.Status,
			string(job.Policy),
			strconv.Itoa(job.DaysOffset),
			yesNo(job.Gated()),
			formatTime(job.LastExecution, "2006-01-02 15:04"),
			formatTime(job.LastProcessedDate, jobs.DateLayout),
			nextFire,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsHistory(cmd *cobra.Command, args []string) error {
	id, err := parseJobID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	execs, err := jobs.NewExecutionStore(database).ListExecutions(cmd.Context(), util.Ptr(id), historyLimit)
	if err != nil {
		return err
	}
	return renderExecutions(execs)
}

func setJobStatus(ctx context.Context, arg, status string) error {
	id, err := parseJobID(arg)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := jobs.NewStore(database).SetJobStatus(ctx, id, status); err != nil {
		return err
	}
	pterm.Success.Printfln("Job %d is now %s (picked up at the next reload)", id, status)
	return nil
}

func renderExecutions(execs []*jobs.Execution) error {
	if len(execs) == 0 {
		pterm.Info.Println("No executions recorded")
		return nil
	}
	data := pterm.TableData{{"Started", "Name", "Kind", "Status", "Rows", "Duration", "Files / Error"}}
	for _, e := range execs {
		duration := "-"
		if e.DurationMs != nil {
			duration = (time.Duration(*e.DurationMs) * time.Millisecond).String()
		}
		detail := strings.Join(e.Files, ", ")
		if e.ErrorMessage != nil {
			detail = *e.ErrorMessage
		}
		data = append(data, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.JobName,
			e.Kind,
			e.Status,
			strconv.FormatInt(e.Rows, 10),
			duration,
			detail,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return "-"
	}
	return t.Format(layout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
