package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/export"
	"github.com/teranos/exportd/jobs"
)

// EventualCmd manages one-shot extraction requests
var EventualCmd = &cobra.Command{
	Use:   "eventual",
	Short: "Queue one-shot extractions",
	Long: `Queue a query to run once on the next scheduler pass.

The result is written whole to <export.eventual_dir>/<name>.csv and the
request is removed whether it succeeds or not.

Examples:
  exportd eventual add --name stock --query "SELECT * FROM stock"
  exportd eventual ls
  exportd eventual history`,
}

var eventualAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a request",
	RunE:  runEventualAdd,
}

var eventualLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pending requests",
	RunE:  runEventualLs,
}

var eventualHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent eventual executions",
	RunE:  runEventualHistory,
}

var (
	eventualName  string
	eventualQuery string
)

func init() {
	eventualAddCmd.Flags().StringVar(&eventualName, "name", "", "Output file name without extension")
	eventualAddCmd.Flags().StringVar(&eventualQuery, "query", "", "Read-only query to run")
	_ = eventualAddCmd.MarkFlagRequired("name")
	_ = eventualAddCmd.MarkFlagRequired("query")
	eventualHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of executions to show")

	EventualCmd.AddCommand(eventualAddCmd)
	EventualCmd.AddCommand(eventualLsCmd)
	EventualCmd.AddCommand(eventualHistoryCmd)
}

func runEventualAdd(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(eventualName)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.Newf("invalid request name %q", eventualName)
	}
	// Refused here too so a bad request never reaches the queue
	if err := export.CheckReadOnly(eventualQuery); err != nil {
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

	id, err := jobs.NewStore(database).CreateEventualRequest(cmd.Context(), name, eventualQuery)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Queued eventual request %d (%s.csv)", id, name)
	return nil
}

func runEventualLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	reqs, err := jobs.NewStore(database).ListEventualRequests(cmd.Context())
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		pterm.Info.Println("No pending requests")
		return nil
	}
	data := pterm.TableData{{"ID", "Name", "Queued", "Query"}}
	for _, r := range reqs {
		data = append(data, []string{
			pterm.Sprint(r.ID),
			r.Name,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Query,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runEventualHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	execs, err := jobs.NewExecutionStore(database).ListExecutions(cmd.Context(), nil, historyLimit)
	if err != nil {
		return err
	}
	return renderExecutions(execs)
}
