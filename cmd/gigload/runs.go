package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/gigbase-loader/internal/journal"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recent load runs from the journal",
	Long: `List recent load runs recorded in the run journal.

With a run id (or a unique prefix of one), show that run and the ids
every processed row produced. The journal is an audit trail only;
loading a file again never skips rows it lists.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to list (0 = all)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("db")
	if dbPath == "" {
		return fmt.Errorf("no journal configured (use --db)")
	}

	j, err := journal.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		run, err := j.GetRun(args[0])
		if err != nil {
			return err
		}
		rows, err := j.GetRunRows(run.ID)
		if err != nil {
			return fmt.Errorf("failed to load rows: %w", err)
		}
		printRun(out, run, rows)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := j.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	printRuns(out, runs)
	return nil
}

func printRuns(out io.Writer, runs []*journal.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATE\tROWS\tDURATION\tSCHEMA\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			shortID(r.ID),
			humanize.Time(r.StartedAt),
			strings.ToUpper(r.State),
			r.RowsDone, r.RowsTotal,
			formatDuration(r),
			r.Variant,
			r.Source)
	}
	w.Flush()
}

func printRun(out io.Writer, r *journal.Run, rows []*journal.RowRecord) {
	fmt.Fprintf(out, "Run:      %s\n", r.ID)
	fmt.Fprintf(out, "State:    %s\n", strings.ToUpper(r.State))
	fmt.Fprintf(out, "Source:   %s (%s schema)\n", r.Source, r.Variant)
	fmt.Fprintf(out, "Endpoint: %s\n", r.Endpoint)
	fmt.Fprintf(out, "Started:  %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	fmt.Fprintf(out, "Duration: %s\n", formatDuration(r))
	fmt.Fprintf(out, "Rows:     %d / %d\n", r.RowsDone, r.RowsTotal)
	if r.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", r.Error)
	}
	if r.EventLog != "" {
		fmt.Fprintf(out, "Events:   %s\n", r.EventLog)
	}

	if len(rows) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tGIG\tSONG\tPERFORMANCE\tTAGS")
	for _, rec := range rows {
		tags := strconv.Itoa(len(rec.TagIDs))
		if rec.Partial {
			tags += " (partial)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			rec.Num,
			markCreated(rec.GigID, rec.GigCreated),
			markCreated(rec.SongID, rec.SongCreated),
			rec.PerformanceID,
			tags)
	}
	w.Flush()
}

func formatDuration(r *journal.Run) string {
	if !r.Finished() {
		return "running"
	}
	return r.Duration().Round(time.Millisecond).String()
}

// markCreated flags ids the run created with a trailing '*'
func markCreated(id string, created bool) string {
	if created {
		return id + "*"
	}
	return id
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
