package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/gigbase-loader/internal/report"
	"github.com/franz/gigbase-loader/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report from a run's event log",
	Long: `Generate a summary report of one load run in Markdown format.

The report includes:
- Run state, source file, schema and endpoint
- Setup records (admin user, band, membership, tag classes)
- Gigs and songs created vs found, performances and tags written
- The slowest rows
- The failure that stopped the run, if any

Without --event-log the newest event log in events_dir is used.
The report is saved to artifacts/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	// Report-specific flags
	reportCmd.Flags().String("out", "", "Output directory for report (default: artifacts/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "Path to event log file (default: newest in events_dir)")
}

func runReport(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== Generating Summary Report ===")

	eventLogPath, _ := cmd.Flags().GetString("event-log")
	if eventLogPath == "" {
		latest, err := report.LatestEventLog(GetConfigString("events_dir", "artifacts"))
		if err != nil {
			return fmt.Errorf("no event log given and none found: %w", err)
		}
		eventLogPath = latest
	}
	util.InfoLog("Event log: %s", eventLogPath)

	summaryReport, err := report.GenerateSummaryReport(eventLogPath)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	// Determine output path
	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		timestamp := time.Now().Format("20060102-150405")
		outputDir = filepath.Join(GetConfigString("events_dir", "artifacts"), "reports", timestamp)
	}

	outputPath := filepath.Join(outputDir, "summary.md")

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(summaryReport, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	// Summary
	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Run %s: %s, %d / %d rows", summaryReport.RunID, summaryReport.State,
		summaryReport.RowsProcessed, summaryReport.RowsTotal)
	util.InfoLog("Report saved to: %s", outputPath)

	return nil
}
