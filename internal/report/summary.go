package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// SummaryReport represents the summary of one load run
type SummaryReport struct {
	GeneratedAt time.Time
	StartedAt   time.Time
	Duration    time.Duration

	RunID    string
	Source   string
	Schema   string
	Endpoint string
	State    string

	RowsTotal     int
	RowsProcessed int
	Performances  int
	Tags          int

	// Setup records keyed by kind (user, band, user_band, tagclass:<name>)
	Setup []SetupRecord

	// Entity outcomes keyed by kind (gig, song)
	Created map[string]int
	Found   map[string]int

	FailedRow int
	Failure   string

	// Slowest rows by duration
	SlowRows []RowTiming

	EventLogPath string
}

// SetupRecord is one identity record resolved during setup
type SetupRecord struct {
	Kind    string
	ID      string
	Outcome string
}

// RowTiming is the processing time of one row
type RowTiming struct {
	Row      int
	Duration time.Duration
}

// GenerateSummaryReport creates a summary report from an event log
func GenerateSummaryReport(eventLogPath string) (*SummaryReport, error) {
	events, err := ReadEvents(eventLogPath)
	if err != nil {
		return nil, err
	}

	report := Summarize(events)
	report.EventLogPath = eventLogPath
	return report, nil
}

// Summarize folds a run's events into a report
func Summarize(events []Event) *SummaryReport {
	report := &SummaryReport{
		GeneratedAt: time.Now(),
		Created:     make(map[string]int),
		Found:       make(map[string]int),
		Setup:       make([]SetupRecord, 0),
	}

	var rows []RowTiming
	for _, e := range events {
		if report.RunID == "" {
			report.RunID = e.RunID
		}

		switch e.Event {
		case EventRunStart:
			report.StartedAt = e.Timestamp
			report.Source = e.Extra["source"]
			report.Schema = e.Extra["schema"]
			report.Endpoint = e.Extra["endpoint"]
			report.RowsTotal, _ = strconv.Atoi(e.Extra["rows"])

		case EventSetup:
			report.Setup = append(report.Setup, SetupRecord{Kind: e.Kind, ID: e.ID, Outcome: e.Outcome})

		case EventEntity:
			if e.Outcome == OutcomeCreated {
				report.Created[e.Kind]++
			} else {
				report.Found[e.Kind]++
			}

		case EventRow:
			report.Performances++
			if n, err := strconv.Atoi(e.Extra["tags"]); err == nil {
				report.Tags += n
			}
			rows = append(rows, RowTiming{Row: e.Row, Duration: time.Duration(e.Duration) * time.Millisecond})

		case EventError:
			if report.Failure == "" {
				report.FailedRow = e.Row
				report.Failure = e.Error
			}

		case EventRunEnd:
			report.State = e.State
			report.Duration = time.Duration(e.Duration) * time.Millisecond
			report.RowsProcessed, _ = strconv.Atoi(e.Extra["processed"])
			if report.Failure == "" && e.Error != "" {
				report.Failure = e.Error
			}
		}
	}

	if report.State == "" {
		// No run_end: the process died mid-run
		report.State = "incomplete"
		report.RowsProcessed = report.Performances
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Duration > rows[j].Duration
	})
	if len(rows) > 5 {
		rows = rows[:5]
	}
	report.SlowRows = rows

	return report
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// RenderMarkdown renders the summary report as Markdown
func RenderMarkdown(report *SummaryReport) string {
	var md strings.Builder

	md.WriteString("# GigBase Load - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.RunID != "" {
		md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", report.RunID))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| State | %s |\n", strings.ToUpper(report.State)))
	if report.Source != "" {
		md.WriteString(fmt.Sprintf("| Source | `%s` |\n", report.Source))
	}
	if report.Schema != "" {
		md.WriteString(fmt.Sprintf("| Schema | %s |\n", report.Schema))
	}
	if report.Endpoint != "" {
		md.WriteString(fmt.Sprintf("| Endpoint | %s |\n", report.Endpoint))
	}
	if !report.StartedAt.IsZero() {
		md.WriteString(fmt.Sprintf("| Started | %s |\n", report.StartedAt.Format("2006-01-02 15:04:05")))
	}
	if report.Duration > 0 {
		md.WriteString(fmt.Sprintf("| Duration | %s |\n", report.Duration.Round(time.Millisecond)))
	}
	md.WriteString(fmt.Sprintf("| Rows | %s / %s |\n", humanize.Comma(int64(report.RowsProcessed)), humanize.Comma(int64(report.RowsTotal))))
	md.WriteString("\n")

	if len(report.Setup) > 0 {
		md.WriteString("## Setup\n\n")
		md.WriteString("| Record | Outcome | ID |\n")
		md.WriteString("|--------|---------|----|\n")
		for _, s := range report.Setup {
			md.WriteString(fmt.Sprintf("| %s | %s | `%s` |\n", s.Kind, s.Outcome, s.ID))
		}
		md.WriteString("\n")
	}

	md.WriteString("## Records\n\n")
	md.WriteString("| Kind | Created | Found |\n")
	md.WriteString("|------|---------|-------|\n")
	for _, kind := range []string{"gig", "song"} {
		md.WriteString(fmt.Sprintf("| %s | %d | %d |\n", kind, report.Created[kind], report.Found[kind]))
	}
	md.WriteString(fmt.Sprintf("| performance | %d | - |\n", report.Performances))
	if report.Tags > 0 {
		md.WriteString(fmt.Sprintf("| tag | %d | - |\n", report.Tags))
	}
	md.WriteString("\n")

	if len(report.SlowRows) > 0 {
		md.WriteString("## Slowest Rows\n\n")
		md.WriteString("| Row | Duration |\n")
		md.WriteString("|-----|----------|\n")
		for _, r := range report.SlowRows {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", r.Row, r.Duration))
		}
		md.WriteString("\n")
	}

	if report.Failure != "" {
		md.WriteString("## Failure\n\n")
		if report.FailedRow > 0 {
			md.WriteString(fmt.Sprintf("Row %d aborted the run. Rows after it were not processed.\n\n", report.FailedRow))
		}
		md.WriteString(fmt.Sprintf("```\n%s\n```\n\n", report.Failure))
		if report.Performances > 0 {
			md.WriteString(fmt.Sprintf("%s performance(s) were already written. Loading the file again will write them a second time.\n\n",
				humanize.Comma(int64(report.Performances))))
		}
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by gigload*\n")

	return md.String()
}
