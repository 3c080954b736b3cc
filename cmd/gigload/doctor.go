package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/journal"
	"github.com/franz/gigbase-loader/internal/schema"
	"github.com/franz/gigbase-loader/internal/source"
	"github.com/franz/gigbase-loader/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor [file]",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure gigload can operate correctly.

This command checks:
- Configuration (endpoint, schema variant, identity)
- The input file, if given, parses and has the required columns
- Endpoint reachability and access key
- SQLite version and run journal integrity

Use this command to troubleshoot issues before loading a file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().Duration("ping-timeout", 10*time.Second, "Timeout for the endpoint check")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== gigload doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	// 1. Configuration
	results = append(results, checkSchema(viper.GetString("schema")))
	results = append(results, checkIdentity())

	// 2. Input file
	if len(args) == 1 {
		results = append(results, checkSource(args[0]))
	}

	// 3. Endpoint
	timeout, _ := cmd.Flags().GetDuration("ping-timeout")
	results = append(results, checkEndpoint(cmd.Context(), viper.GetString("endpoint"), timeout))

	// 4. SQLite and journal
	results = append(results, checkSQLite())
	results = append(results, checkJournal(viper.GetString("db")))

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before loading.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! Ready to load.")
	}

	return nil
}

// checkSchema verifies the configured schema variant
func checkSchema(name string) checkResult {
	variant, err := schema.ParseVariant(name)
	if err != nil {
		return checkResult{name: "Schema", error: true, message: err.Error()}
	}
	return checkResult{name: "Schema", message: string(variant)}
}

// checkIdentity reports the admin and band the run will set up
func checkIdentity() checkResult {
	id := identityFromConfig()
	if id.AdminEmail == "" || id.Band.Name == "" {
		return checkResult{name: "Identity", error: true, message: "admin_email and band must not be empty"}
	}

	msg := fmt.Sprintf("admin %s, band %q at %q", id.AdminEmail, id.Band.Name, id.Venue)
	if id.AdminPassword == "" {
		return checkResult{name: "Identity", warning: true, message: msg + " (empty admin password)"}
	}
	return checkResult{name: "Identity", message: msg}
}

// checkSource verifies the input file parses
func checkSource(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{name: "Input file", error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}

	rows, err := source.Read(path, nil)
	if err != nil {
		return checkResult{name: "Input file", error: true, message: fmt.Sprintf("%s: %v", path, err)}
	}
	if len(rows) == 0 {
		return checkResult{name: "Input file", warning: true, message: fmt.Sprintf("%s has no data rows", path)}
	}

	return checkResult{
		name:    "Input file",
		message: fmt.Sprintf("%s (%s, %s rows)", path, humanize.Bytes(uint64(info.Size())), humanize.Comma(int64(len(rows)))),
	}
}

// checkEndpoint sends a __typename query to the endpoint
func checkEndpoint(ctx context.Context, endpoint string, timeout time.Duration) checkResult {
	if endpoint == "" {
		return checkResult{
			name:    "Endpoint",
			error:   true,
			message: "no endpoint configured (use --endpoint, GIGBASE_ENDPOINT or config)",
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := graphql.NewClient(clientConfig(endpoint))
	if err != nil {
		return checkResult{name: "Endpoint", error: true, message: err.Error()}
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		msg := fmt.Sprintf("%s: %v", endpoint, err)
		if graphql.KindOf(err) == graphql.RemoteRejected {
			msg += " (check the access key)"
		}
		return checkResult{name: "Endpoint", error: true, message: msg}
	}

	return checkResult{
		name:    "Endpoint",
		message: fmt.Sprintf("%s (%s)", endpoint, time.Since(start).Round(time.Millisecond)),
	}
}

// checkSQLite verifies the embedded SQLite works
func checkSQLite() checkResult {
	version := journal.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkJournal verifies the run journal is accessible and intact
func checkJournal(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Journal",
			warning: true,
			message: "disabled (no db configured); runs will not be recorded",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Journal",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	j, err := journal.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer j.Close()

	if err := j.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Journal",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	runs, _ := j.ListRuns(0)
	return checkResult{
		name:    "Journal",
		message: fmt.Sprintf("%s (%s, %d runs)", dbPath, humanize.Bytes(uint64(info.Size())), len(runs)),
	}
}
