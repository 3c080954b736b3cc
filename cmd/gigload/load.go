package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/journal"
	"github.com/franz/gigbase-loader/internal/loader"
	"github.com/franz/gigbase-loader/internal/metrics"
	"github.com/franz/gigbase-loader/internal/report"
	"github.com/franz/gigbase-loader/internal/sandbox"
	"github.com/franz/gigbase-loader/internal/schema"
	"github.com/franz/gigbase-loader/internal/source"
	"github.com/franz/gigbase-loader/internal/util"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a CSV or XLSX export into GigBase",
	Long: `Load every row of a spreadsheet export into the configured endpoint.

The file is parsed completely before the first remote call. Setup then
finds or creates the admin user, the band and their membership (and the
tag classes for the tagged schema). Each row is processed in file order:
its gig and song are found or created and a new performance is written.
A JSON copy of each processed row is printed to stdout.

The first error stops the run. Rows already processed stay in the
database; loading the same file again writes their performances again.

Use --sandbox to load into a throwaway in-memory endpoint instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	// Load-specific flags
	loadCmd.Flags().String("delimiter", ",", "CSV field delimiter")
	loadCmd.Flags().String("sheet", "", "XLSX sheet to read (default: first sheet)")
	loadCmd.Flags().Bool("print-ids", false, "Append a tab and the new performance id to each output line")
	loadCmd.Flags().Bool("sandbox", false, "Load into an in-process sandbox instead of the endpoint")
	loadCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	loadCmd.Flags().String("metrics-file", "", "Write Prometheus metrics for the run to this file")

	viper.BindPFlag("print_ids", loadCmd.Flags().Lookup("print-ids"))
	viper.BindPFlag("metrics_file", loadCmd.Flags().Lookup("metrics-file"))
}

func runLoad(cmd *cobra.Command, args []string) error {
	path := args[0]

	variant, err := schema.ParseVariant(viper.GetString("schema"))
	if err != nil {
		return err
	}

	delimiter, _ := cmd.Flags().GetString("delimiter")
	sheet, _ := cmd.Flags().GetString("sheet")
	useSandbox, _ := cmd.Flags().GetBool("sandbox")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	opts, err := sourceOptions(delimiter, sheet)
	if err != nil {
		return err
	}

	// Parse everything before any remote call
	rows, err := source.Read(path, opts)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	util.InfoLog("Read %d rows from %s", len(rows), path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := viper.GetString("endpoint")
	if useSandbox {
		sb, err := sandbox.New(sandbox.Options{Variant: string(variant)})
		if err != nil {
			return err
		}
		ln, err := sb.Start("127.0.0.1:0")
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ln.Shutdown(shutdownCtx)
			util.InfoLog("Sandbox now holds %d gigs, %d songs, %d performances",
				sb.Count("gig"), sb.Count("song"), sb.Count("performance"))
		}()
		endpoint = ln.URL
		util.InfoLog("Loading into sandbox (%s)", variant)
	}
	if endpoint == "" {
		return fmt.Errorf("%w: no endpoint configured (set --endpoint or GIGBASE_ENDPOINT)", util.ErrInvalidConfig)
	}

	m := metrics.New()
	clientCfg := clientConfig(endpoint)
	clientCfg.Observer = m.ObserveRequest
	if useSandbox {
		clientCfg.AccessKey = ""
	}

	client, err := graphql.NewClient(clientCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	adapter, err := schema.New(variant, client)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if dbPath := viper.GetString("db"); dbPath != "" && !useSandbox {
		j, err = journal.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
	}

	events, err := report.NewEventLogger(GetConfigString("events_dir", "artifacts"), eventLevel())
	if err != nil {
		util.WarnLog("Event log disabled: %v", err)
		events = report.NullLogger()
	}
	defer events.Close()

	l, err := loader.New(&loader.Config{
		Adapter:  adapter,
		Identity: identityFromConfig(),
		Out:      cmd.OutOrStdout(),
		PrintIDs: viper.GetBool("print_ids"),
		Progress: !noProgress,
		Logger:   events,
		Journal:  j,
		Metrics:  m,
		Source:   path,
		Endpoint: endpoint,
	})
	if err != nil {
		return err
	}

	res, runErr := l.Run(ctx, rows)

	if metricsFile := viper.GetString("metrics_file"); metricsFile != "" {
		if err := m.WriteFile(metricsFile); err != nil {
			util.WarnLog("Failed to write metrics: %v", err)
		} else {
			util.DebugLog("Metrics written to %s", metricsFile)
		}
	}

	util.InfoLog("Run %s: %s, %d of %d rows, %d requests",
		res.RunID, res.State, res.Processed, res.RowsTotal, client.Requests())
	if logPath := events.Path(); logPath != "" {
		util.InfoLog("Event log: %s", logPath)
	}

	return runErr
}

func sourceOptions(delimiter, sheet string) (*source.Options, error) {
	opts := &source.Options{Sheet: sheet}
	if delimiter == "" {
		return opts, nil
	}
	if delimiter == `\t` {
		delimiter = "\t"
	}

	r, size := utf8.DecodeRuneInString(delimiter)
	if size != len(delimiter) {
		return nil, fmt.Errorf("%w: delimiter must be a single character, got %q", util.ErrInvalidConfig, delimiter)
	}
	opts.Delimiter = r
	return opts, nil
}

func eventLevel() report.EventLevel {
	if viper.GetBool("verbose") {
		return report.LevelDebug
	}
	return report.LevelInfo
}
