package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/franz/gigbase-loader/internal/journal"
	"github.com/franz/gigbase-loader/internal/report"
)

func TestSourceOptions(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{",", ',', false},
		{";", ';', false},
		{`\t`, '\t', false},
		{"", 0, false},
		{"|", '|', false},
		{"ab", 0, true},
	}

	for _, tt := range tests {
		opts, err := sourceOptions(tt.in, "")
		if tt.wantErr {
			if err == nil {
				t.Errorf("sourceOptions(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("sourceOptions(%q) failed: %v", tt.in, err)
			continue
		}
		if opts.Delimiter != tt.want {
			t.Errorf("sourceOptions(%q) = %q, want %q", tt.in, opts.Delimiter, tt.want)
		}
	}
}

// withConfig sets viper keys for one test
func withConfig(t *testing.T, values map[string]interface{}) {
	t.Helper()
	for k, v := range values {
		prev := viper.Get(k)
		viper.Set(k, v)
		t.Cleanup(func() { viper.Set(k, prev) })
	}
}

func TestRunLoad_Sandbox(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "songs.csv")
	os.WriteFile(csvPath, []byte(`played,title,recordings,drumkit,key
20161102,All Along the Watchtower,3,93,A
20161109,Little Wing,,88,Em
`), 0644)

	withConfig(t, map[string]interface{}{
		"schema":       "tagged",
		"db":           "",
		"events_dir":   filepath.Join(dir, "artifacts"),
		"metrics_file": filepath.Join(dir, "metrics", "gigload.prom"),
		"print_ids":    false,
	})

	loadCmd.Flags().Set("sandbox", "true")
	loadCmd.Flags().Set("no-progress", "true")
	defer loadCmd.Flags().Set("sandbox", "false")

	var out bytes.Buffer
	loadCmd.SetOut(&out)
	defer loadCmd.SetOut(nil)

	if err := runLoad(loadCmd, []string{csvPath}); err != nil {
		t.Fatalf("runLoad failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 confirmation lines, got %d: %q", len(lines), out.String())
	}
	var first map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("confirmation is not JSON: %v", err)
	}
	if first["title"] != "All Along the Watchtower" || first["recordings"] != "3" {
		t.Errorf("unexpected confirmation: %v", first)
	}

	prom, err := os.ReadFile(filepath.Join(dir, "metrics", "gigload.prom"))
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(prom), "gigload_rows_total 2") {
		t.Errorf("metrics missing rows_total:\n%s", prom)
	}
	if !strings.Contains(string(prom), `gigload_requests_total{operation="insert_tag",result="ok"} 4`) {
		t.Errorf("metrics missing insert_tag requests:\n%s", prom)
	}

	logPath, err := report.LatestEventLog(filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("event log not written: %v", err)
	}
	summary, err := report.GenerateSummaryReport(logPath)
	if err != nil {
		t.Fatalf("GenerateSummaryReport failed: %v", err)
	}
	if summary.State != "done" || summary.Tags != 4 {
		t.Errorf("unexpected summary: state=%s tags=%d", summary.State, summary.Tags)
	}
}

func TestRunLoad_RejectsBadFileBeforeConnecting(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "songs.csv")
	os.WriteFile(csvPath, []byte("played,title\n20161102,Hey Joe\n"), 0644)

	// An unroutable endpoint would fail the run if it were ever contacted
	withConfig(t, map[string]interface{}{
		"endpoint":   "http://127.0.0.1:1/v1/graphql",
		"db":         "",
		"events_dir": filepath.Join(dir, "artifacts"),
	})

	err := runLoad(loadCmd, []string{csvPath})
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	if !strings.Contains(err.Error(), "missing required columns") {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "artifacts")); !os.IsNotExist(err) {
		t.Error("no run should have started")
	}
}

func TestRunLoad_UnknownSchema(t *testing.T) {
	withConfig(t, map[string]interface{}{"schema": "graph"})

	if err := runLoad(loadCmd, []string{"songs.csv"}); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestConfigGenerate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "configs", "gigload.yaml")

	configGenerateCmd.Flags().Set("out", out)
	defer configGenerateCmd.Flags().Set("out", "configs/gigload.yaml")

	if err := runConfigGenerate(configGenerateCmd, nil); err != nil {
		t.Fatalf("runConfigGenerate failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("generated config is not YAML: %v", err)
	}
	if cfg.Band != "Leadbone" || cfg.KeyHeader != "x-hasura-access-key" || !cfg.BandViewableByOthers {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	// A second run must not overwrite
	if err := runConfigGenerate(configGenerateCmd, nil); err == nil {
		t.Error("expected error when the file exists")
	}
}

func TestPrintRuns(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	runs := []*journal.Run{
		{ID: "0b9c6a4e-1111-2222-3333-444455556666", State: journal.StateDone, Variant: "simple", Source: "songs.csv",
			RowsDone: 3, RowsTotal: 3, StartedAt: started, FinishedAt: started.Add(1500 * time.Millisecond)},
		{ID: "7f00aa11-1111-2222-3333-444455556666", State: journal.StateProcessing, Variant: "tagged", Source: "more.csv",
			RowsDone: 1, RowsTotal: 4, StartedAt: started},
	}

	var out bytes.Buffer
	printRuns(&out, runs)
	text := out.String()

	for _, want := range []string{"0b9c6a4e", "DONE", "3/3", "1.5s", "7f00aa11", "running", "1/4"} {
		if !strings.Contains(text, want) {
			t.Errorf("runs listing is missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "0b9c6a4e-1111") {
		t.Error("run ids should be shortened")
	}
}

func TestPrintRun(t *testing.T) {
	started := time.Now()
	run := &journal.Run{ID: "run-1", State: journal.StateFailed, Source: "songs.csv", Variant: "simple",
		RowsDone: 1, RowsTotal: 3, StartedAt: started, FinishedAt: started.Add(time.Second),
		Error: "row 2: remote_rejected in insert_song"}
	rows := []*journal.RowRecord{
		{Num: 1, GigID: "g-1", GigCreated: true, SongID: "s-1", PerformanceID: "p-1"},
		{Num: 2, GigID: "g-1", SongID: "s-2", PerformanceID: "p-2", TagIDs: []string{"t-1"}, Partial: true},
	}

	var out bytes.Buffer
	printRun(&out, run, rows)
	text := out.String()

	for _, want := range []string{"FAILED", "row 2: remote_rejected", "g-1*", "s-1 ", "p-1", "1 (partial)"} {
		if !strings.Contains(text, want) {
			t.Errorf("run details are missing %q:\n%s", want, text)
		}
	}
}
