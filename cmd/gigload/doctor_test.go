package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/franz/gigbase-loader/internal/journal"
	"github.com/franz/gigbase-loader/internal/sandbox"
)

func TestCheckSchema(t *testing.T) {
	if r := checkSchema("tagged"); r.error {
		t.Errorf("tagged schema should pass: %s", r.message)
	}
	if r := checkSchema("Simple"); r.error || r.message != "simple" {
		t.Errorf("expected case-insensitive match, got %+v", r)
	}
	if r := checkSchema("graph"); !r.error {
		t.Error("unknown schema should fail")
	}
}

func TestCheckIdentity_Defaults(t *testing.T) {
	result := checkIdentity()

	if result.error {
		t.Errorf("default identity should pass: %s", result.message)
	}
	if !strings.Contains(result.message, "neon@leadbone.com") || !strings.Contains(result.message, "Leadbone") {
		t.Errorf("expected admin and band in message, got %q", result.message)
	}
}

func TestCheckSource(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "songs.csv")
	os.WriteFile(good, []byte("played,title,recordings,drumkit,key\n20161102,Hey Joe,,93,E\n"), 0644)
	if r := checkSource(good); r.error || r.warning {
		t.Errorf("valid file should pass: %+v", r)
	}

	empty := filepath.Join(dir, "empty.csv")
	os.WriteFile(empty, []byte("played,title,recordings,drumkit,key\n"), 0644)
	if r := checkSource(empty); !r.warning {
		t.Errorf("file without rows should warn: %+v", r)
	}

	bad := filepath.Join(dir, "bad.csv")
	os.WriteFile(bad, []byte("played,title\n20161102,Hey Joe\n"), 0644)
	r := checkSource(bad)
	if !r.error {
		t.Error("file with missing columns should fail")
	}
	if !strings.Contains(r.message, "drumkit") {
		t.Errorf("expected missing column in message, got %q", r.message)
	}

	if r := checkSource(filepath.Join(dir, "missing.csv")); !r.error {
		t.Error("missing file should fail")
	}
}

func TestCheckEndpoint(t *testing.T) {
	sb, err := sandbox.New(sandbox.Options{AccessKey: "secret"})
	if err != nil {
		t.Fatalf("sandbox.New failed: %v", err)
	}
	srv := httptest.NewServer(sb)
	defer srv.Close()

	if r := checkEndpoint(context.Background(), "", time.Second); !r.error {
		t.Error("empty endpoint should fail")
	}

	viper.Set("key", "secret")
	defer viper.Set("key", "")

	if r := checkEndpoint(context.Background(), srv.URL, 5*time.Second); r.error {
		t.Errorf("reachable endpoint should pass: %s", r.message)
	}

	viper.Set("key", "wrong")
	r := checkEndpoint(context.Background(), srv.URL, 5*time.Second)
	if !r.error {
		t.Error("wrong access key should fail")
	}
	if !strings.Contains(r.message, "access key") {
		t.Errorf("expected access key hint, got %q", r.message)
	}
}

func TestCheckSQLite(t *testing.T) {
	result := checkSQLite()

	if result.error {
		t.Errorf("SQLite check failed: %s", result.message)
	}

	if result.message == "" {
		t.Error("expected version information in message")
	}
}

func TestCheckJournal_NonExistent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nonexistent.db")

	result := checkJournal(dbPath)

	// Should not error - journal will be created on first run
	if result.error {
		t.Errorf("non-existent journal check should not error: %s", result.message)
	}

	if result.message == "" {
		t.Error("expected message about journal creation")
	}
}

func TestCheckJournal_Existing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gigload-state.db")

	j, err := journal.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test journal: %v", err)
	}
	if err := j.StartRun(&journal.Run{Source: "songs.csv", Variant: "simple", Endpoint: "http://x", RowsTotal: 1}); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	j.Close()

	result := checkJournal(dbPath)

	if result.error {
		t.Errorf("existing journal check failed: %s", result.message)
	}
	if !strings.Contains(result.message, "1 runs") {
		t.Errorf("expected run count in message, got: %s", result.message)
	}
}

func TestCheckJournal_Disabled(t *testing.T) {
	result := checkJournal("")

	if !result.warning {
		t.Error("disabled journal should warn")
	}
}

func TestCheckJournal_Directory(t *testing.T) {
	result := checkJournal(t.TempDir())

	if !result.error {
		t.Error("directory should not pass as a journal")
	}
}
