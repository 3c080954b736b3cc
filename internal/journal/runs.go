package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franz/gigbase-loader/internal/util"
)

// Run states, mirroring the run driver
const (
	StateSetup      = "setup"
	StateProcessing = "processing"
	StateDone       = "done"
	StateFailed     = "failed"
)

// Run is one invocation of the loader
type Run struct {
	ID         string
	Source     string
	Variant    string
	Endpoint   string
	State      string
	RowsTotal  int
	RowsDone   int
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Error      string
	EventLog   string
}

// Finished reports whether the run reached a terminal state
func (r *Run) Finished() bool {
	return r.State == StateDone || r.State == StateFailed
}

// Duration returns the run's wall-clock time so far
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RowRecord is the set of ids one processed row produced
type RowRecord struct {
	RunID         string
	Num           int
	GigID         string
	GigCreated    bool
	SongID        string
	SongCreated   bool
	PerformanceID string
	TagIDs        []string
	ProcessedAt   time.Time

	// Partial marks a row that failed after its performance was written
	Partial bool
}

// StartRun inserts run in the setup state, assigning its ID and start time
func (j *Journal) StartRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.State = StateSetup

	_, err := j.db.Exec(`
		INSERT INTO runs
		(id, source, schema_variant, endpoint, state, rows_total, started_unix_ms, event_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.Variant, run.Endpoint, run.State, run.RowsTotal, run.StartedAt.UnixMilli(), run.EventLog)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// SetState moves a run to state
func (j *Journal) SetState(runID, state string) error {
	res, err := j.db.Exec(`UPDATE runs SET state = ? WHERE id = ?`, state, runID)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	return expectOne(res, runID)
}

// RecordRow stores a processed row and bumps the run's rows_done. Partial
// rows are stored without counting as done.
func (j *Journal) RecordRow(rec *RowRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO run_rows
		(run_id, row_num, gig_id, gig_created, song_id, song_created, performance_id, tag_ids, processed_unix_ms, partial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Num, rec.GigID, boolInt(rec.GigCreated), rec.SongID, boolInt(rec.SongCreated),
		rec.PerformanceID, strings.Join(rec.TagIDs, ","), rec.ProcessedAt.UnixMilli(), boolInt(rec.Partial))
	if err != nil {
		return fmt.Errorf("failed to record row %d: %w", rec.Num, err)
	}

	if !rec.Partial {
		if _, err := tx.Exec(`UPDATE runs SET rows_done = rows_done + 1 WHERE id = ?`, rec.RunID); err != nil {
			return fmt.Errorf("failed to update run progress: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit row %d: %w", rec.Num, err)
	}
	return nil
}

// FinishRun records the terminal state of a run
func (j *Journal) FinishRun(runID, state string, runErr error) error {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}

	res, err := j.db.Exec(`
		UPDATE runs SET state = ?, finished_unix_ms = ?, error = ?
		WHERE id = ?
	`, state, time.Now().UnixMilli(), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return expectOne(res, runID)
}

// GetRun returns the run whose id starts with idPrefix. An ambiguous
// prefix is an error.
func (j *Journal) GetRun(idPrefix string) (*Run, error) {
	rows, err := j.db.Query(runColumns+` WHERE id LIKE ? ORDER BY started_unix_ms DESC LIMIT 2`, idPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: run %s", util.ErrNotFound, idPrefix)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", idPrefix)
	}
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means all.
func (j *Journal) ListRuns(limit int) ([]*Run, error) {
	query := runColumns + ` ORDER BY started_unix_ms DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetRunRows returns the rows a run processed, in row order
func (j *Journal) GetRunRows(runID string) ([]*RowRecord, error) {
	rows, err := j.db.Query(`
		SELECT run_id, row_num, gig_id, gig_created, song_id, song_created, performance_id, tag_ids, processed_unix_ms, partial
		FROM run_rows
		WHERE run_id = ?
		ORDER BY row_num
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RowRecord
	for rows.Next() {
		var rec RowRecord
		var gigCreated, songCreated, partial int
		var tagIDs string
		var processed int64

		err := rows.Scan(&rec.RunID, &rec.Num, &rec.GigID, &gigCreated, &rec.SongID, &songCreated,
			&rec.PerformanceID, &tagIDs, &processed, &partial)
		if err != nil {
			return nil, err
		}

		rec.GigCreated = gigCreated == 1
		rec.SongCreated = songCreated == 1
		rec.Partial = partial == 1
		if tagIDs != "" {
			rec.TagIDs = strings.Split(tagIDs, ",")
		}
		rec.ProcessedAt = time.UnixMilli(processed)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

const runColumns = `
	SELECT id, source, schema_variant, endpoint, state, rows_total, rows_done,
	       started_unix_ms, finished_unix_ms, COALESCE(error, ''), COALESCE(event_log, '')
	FROM runs`

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64

		err := rows.Scan(&r.ID, &r.Source, &r.Variant, &r.Endpoint, &r.State, &r.RowsTotal, &r.RowsDone,
			&started, &finished, &r.Error, &r.EventLog)
		if err != nil {
			return nil, err
		}

		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func expectOne(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", util.ErrNotFound, runID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
