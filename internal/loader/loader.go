// Package loader drives a load run: it resolves the fixed identity records
// once, then walks the rows strictly in file order, resolving each row's gig
// and song and writing its performance before touching the next row.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/journal"
	"github.com/franz/gigbase-loader/internal/metrics"
	"github.com/franz/gigbase-loader/internal/model"
	"github.com/franz/gigbase-loader/internal/report"
	"github.com/franz/gigbase-loader/internal/schema"
	"github.com/franz/gigbase-loader/internal/source"
	"github.com/franz/gigbase-loader/internal/util"
)

// State is a run driver state
type State string

const (
	StateSetup      State = journal.StateSetup
	StateProcessing State = journal.StateProcessing
	StateDone       State = journal.StateDone
	StateFailed     State = journal.StateFailed
)

// Config holds loader configuration
type Config struct {
	Adapter  schema.Adapter
	Identity model.Identity

	// Out receives one confirmation line per processed row
	Out io.Writer

	// PrintIDs appends a tab and the new performance id to each confirmation
	PrintIDs bool

	// Progress renders a progress bar on stderr
	Progress bool

	// Optional collaborators; nil disables each
	Logger  *report.EventLogger
	Journal *journal.Journal
	Metrics *metrics.Metrics

	// Describes the run in the journal and event log
	Source   string
	Endpoint string
}

// Loader runs one load at a time
type Loader struct {
	adapter  schema.Adapter
	identity model.Identity
	out      io.Writer
	printIDs bool
	progress bool
	logger   *report.EventLogger
	journal  *journal.Journal
	metrics  *metrics.Metrics
	source   string
	endpoint string
}

// Result summarizes a run
type Result struct {
	RunID     string
	State     State
	Session   *schema.Session
	RowsTotal int
	Processed int

	// Created and Found count records by kind
	Created map[string]int
	Found   map[string]int

	Duration time.Duration

	// FailedRow is the row that aborted the run, 0 if none did
	FailedRow int
	Err       error
}

// New creates a new Loader
func New(cfg *Config) (*Loader, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("%w: loader needs a schema adapter", util.ErrInvalidConfig)
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Identity.AdminEmail == "" || cfg.Identity.Band.Name == "" {
		return nil, fmt.Errorf("%w: admin email and band name are required", util.ErrInvalidConfig)
	}

	return &Loader{
		adapter:  cfg.Adapter,
		identity: cfg.Identity,
		out:      cfg.Out,
		printIDs: cfg.PrintIDs,
		progress: cfg.Progress,
		logger:   cfg.Logger,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		source:   cfg.Source,
		endpoint: cfg.Endpoint,
	}, nil
}

// Run executes setup and then every row in order. The first failure ends
// the run in StateFailed; rows after it are not touched. The returned
// Result is never nil.
func (l *Loader) Run(ctx context.Context, rows []source.Row) (*Result, error) {
	start := time.Now()
	res := &Result{
		State:     StateSetup,
		RowsTotal: len(rows),
		Created:   make(map[string]int),
		Found:     make(map[string]int),
	}

	if err := l.begin(res); err != nil {
		return l.fail(res, start, 0, err)
	}

	util.InfoLog("Setting up %s identity (%s, band %q)", l.adapter.Variant(), l.identity.AdminEmail, l.identity.Band.Name)
	session, err := l.setup(ctx, res)
	if err != nil {
		return l.fail(res, start, 0, fmt.Errorf("setup failed: %w", err))
	}
	res.Session = session

	l.transition(res, StateProcessing)
	util.InfoLog("Processing %d rows", len(rows))

	bar := newProgress(l.progress, len(rows))
	defer bar.Finish()

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return l.fail(res, start, row.Num, graphql.Wrap(graphql.IOFailure, "run", fmt.Errorf("cancelled before row %d: %w", row.Num, err)))
		}

		if err := l.processRow(ctx, session, row, res); err != nil {
			return l.fail(res, start, row.Num, fmt.Errorf("row %d: %w", row.Num, err))
		}

		res.Processed++
		bar.Add(1)
	}

	bar.Finish()
	l.transition(res, StateDone)
	res.Duration = time.Since(start)

	if l.journal != nil {
		if err := l.journal.FinishRun(res.RunID, string(StateDone), nil); err != nil {
			util.WarnLog("Failed to finish run in journal: %v", err)
		}
	}
	l.logger.LogRunEnd(string(StateDone), res.Processed, res.Duration, nil)
	l.metrics.RunFinished(string(StateDone), true, res.Duration)

	util.SuccessLog("Loaded %d rows in %s (gigs %d new / %d found, songs %d new / %d found)",
		res.Processed, res.Duration.Round(time.Millisecond),
		res.Created["gig"], res.Found["gig"], res.Created["song"], res.Found["song"])

	return res, nil
}

// begin records the run in the journal and event log
func (l *Loader) begin(res *Result) error {
	variant := string(l.adapter.Variant())
	res.RunID = uuid.NewString()
	l.logger.SetRunID(res.RunID)

	if l.journal != nil {
		run := &journal.Run{
			ID:        res.RunID,
			Source:    l.source,
			Variant:   variant,
			Endpoint:  l.endpoint,
			RowsTotal: res.RowsTotal,
			EventLog:  l.logger.Path(),
		}
		if err := l.journal.StartRun(run); err != nil {
			return err
		}
	}

	l.logger.LogRunStart(l.source, variant, l.endpoint, res.RowsTotal)
	return nil
}

func (l *Loader) transition(res *Result, state State) {
	util.DebugLog("Run %s: %s -> %s", res.RunID, res.State, state)
	res.State = state
	if l.journal == nil || state == StateDone || state == StateFailed {
		return
	}
	if err := l.journal.SetState(res.RunID, string(state)); err != nil {
		util.WarnLog("Failed to update run state in journal: %v", err)
	}
}

// setup resolves admin, band, membership and then tag classes, in that
// order, into a Session
func (l *Loader) setup(ctx context.Context, res *Result) (*schema.Session, error) {
	s := &schema.Session{
		Venue:      l.identity.Venue,
		TagClasses: make(map[string]string),
	}

	user, err := l.timed(res, "user", 0, func() (schema.Ref, error) {
		return l.adapter.EnsureUser(ctx, l.identity.AdminEmail, l.identity.AdminPassword)
	})
	if err != nil {
		return nil, fmt.Errorf("admin user %s: %w", l.identity.AdminEmail, err)
	}
	s.UserID = user.ID

	band, err := l.timed(res, "band", 0, func() (schema.Ref, error) {
		return l.adapter.EnsureBand(ctx, l.identity.Band)
	})
	if err != nil {
		return nil, fmt.Errorf("band %q: %w", l.identity.Band.Name, err)
	}
	s.BandID = band.ID

	member, err := l.timed(res, "user_band", 0, func() (schema.Ref, error) {
		return l.adapter.EnsureMembership(ctx, s.UserID, s.BandID)
	})
	if err != nil {
		return nil, fmt.Errorf("membership: %w", err)
	}
	s.MembershipID = member.ID

	for _, name := range l.adapter.TagClassNames() {
		ref, err := l.timed(res, "tagclass", 0, func() (schema.Ref, error) {
			return l.adapter.EnsureTagClass(ctx, name)
		})
		if err != nil {
			return nil, fmt.Errorf("tag class %q: %w", name, err)
		}
		s.TagClasses[name] = ref.ID
	}

	return s, nil
}

// processRow resolves the row's gig and song, writes its performance and
// emits the confirmation line
func (l *Loader) processRow(ctx context.Context, s *schema.Session, row source.Row, res *Result) error {
	start := time.Now()

	date, err := model.NormalizeDate(row.Get(source.ColumnPlayed))
	if err != nil {
		return graphql.Wrap(graphql.InvalidInput, "row", err)
	}
	prehistory, err := model.Prehistory(row.Get(source.ColumnRecordings))
	if err != nil {
		return graphql.Wrap(graphql.InvalidInput, "row", err)
	}

	gig, err := l.timed(res, "gig", row.Num, func() (schema.Ref, error) {
		return l.adapter.ResolveOrCreateGig(ctx, s, model.Gig{Date: date, Venue: s.Venue, Recorded: true})
	})
	if err != nil {
		return fmt.Errorf("gig %s: %w", date, err)
	}

	title := row.Get(source.ColumnTitle)
	song, err := l.timed(res, "song", row.Num, func() (schema.Ref, error) {
		return l.adapter.ResolveOrCreateSong(ctx, model.Song{Title: title, Prehistory: prehistory})
	})
	if err != nil {
		return fmt.Errorf("song %q: %w", title, err)
	}

	written, err := l.adapter.WritePerformance(ctx, s, model.Performance{
		GigID:   gig.ID,
		SongID:  song.ID,
		DrumKit: row.Get(source.ColumnDrumKit),
		Key:     row.Get(source.ColumnKey),
	})
	if err != nil {
		if written.PerformanceID != "" {
			util.WarnLog("Row %d: performance %s was written but its tags failed", row.Num, written.PerformanceID)
			l.recordRow(res.RunID, row.Num, gig, song, written, true)
		}
		return fmt.Errorf("performance: %w", err)
	}
	res.Created["performance"]++
	res.Created["tag"] += len(written.TagIDs)
	l.metrics.Entity("performance", true)
	for range written.TagIDs {
		l.metrics.Entity("tag", true)
	}

	if err := l.confirm(row, written.PerformanceID); err != nil {
		return graphql.Wrap(graphql.IOFailure, "confirm", err)
	}

	elapsed := time.Since(start)
	l.logger.LogRow(row.Num, written.PerformanceID, written.TagIDs, elapsed)
	l.metrics.Row()

	l.recordRow(res.RunID, row.Num, gig, song, written, false)

	util.DebugLog("Row %d: gig %s, song %s, performance %s (%s)", row.Num, gig.ID, song.ID, written.PerformanceID, elapsed)
	return nil
}

// recordRow journals a row's ids. A partial row had its performance written
// before a later insert failed.
func (l *Loader) recordRow(runID string, num int, gig, song schema.Ref, written schema.Written, partial bool) {
	if l.journal == nil {
		return
	}
	err := l.journal.RecordRow(&journal.RowRecord{
		RunID:         runID,
		Num:           num,
		GigID:         gig.ID,
		GigCreated:    gig.Created,
		SongID:        song.ID,
		SongCreated:   song.Created,
		PerformanceID: written.PerformanceID,
		TagIDs:        written.TagIDs,
		Partial:       partial,
	})
	if err != nil {
		util.WarnLog("Failed to journal row %d: %v", num, err)
	}
}

// confirm writes the row's original values as JSON, plus the performance
// id when configured
func (l *Loader) confirm(row source.Row, performanceID string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(row); err != nil {
		return err
	}
	line := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if l.printIDs {
		line = append(line, '\t')
		line = append(line, performanceID...)
	}
	line = append(line, '\n')

	_, err := l.out.Write(line)
	return err
}

// timed runs one find-or-create and records its outcome
func (l *Loader) timed(res *Result, kind string, rowNum int, fn func() (schema.Ref, error)) (schema.Ref, error) {
	start := time.Now()
	ref, err := fn()
	if err != nil {
		return ref, err
	}
	elapsed := time.Since(start)

	if ref.Created {
		res.Created[kind]++
	} else {
		res.Found[kind]++
	}
	l.metrics.Entity(kind, ref.Created)

	if rowNum == 0 {
		l.logger.LogSetup(kind, ref.ID, ref.Created, elapsed)
		util.DebugLog("Setup %s: %s (created=%t)", kind, ref.ID, ref.Created)
	} else {
		l.logger.LogEntity(rowNum, kind, ref.ID, ref.Created, elapsed)
	}
	return ref, nil
}

// fail moves the run to StateFailed and records why
func (l *Loader) fail(res *Result, start time.Time, rowNum int, err error) (*Result, error) {
	res.State = StateFailed
	res.Duration = time.Since(start)
	res.FailedRow = rowNum
	res.Err = err

	l.logger.LogError(rowNum, err)
	l.logger.LogRunEnd(string(StateFailed), res.Processed, res.Duration, err)
	l.metrics.RunFinished(string(StateFailed), false, res.Duration)
	if l.journal != nil {
		if jerr := l.journal.FinishRun(res.RunID, string(StateFailed), err); jerr != nil {
			util.WarnLog("Failed to finish run in journal: %v", jerr)
		}
	}

	util.ErrorLog("Run failed after %d of %d rows: %v", res.Processed, res.RowsTotal, err)
	return res, err
}
