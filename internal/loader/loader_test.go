package loader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/journal"
	"github.com/franz/gigbase-loader/internal/metrics"
	"github.com/franz/gigbase-loader/internal/model"
	"github.com/franz/gigbase-loader/internal/report"
	"github.com/franz/gigbase-loader/internal/sandbox"
	"github.com/franz/gigbase-loader/internal/schema"
	"github.com/franz/gigbase-loader/internal/source"
)

const watchtowerCSV = `played,title,recordings,drumkit,key
20161102,All Along the Watchtower,3,93,A
`

const threeRowCSV = `played,title,recordings,drumkit,key
20161102,All Along the Watchtower,3,93,A
20161109,Little Wing,,88,Em
20161116,Hey Joe,5,93,E
`

type harness struct {
	sandbox *sandbox.Server
	adapter schema.Adapter
	client  *graphql.Client
}

func newHarness(t *testing.T, variant schema.Variant) *harness {
	t.Helper()

	sb, err := sandbox.New(sandbox.Options{Variant: string(variant), AccessKey: "secret"})
	require.NoError(t, err)

	srv := httptest.NewServer(sb)
	t.Cleanup(srv.Close)

	client, err := graphql.NewClient(graphql.Config{Endpoint: srv.URL, AccessKey: "secret"})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	adapter, err := schema.New(variant, client)
	require.NoError(t, err)

	return &harness{sandbox: sb, adapter: adapter, client: client}
}

func (h *harness) loader(t *testing.T, out *bytes.Buffer, mutate ...func(*Config)) *Loader {
	t.Helper()

	cfg := &Config{
		Adapter:  h.adapter,
		Identity: model.DefaultIdentity(),
		Out:      out,
		Source:   "songs.csv",
		Endpoint: "sandbox",
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func parseRows(t *testing.T, csv string) []source.Row {
	t.Helper()
	rows, err := source.ReadCSV(strings.NewReader(csv), nil)
	require.NoError(t, err)
	return rows
}

// opsMentioning returns the operations whose variables contain value
func opsMentioning(sb *sandbox.Server, value string) []string {
	var ops []string
	for _, r := range sb.Requests() {
		for _, v := range r.Variables {
			if s, ok := v.(string); ok && strings.Contains(s, value) {
				ops = append(ops, r.OperationName)
				break
			}
		}
	}
	return ops
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{Identity: model.DefaultIdentity()})
	assert.Error(t, err)

	h := newHarness(t, schema.Simple)
	_, err = New(&Config{Adapter: h.adapter})
	assert.Error(t, err)
}

func TestRun_EndToEndSimple(t *testing.T) {
	h := newHarness(t, schema.Simple)
	var out bytes.Buffer

	res, err := h.loader(t, &out).Run(context.Background(), parseRows(t, watchtowerCSV))
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Processed)
	assert.NotEmpty(t, res.RunID)

	gigs := h.sandbox.Rows("gig")
	require.Len(t, gigs, 1)
	assert.Equal(t, "2016-11-02T19:00:00-08:00", gigs[0]["date"])
	assert.Equal(t, "Leadbone Studios", gigs[0]["venue"])
	assert.Equal(t, true, gigs[0]["recorded"])
	assert.Equal(t, res.Session.BandID, gigs[0]["band"])

	songs := h.sandbox.Rows("song")
	require.Len(t, songs, 1)
	assert.Equal(t, "All Along the Watchtower", songs[0]["title"])
	assert.EqualValues(t, 2, songs[0]["prehistory"])

	perfs := h.sandbox.Rows("performance")
	require.Len(t, perfs, 1)
	assert.Equal(t, gigs[0]["id"], perfs[0]["gig"])
	assert.Equal(t, songs[0]["id"], perfs[0]["song"])
	assert.Equal(t, "93", perfs[0]["drumkit"])
	assert.Equal(t, "A", perfs[0]["key"])

	assert.Equal(t,
		`{"played":"20161102","title":"All Along the Watchtower","recordings":"3","drumkit":"93","key":"A"}`+"\n",
		out.String())

	assert.Equal(t, []string{
		"user", "insert_user",
		"band", "insert_band",
		"user_band", "insert_user_band",
		"gig", "insert_gig",
		"song", "insert_song",
		"insert_performance",
	}, h.sandbox.Operations())
}

func TestRun_EndToEndTagged(t *testing.T) {
	h := newHarness(t, schema.Tagged)
	var out bytes.Buffer

	res, err := h.loader(t, &out).Run(context.Background(), parseRows(t, watchtowerCSV))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)

	assert.Equal(t, 1, h.sandbox.Count("gig"))
	assert.Equal(t, 1, h.sandbox.Count("song"))
	assert.Equal(t, 1, h.sandbox.Count("performance"))

	tags := h.sandbox.Rows("tag")
	require.Len(t, tags, 2)
	assert.Equal(t, res.Session.TagClasses[model.TagClassDrumKit], tags[0]["tagclass"])
	assert.Equal(t, "93", tags[0]["value"])
	assert.Equal(t, res.Session.TagClasses[model.TagClassKey], tags[1]["tagclass"])
	assert.Equal(t, "A", tags[1]["value"])

	ops := h.sandbox.Operations()
	assert.Equal(t, []string{"tagclass", "insert_tagclass", "tagclass", "insert_tagclass"}, ops[6:10],
		"tag classes resolve after membership")
	assert.Equal(t, []string{"insert_performance", "insert_tag", "insert_tag"}, ops[len(ops)-3:])
	assert.Equal(t, 2, res.Created["tag"])
}

func TestRun_PreservesRowOrder(t *testing.T) {
	h := newHarness(t, schema.Simple)
	var out bytes.Buffer

	_, err := h.loader(t, &out).Run(context.Background(), parseRows(t, threeRowCSV))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "All Along the Watchtower")
	assert.Contains(t, lines[1], "Little Wing")
	assert.Contains(t, lines[2], "Hey Joe")

	songs := h.sandbox.Rows("song")
	require.Len(t, songs, 3)
	assert.Equal(t, "All Along the Watchtower", songs[0]["title"])
	assert.Equal(t, "Little Wing", songs[1]["title"])
	assert.EqualValues(t, 0, songs[1]["prehistory"])
	assert.Equal(t, "Hey Joe", songs[2]["title"])
	assert.EqualValues(t, 4, songs[2]["prehistory"])
}

func TestRun_RerunDuplicatesPerformancesOnly(t *testing.T) {
	h := newHarness(t, schema.Simple)
	rows := parseRows(t, `played,title,recordings,drumkit,key
20161102,All Along the Watchtower,3,93,A
20161109,Little Wing,1,88,Em
`)

	var out bytes.Buffer
	first, err := h.loader(t, &out).Run(context.Background(), rows)
	require.NoError(t, err)
	second, err := h.loader(t, &out).Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1, h.sandbox.Count("user"))
	assert.Equal(t, 1, h.sandbox.Count("band"))
	assert.Equal(t, 1, h.sandbox.Count("user_band"))
	assert.Equal(t, 2, h.sandbox.Count("gig"))
	assert.Equal(t, 2, h.sandbox.Count("song"))
	assert.Equal(t, 4, h.sandbox.Count("performance"))

	assert.Equal(t, 2, first.Created["gig"])
	assert.Equal(t, 0, second.Created["gig"])
	assert.Equal(t, 2, second.Found["gig"])
	assert.Equal(t, 2, second.Found["song"])
	assert.Equal(t, 1, second.Found["user"])
	assert.Equal(t, first.Session.BandID, second.Session.BandID)
}

func TestRun_SharedGigIsResolvedNotRecreated(t *testing.T) {
	h := newHarness(t, schema.Simple)
	var out bytes.Buffer

	res, err := h.loader(t, &out).Run(context.Background(), parseRows(t, `played,title,recordings,drumkit,key
20161102,All Along the Watchtower,3,93,A
20161102,Hey Joe,,93,E
20161109,Hey Joe,,88,E
`))
	require.NoError(t, err)

	assert.Equal(t, 2, h.sandbox.Count("gig"))
	assert.Equal(t, 2, h.sandbox.Count("song"))
	assert.Equal(t, 3, h.sandbox.Count("performance"))
	assert.Equal(t, 1, res.Found["gig"])
	assert.Equal(t, 1, res.Found["song"])
}

func TestRun_AbortsOnRowFailure(t *testing.T) {
	h := newHarness(t, schema.Simple)
	h.sandbox.FailWhen(func(r sandbox.Request) bool {
		return r.OperationName == "insert_song" && r.Variables["title"] == "Little Wing"
	}, http.StatusOK, `{"errors":[{"message":"Uniqueness violation","extensions":{"code":"constraint-violation"}}]}`)

	var out bytes.Buffer
	res, err := h.loader(t, &out).Run(context.Background(), parseRows(t, threeRowCSV))
	require.Error(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, res.FailedRow)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, graphql.RemoteRejected, graphql.KindOf(err))
	assert.Contains(t, err.Error(), "row 2")

	// row 1 stays committed, row 3 never reaches the endpoint
	assert.Equal(t, 1, h.sandbox.Count("performance"))
	assert.Empty(t, opsMentioning(h.sandbox, "Hey Joe"))
	assert.Empty(t, opsMentioning(h.sandbox, "2016-11-16"))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestRun_SetupFailureTouchesNoRows(t *testing.T) {
	h := newHarness(t, schema.Simple)
	h.sandbox.FailWhen(func(r sandbox.Request) bool {
		return r.OperationName == "band"
	}, http.StatusOK, `{"data":{}}`)

	var out bytes.Buffer
	res, err := h.loader(t, &out).Run(context.Background(), parseRows(t, threeRowCSV))
	require.Error(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, res.FailedRow)
	assert.Nil(t, res.Session)
	assert.Equal(t, graphql.MalformedResponse, graphql.KindOf(err))
	assert.Contains(t, err.Error(), "setup failed")
	assert.Equal(t, []string{"user", "insert_user", "band"}, h.sandbox.Operations())
	assert.Empty(t, out.String())
}

func TestRun_InvalidRowAborts(t *testing.T) {
	h := newHarness(t, schema.Simple)

	var out bytes.Buffer
	res, err := h.loader(t, &out).Run(context.Background(), parseRows(t, `played,title,recordings,drumkit,key
2016-11-02,Hey Joe,,93,E
`))
	require.Error(t, err)
	assert.Equal(t, graphql.InvalidInput, graphql.KindOf(err))
	assert.Equal(t, 1, res.FailedRow)
	assert.Equal(t, 0, h.sandbox.Count("gig"))

	res, err = h.loader(t, &out).Run(context.Background(), parseRows(t, `played,title,recordings,drumkit,key
20161102,Hey Joe,many,93,E
`))
	require.Error(t, err)
	assert.Equal(t, graphql.InvalidInput, graphql.KindOf(err))
	assert.Equal(t, 0, h.sandbox.Count("song"))
}

func TestRun_PrintIDs(t *testing.T) {
	h := newHarness(t, schema.Tagged)

	var out bytes.Buffer
	_, err := h.loader(t, &out, func(c *Config) { c.PrintIDs = true }).Run(context.Background(), parseRows(t, watchtowerCSV))
	require.NoError(t, err)

	perfs := h.sandbox.Rows("performance")
	require.Len(t, perfs, 1)

	line := strings.TrimSuffix(out.String(), "\n")
	parts := strings.Split(line, "\t")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], `{"played":"20161102"`))
	assert.Equal(t, perfs[0]["performance_id"], parts[1])
}

// cancelWriter cancels the run after the first confirmation line
type cancelWriter struct {
	bytes.Buffer
	cancel context.CancelFunc
}

func (w *cancelWriter) Write(p []byte) (int, error) {
	defer w.cancel()
	return w.Buffer.Write(p)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, schema.Simple)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &cancelWriter{cancel: cancel}

	l, err := New(&Config{Adapter: h.adapter, Identity: model.DefaultIdentity(), Out: out})
	require.NoError(t, err)

	res, err := l.Run(ctx, parseRows(t, threeRowCSV))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.FailedRow)
	assert.Empty(t, opsMentioning(h.sandbox, "Little Wing"))
}

func TestRun_RecordsJournalEventsAndMetrics(t *testing.T) {
	h := newHarness(t, schema.Simple)
	dir := t.TempDir()

	j, err := journal.Open(filepath.Join(dir, "gigload-state.db"))
	require.NoError(t, err)
	defer j.Close()

	events, err := report.NewEventLogger(filepath.Join(dir, "artifacts"), report.LevelDebug)
	require.NoError(t, err)

	m := metrics.New()

	var out bytes.Buffer
	res, err := h.loader(t, &out, func(c *Config) {
		c.Journal = j
		c.Logger = events
		c.Metrics = m
	}).Run(context.Background(), parseRows(t, threeRowCSV))
	require.NoError(t, err)
	require.NoError(t, events.Close())

	run, err := j.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.StateDone, run.State)
	assert.Equal(t, 3, run.RowsDone)
	assert.Equal(t, "songs.csv", run.Source)
	assert.Equal(t, events.Path(), run.EventLog)

	rows, err := j.GetRunRows(res.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].GigCreated)
	assert.NotEmpty(t, rows[2].PerformanceID)

	summary, err := report.GenerateSummaryReport(events.Path())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, summary.RunID)
	assert.Equal(t, "done", summary.State)
	assert.Equal(t, 3, summary.RowsProcessed)
	assert.Equal(t, 3, summary.Created["song"])
	assert.Equal(t, 3, summary.Performances)
	assert.Len(t, summary.Setup, 3)

	count, err := testutil.GatherAndCount(m.Registry(), "gigload_rows_total", "gigload_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	promPath := filepath.Join(dir, "metrics", "gigload.prom")
	require.NoError(t, m.WriteFile(promPath))
	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "gigload_rows_total 3")
	assert.Contains(t, string(prom), `gigload_runs_total{state="done"} 1`)
	assert.Contains(t, string(prom), `gigload_entities_total{kind="gig",outcome="created"} 3`)
}

func TestRun_JournalsPartiallyWrittenRow(t *testing.T) {
	h := newHarness(t, schema.Tagged)
	h.sandbox.FailWhen(func(r sandbox.Request) bool {
		return r.OperationName == "insert_tag" && r.Variables["value"] == "A"
	}, http.StatusOK, `{"errors":[{"message":"Foreign key violation","extensions":{"code":"constraint-violation"}}]}`)

	j, err := journal.Open(filepath.Join(t.TempDir(), "gigload-state.db"))
	require.NoError(t, err)
	defer j.Close()

	var out bytes.Buffer
	res, err := h.loader(t, &out, func(c *Config) { c.Journal = j }).Run(context.Background(), parseRows(t, watchtowerCSV))
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.FailedRow)
	assert.Empty(t, out.String())

	perfs := h.sandbox.Rows("performance")
	require.Len(t, perfs, 1)

	run, err := j.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.StateFailed, run.State)
	assert.Equal(t, 0, run.RowsDone)

	rows, err := j.GetRunRows(res.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Partial)
	assert.Equal(t, 1, rows[0].Num)
	assert.Equal(t, perfs[0]["performance_id"], rows[0].PerformanceID)
	assert.Len(t, rows[0].TagIDs, 1)
}

func TestRun_ConfirmationKeepsSpecialCharacters(t *testing.T) {
	h := newHarness(t, schema.Simple)

	var out bytes.Buffer
	_, err := h.loader(t, &out, func(c *Config) { c.PrintIDs = true }).Run(context.Background(), parseRows(t, `played,title,recordings,drumkit,key
20161102,Rock & Roll <live>,,93,A
`))
	require.NoError(t, err)

	line := strings.TrimSuffix(out.String(), "\n")
	parts := strings.Split(line, "\t")
	require.Len(t, parts, 2)
	assert.Equal(t, `{"played":"20161102","title":"Rock & Roll <live>","recordings":"","drumkit":"93","key":"A"}`, parts[0])
	assert.NotEmpty(t, parts[1])
}
