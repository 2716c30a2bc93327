package report

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/invariants"
	"github.com/Mindburn-Labs/avs/pkg/runner"
)

func sampleRun() *runner.RunResult {
	invs := invariants.Defaults(invariants.Env{})
	leak := contracts.ProvenanceRecord{
		Agent:  "agent:mailer",
		Action: "send_email",
		Inputs: map[string]any{"subject": "SSN 123-45-6789 <script>alert(1)</script>", "body": "``` fence"},
		Hash:   "abc",
	}
	pass := map[string]invariants.Result{"no_pii": {Pass: true}, "budget": {Pass: true}, "hop_limit": {Pass: true}, "scoped_token": {Pass: true}}
	fail := map[string]invariants.Result{
		"no_pii":       {Pass: false, Message: "record 0 leaks an SSN", OffendingRecords: []contracts.ProvenanceRecord{leak}},
		"budget":       {Pass: true},
		"hop_limit":    {Pass: true},
		"scoped_token": {Pass: true},
	}
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	return &runner.RunResult{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Invariants: invs,
		Summary:    runner.Summary{Total: 3, Passed: 1, Failed: 1, Cancelled: 1, IngestFailures: 2},
		Scenarios: []runner.ScenarioResult{
			{ScenarioID: "ok", TraceID: "t1", Status: runner.ScenarioPassed, Invariants: pass, CostUSD: 0.001},
			{
				ScenarioID: "leaky|one", VariantOf: "leaky", TraceID: "t2", Status: runner.ScenarioFailed,
				ErrorKind: contracts.KindInvariantViolation, Reason: "invariant violation: no_pii",
				Invariants: fail, Trace: contracts.Trace{Records: []contracts.ProvenanceRecord{leak}},
				IngestFailures: 2, Notes: []string{"provenance not ingested for send_email: upstream unavailable"},
			},
			{ScenarioID: "late", Status: runner.ScenarioCancelled, ErrorKind: contracts.KindCancelled, Reason: "run cancelled before the scenario finished"},
		},
	}
}

func TestBuild(t *testing.T) {
	rep := Build(sampleRun(), time.Date(2026, 4, 1, 12, 0, 5, 0, time.UTC))

	assert.Equal(t, Title, rep.Title)
	assert.Equal(t, 3, rep.Summary.Total)
	require.Len(t, rep.Invariants, 4)
	assert.Equal(t, "no_pii", rep.Invariants[0].Name)
	assert.False(t, rep.Invariants[0].Pass)
	assert.Equal(t, 1, rep.Invariants[0].Failures)
	assert.Equal(t, 2, rep.Invariants[0].Evaluated)
	assert.NotEmpty(t, rep.Invariants[0].Suggestion)
	for _, inv := range rep.Invariants[1:] {
		assert.True(t, inv.Pass, inv.Name)
		assert.Empty(t, inv.Suggestion)
	}

	require.Len(t, rep.Scenarios, 3)
	failed := rep.Scenarios[1]
	require.Len(t, failed.Failures, 1)
	assert.Equal(t, "no_pii", failed.Failures[0].Invariant)
	assert.Equal(t, rep.Invariants[0].Suggestion, failed.Failures[0].Suggestion)
	assert.NotNil(t, rep.Scenarios[2].Trace, "cancelled scenarios serialize an empty trace")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Build(sampleRun(), time.Now())))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	summary := decoded["summary"].(map[string]any)
	assert.Equal(t, 3.0, summary["total"])
	assert.Equal(t, 1.0, summary["cancelled"])
}

func TestMarkdown(t *testing.T) {
	out := string(Markdown(Build(sampleRun(), time.Now())))
	assert.Contains(t, out, "# AVS Triage Report")
	assert.Contains(t, out, "| 3 | 1 | 1 | 1 | 2 |")
	assert.Contains(t, out, "| no_pii | FAIL | 1/2 |")
	assert.Contains(t, out, `leaky\|one (variant of leaky)`)
	assert.Contains(t, out, "Cheapest fix:")
	assert.Contains(t, out, "> provenance not ingested")
	assert.Contains(t, out, "````json", "fence outgrows backtick runs in content")
	assert.NotContains(t, out, "### ok", "clean passing scenarios get no detail section")
}

func TestHTML_EscapesContent(t *testing.T) {
	out, err := HTML(Build(sampleRun(), time.Now()))
	require.NoError(t, err)
	html := string(out)
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<title>AVS Triage Report</title>")
	assert.Contains(t, html, "<table>")
	assert.NotContains(t, html, "<script>")
}

func TestWriteDir(t *testing.T) {
	dir := t.TempDir()
	files, err := WriteDir(dir, Build(sampleRun(), time.Now()))
	require.NoError(t, err)
	for _, p := range files.All() {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size())
	}
}
