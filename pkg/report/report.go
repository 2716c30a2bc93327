// Package report renders run results as report.json, report.md and
// report.html.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/runner"
)

const Title = "AVS Triage Report"

// Report is the machine-readable form every rendering is built from.
type Report struct {
	Title       string             `json:"title"`
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Summary     runner.Summary     `json:"summary"`
	Invariants  []InvariantSummary `json:"invariants"`
	Scenarios   []ScenarioEntry    `json:"scenarios"`
}

// InvariantSummary aggregates one invariant across every scenario.
type InvariantSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Pass        bool   `json:"pass"`
	Failures    int    `json:"failures"`
	Evaluated   int    `json:"evaluated"`
	// Suggestion is the cheapest known fix, present only when failing.
	Suggestion string `json:"suggestion,omitempty"`
}

type ScenarioEntry struct {
	ID             string                       `json:"id"`
	VariantOf      string                       `json:"variant_of,omitempty"`
	TraceID        string                       `json:"trace_id,omitempty"`
	Status         runner.ScenarioStatus        `json:"status"`
	Reason         string                       `json:"reason,omitempty"`
	ErrorKind      contracts.ErrorKind          `json:"error_kind,omitempty"`
	Failures       []Failure                    `json:"failures,omitempty"`
	CostUSD        float64                      `json:"cost_usd"`
	IngestFailures int                          `json:"ingest_failures"`
	Notes          []string                     `json:"notes,omitempty"`
	AuditLog       string                       `json:"audit_log,omitempty"`
	Trace          []contracts.ProvenanceRecord `json:"trace"`
}

type Failure struct {
	Invariant        string                       `json:"invariant"`
	Message          string                       `json:"message"`
	Suggestion       string                       `json:"suggestion,omitempty"`
	OffendingRecords []contracts.ProvenanceRecord `json:"offending_records,omitempty"`
}

// Build assembles a report from a run. Invariant order follows the run's
// configuration; scenario order follows execution order.
func Build(res *runner.RunResult, now time.Time) *Report {
	rep := &Report{
		Title:       Title,
		RunID:       res.RunID,
		GeneratedAt: now.UTC(),
		StartedAt:   res.StartedAt.UTC(),
		FinishedAt:  res.FinishedAt.UTC(),
		Summary:     res.Summary,
	}

	suggestions := make(map[string]string, len(res.Invariants))
	for _, inv := range res.Invariants {
		suggestions[inv.Name()] = inv.Suggestion()
		rep.Invariants = append(rep.Invariants, InvariantSummary{
			Name:        inv.Name(),
			Description: inv.Description(),
			Pass:        true,
		})
	}
	index := make(map[string]int, len(rep.Invariants))
	for i, s := range rep.Invariants {
		index[s.Name] = i
	}

	for _, sc := range res.Scenarios {
		entry := ScenarioEntry{
			ID:             sc.ScenarioID,
			VariantOf:      sc.VariantOf,
			TraceID:        sc.TraceID,
			Status:         sc.Status,
			Reason:         sc.Reason,
			ErrorKind:      sc.ErrorKind,
			CostUSD:        sc.CostUSD,
			IngestFailures: sc.IngestFailures,
			Notes:          sc.Notes,
			AuditLog:       sc.AuditLog,
			Trace:          sc.Trace.Records,
		}
		if entry.Trace == nil {
			entry.Trace = []contracts.ProvenanceRecord{}
		}

		names := make([]string, 0, len(sc.Invariants))
		for name := range sc.Invariants {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			result := sc.Invariants[name]
			i, known := index[name]
			if !known {
				i = len(rep.Invariants)
				index[name] = i
				rep.Invariants = append(rep.Invariants, InvariantSummary{Name: name, Pass: true})
			}
			rep.Invariants[i].Evaluated++
			if result.Pass {
				continue
			}
			rep.Invariants[i].Pass = false
			rep.Invariants[i].Failures++
			rep.Invariants[i].Suggestion = suggestions[name]
			entry.Failures = append(entry.Failures, Failure{
				Invariant:        name,
				Message:          result.Message,
				Suggestion:       suggestions[name],
				OffendingRecords: result.OffendingRecords,
			})
		}
		rep.Scenarios = append(rep.Scenarios, entry)
	}
	return rep
}

func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Files names the outputs of WriteDir.
type Files struct {
	JSON     string
	Markdown string
	HTML     string
}

func (f Files) All() []string { return []string{f.JSON, f.Markdown, f.HTML} }

// WriteDir writes all three renderings into dir.
func WriteDir(dir string, rep *Report) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create report dir: %w", err)
	}
	files := Files{
		JSON:     filepath.Join(dir, "report.json"),
		Markdown: filepath.Join(dir, "report.md"),
		HTML:     filepath.Join(dir, "report.html"),
	}

	f, err := os.Create(files.JSON)
	if err != nil {
		return Files{}, err
	}
	if err := WriteJSON(f, rep); err != nil {
		_ = f.Close()
		return Files{}, fmt.Errorf("write %s: %w", files.JSON, err)
	}
	if err := f.Close(); err != nil {
		return Files{}, err
	}

	md := Markdown(rep)
	if err := os.WriteFile(files.Markdown, md, 0o644); err != nil {
		return Files{}, err
	}
	html, err := HTML(rep)
	if err != nil {
		return Files{}, err
	}
	if err := os.WriteFile(files.HTML, html, 0o644); err != nil {
		return Files{}, err
	}
	return files, nil
}
