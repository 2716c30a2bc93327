package runner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/avs/pkg/capability"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/invariants"
)

// ScenarioStatus is the verdict for one executed scenario.
type ScenarioStatus string

const (
	ScenarioPassed    ScenarioStatus = "passed"
	ScenarioFailed    ScenarioStatus = "failed"
	ScenarioCancelled ScenarioStatus = "cancelled"
)

// ScenarioResult is the outcome of one scenario or variant.
type ScenarioResult struct {
	ScenarioID     string                       `json:"scenario_id"`
	VariantOf      string                       `json:"variant_of,omitempty"`
	TraceID        string                       `json:"trace_id,omitempty"`
	Status         ScenarioStatus               `json:"status"`
	Reason         string                       `json:"reason,omitempty"`
	ErrorKind      contracts.ErrorKind          `json:"error_kind,omitempty"`
	Trace          contracts.Trace              `json:"trace"`
	Invariants     map[string]invariants.Result `json:"invariants,omitempty"`
	IngestFailures int                          `json:"ingest_failures"`
	Notes          []string                     `json:"notes,omitempty"`
	CostUSD        float64                      `json:"cost_usd"`
	Duration       time.Duration                `json:"duration_ns"`
	AuditLog       string                       `json:"audit_log,omitempty"`

	err error
}

// Err returns the error that ended a non-passing scenario. Invariant
// violations yield an error naming the failed invariants.
func (r ScenarioResult) Err() error {
	switch {
	case r.Status == ScenarioPassed:
		return nil
	case r.err != nil:
		return r.err
	case r.Status == ScenarioCancelled:
		return context.Canceled
	default:
		return errors.New(r.Reason)
	}
}

// FailedInvariants lists the names of failing invariants, sorted.
func (r ScenarioResult) FailedInvariants() []string {
	var out []string
	for name, res := range r.Invariants {
		if !res.Pass {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// settle folds invariant verdicts into the scenario status: a scenario
// passes only if it executed cleanly and every invariant passed.
func (r *ScenarioResult) settle() {
	if r.Status != ScenarioPassed {
		return
	}
	if failed := r.FailedInvariants(); len(failed) > 0 {
		r.Status = ScenarioFailed
		r.ErrorKind = contracts.KindInvariantViolation
		r.Reason = "invariant violation: " + strings.Join(failed, ", ")
	}
}

func cancelled(sc Scenario) ScenarioResult {
	return ScenarioResult{
		ScenarioID: sc.ID,
		VariantOf:  sc.VariantOf,
		Status:     ScenarioCancelled,
		ErrorKind:  contracts.KindCancelled,
		Reason:     "run cancelled before the scenario finished",
	}
}

// Summary counts scenarios by status. Passed+Failed+Cancelled == Total.
type Summary struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
	IngestFailures int `json:"ingest_failures"`
}

func summarize(results []ScenarioResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ScenarioPassed:
			s.Passed++
		case ScenarioFailed:
			s.Failed++
		default:
			s.Cancelled++
		}
		s.IngestFailures += r.IngestFailures
	}
	return s
}

// RunResult is everything a run produced.
type RunResult struct {
	RunID      string                 `json:"run_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Scenarios  []ScenarioResult       `json:"scenarios"`
	Summary    Summary                `json:"summary"`
	Invariants []invariants.Invariant `json:"-"`
}

func capabilityRequest(agent, act, res string, scope []string, ttl time.Duration) capability.IssueRequest {
	return capability.IssueRequest{
		Subject:  agent,
		Action:   act,
		Resource: res,
		Scope:    scope,
		TTL:      ttl,
	}
}
