package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/avs/pkg/audit"
	"github.com/Mindburn-Labs/avs/pkg/canonicalize"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/delegation"
	"github.com/Mindburn-Labs/avs/pkg/idgen"
	"github.com/Mindburn-Labs/avs/pkg/invariants"
	"github.com/Mindburn-Labs/avs/pkg/observability"
	"github.com/Mindburn-Labs/avs/pkg/provenance"
)

// DefaultHopLimit is the root envelope budget when a scenario sets none.
const DefaultHopLimit = 3

// Config wires a Runner. Graph, Tokens, Delegations and Provenance are
// required; everything else is optional.
type Config struct {
	Graph       *Graph
	Contracts   contracts.ContractSet
	Invariants  []invariants.Invariant
	Tokens      TokenSource
	Delegations *delegation.Service
	Provenance  *provenance.Service
	Adapters    *Adapters
	Sink        RecordSink
	Expander    Expander
	AuditDir    *audit.Dir
	Tracker     Tracker

	Concurrency     int
	DefaultHopLimit int
	IDs             idgen.Generator
	Clock           func() time.Time
	Logger          *slog.Logger
}

// Runner executes scenarios against one graph.
type Runner struct {
	cfg           Config
	order         []Node
	evaluator     *invariants.Evaluator
	preconditions map[string][]*invariants.Predicate
	policyNames   []string
	policyHash    string
	logger        *slog.Logger
}

// New validates the configuration, orders the graph and compiles contract
// preconditions.
func New(cfg Config) (*Runner, error) {
	switch {
	case cfg.Graph == nil:
		return nil, errors.New("runner: graph is required")
	case cfg.Tokens == nil:
		return nil, errors.New("runner: token source is required")
	case cfg.Delegations == nil:
		return nil, errors.New("runner: delegation service is required")
	case cfg.Provenance == nil:
		return nil, errors.New("runner: provenance service is required")
	}
	order, err := cfg.Graph.Order()
	if err != nil {
		return nil, err
	}
	if cfg.Contracts == nil {
		cfg.Contracts = contracts.ContractSet{}
	}
	if cfg.Adapters == nil {
		cfg.Adapters = NewAdapters()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.DefaultHopLimit <= 0 {
		cfg.DefaultHopLimit = DefaultHopLimit
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUID{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pre := make(map[string][]*invariants.Predicate)
	for name, c := range cfg.Contracts {
		for _, src := range c.Preconditions {
			p, err := invariants.CompilePredicate(src, "inputs", "scenario", "outputs")
			if err != nil {
				return nil, fmt.Errorf("contract %s precondition: %w", name, err)
			}
			pre[name] = append(pre[name], p)
		}
	}

	names := invariants.Names(cfg.Invariants)
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	return &Runner{
		cfg:           cfg,
		order:         order,
		evaluator:     invariants.NewEvaluator(cfg.Invariants).WithConcurrency(cfg.Concurrency),
		preconditions: pre,
		policyNames:   names,
		policyHash:    "sha256:" + canonicalize.HashBytes([]byte(strings.Join(sorted, ","))),
		logger:        cfg.Logger.With("component", "runner"),
	}, nil
}

// Order returns the resolved execution order.
func (r *Runner) Order() []Node { return r.order }

// Run expands every scenario, executes the resulting set concurrently and
// evaluates the traces. Invariant failures are results, not errors; the
// returned error is non-nil only for invalid input. On cancellation,
// scenarios that had not finished are reported as cancelled.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) (*RunResult, error) {
	if err := ValidateScenarios(scenarios); err != nil {
		return nil, err
	}
	started := r.cfg.Clock()
	runID := r.cfg.IDs.NewID()

	expanded, expansionNotes := r.expand(ctx, scenarios)
	results := make([]ScenarioResult, len(expanded))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, sc := range expanded {
		if ctx.Err() != nil {
			results[i] = cancelled(sc)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = cancelled(sc)
				return nil
			}
			results[i] = r.Execute(ctx, sc)
			results[i].Notes = slices.Concat(expansionNotes[i], results[i].Notes)
			return nil
		})
	}
	_ = g.Wait()

	// Evaluation is pure and runs even when the run was cancelled, so that
	// scenarios that completed are still reported.
	evalCtx := context.WithoutCancel(ctx)
	var traces []contracts.Trace
	var owners []int
	for i := range results {
		if results[i].Status != ScenarioCancelled {
			traces = append(traces, results[i].Trace)
			owners = append(owners, i)
		}
	}
	evaluated, err := r.evaluator.Evaluate(evalCtx, traces)
	if err != nil {
		return nil, fmt.Errorf("evaluate traces: %w", err)
	}
	for j, i := range owners {
		res := &results[i]
		res.Invariants = make(map[string]invariants.Result, len(evaluated))
		for name, per := range evaluated {
			res.Invariants[name] = per[j]
		}
		res.settle()
	}

	out := &RunResult{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: r.cfg.Clock(),
		Scenarios:  results,
		Invariants: r.cfg.Invariants,
	}
	out.Summary = summarize(results)
	r.logger.Info("run complete",
		"run_id", runID,
		"total", out.Summary.Total,
		"passed", out.Summary.Passed,
		"failed", out.Summary.Failed,
		"cancelled", out.Summary.Cancelled,
		"ingest_failures", out.Summary.IngestFailures,
	)
	return out, nil
}

func (r *Runner) expand(ctx context.Context, scenarios []Scenario) ([]Scenario, [][]string) {
	if r.cfg.Expander == nil {
		return scenarios, make([][]string, len(scenarios))
	}
	var out []Scenario
	var notes [][]string
	for _, sc := range scenarios {
		variants, n := r.cfg.Expander.Expand(ctx, sc)
		if len(variants) == 0 {
			variants = []Scenario{sc}
		}
		for _, v := range variants {
			out = append(out, v)
			notes = append(notes, n)
		}
	}
	return out, notes
}

// Execute runs one scenario to completion and returns its unevaluated
// result. With a Tracker configured, the scenario span ends with the
// execution error, so failed and cancelled scenarios are counted as errors.
func (r *Runner) Execute(ctx context.Context, sc Scenario) ScenarioResult {
	if r.cfg.Tracker == nil {
		return r.execute(ctx, sc)
	}
	ctx, done := r.cfg.Tracker.TrackOperation(ctx, "scenario.execute", observability.ScenarioOperation(sc.ID, sc.VariantOf)...)
	res := r.execute(ctx, sc)
	done(res.Err())
	return res
}

func (r *Runner) execute(ctx context.Context, sc Scenario) ScenarioResult {
	start := time.Now()
	ex := &execution{
		r:  r,
		sc: sc,
		trace: contracts.Trace{
			ID:         r.cfg.IDs.NewID(),
			ScenarioID: sc.ID,
			Tokens:     make(map[string]*contracts.CapabilityClaims),
		},
		outputs: make(map[string]map[string]any),
		logger:  r.logger.With("scenario", sc.ID),
	}
	if r.cfg.AuditDir != nil {
		fl, err := r.cfg.AuditDir.Open(sc.ID)
		if err != nil {
			ex.notes = append(ex.notes, fmt.Sprintf("audit log unavailable: %v", err))
		} else {
			defer fl.Close()
			ex.audit = fl
			ex.auditPath = fl.Path()
		}
	}

	err := ex.run(ctx)
	res := ScenarioResult{
		ScenarioID:     sc.ID,
		VariantOf:      sc.VariantOf,
		TraceID:        ex.trace.ID,
		Trace:          ex.trace,
		IngestFailures: ex.ingestFailures,
		Notes:          ex.notes,
		Duration:       time.Since(start),
		AuditLog:       ex.auditPath,
	}
	for _, rec := range ex.trace.Records {
		res.CostUSD += rec.CostUSD()
	}

	switch {
	case err == nil:
		res.Status = ScenarioPassed
	case ctx.Err() != nil:
		ex.logger.Warn("scenario cancelled", "error", err)
		res = cancelled(sc)
		res.err = err
	default:
		res.Status = ScenarioFailed
		res.Reason = err.Error()
		res.ErrorKind = contracts.Kind(err)
		res.err = err
		ex.logger.Warn("scenario failed", "kind", res.ErrorKind, "error", err)
	}
	return res
}

type completedStep struct {
	node   Node
	inputs map[string]any
	output map[string]any
}

// execution is the mutable state of one scenario run. It is confined to a
// single goroutine.
type execution struct {
	r              *Runner
	sc             Scenario
	trace          contracts.Trace
	outputs        map[string]map[string]any
	de             *contracts.DelegationEnvelope
	lastAgent      string
	completed      []completedStep
	ingestFailures int
	notes          []string
	audit          audit.Logger
	auditPath      string
	logger         *slog.Logger
}

func (ex *execution) run(ctx context.Context) error {
	for _, node := range ex.r.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := scope{vars: ex.sc.Inputs, outputs: ex.outputs}
		inputs := mergeInputs(node.Inputs, s, ex.sc.Inputs, ex.sc.NodeInputs[node.ID])

		if err := ex.checkPreconditions(node, inputs); err != nil {
			return err
		}
		if node.Delegate {
			if err := ex.advanceDelegation(node); err != nil {
				return err
			}
		}

		outcome, err := ex.step(ctx, node, inputs)
		if err != nil {
			if ctx.Err() == nil {
				ex.compensate(ctx)
			}
			return err
		}
		if outcome.Status != StatusOK {
			ex.compensate(ctx)
			return fmt.Errorf("node %s (%s) reported status %q", node.ID, node.Action, outcome.Status)
		}
		ex.outputs[node.ID] = outcome.Output
		ex.completed = append(ex.completed, completedStep{node: node, inputs: inputs, output: outcome.Output})
		ex.lastAgent = node.Agent
	}
	return nil
}

func (ex *execution) checkPreconditions(node Node, inputs map[string]any) error {
	vars := map[string]any{
		"inputs":   inputs,
		"scenario": nonNil(ex.sc.Inputs),
		"outputs":  outputsVar(ex.outputs),
	}
	for _, p := range ex.r.preconditions[node.Action] {
		ok, err := p.Eval(vars)
		if err != nil {
			return fmt.Errorf("%w: node %s: %v", contracts.ErrPreconditionFailed, node.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: node %s: %s", contracts.ErrPreconditionFailed, node.ID, p.Source())
		}
	}
	return nil
}

// advanceDelegation mints the root envelope on first use, then spends one
// hop for this node.
func (ex *execution) advanceDelegation(node Node) error {
	if ex.de == nil {
		hop := ex.r.cfg.DefaultHopLimit
		policyHash := ex.r.policyHash
		task := ex.sc.ID
		if o := ex.sc.Delegation; o != nil {
			if o.HopLimit != nil {
				hop = *o.HopLimit
			}
			if o.PolicyHash != "" {
				policyHash = o.PolicyHash
			}
			if o.Task != "" {
				task = o.Task
			}
		}
		origin := ex.lastAgent
		if origin == "" {
			origin = node.Agent
		}
		root, err := ex.r.cfg.Delegations.Mint(origin, task, hop, policyHash)
		if err != nil {
			return fmt.Errorf("node %s: mint delegation: %w", node.ID, err)
		}
		ex.de = &root
	}
	next, err := ex.r.cfg.Delegations.Redelegate(*ex.de)
	if err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}
	ex.de = &next
	return nil
}

// step mints a token, invokes the adapter and emits the provenance record
// for one action. A record is emitted even when the adapter errors.
func (ex *execution) step(ctx context.Context, node Node, inputs map[string]any) (Outcome, error) {
	contract, _ := ex.r.cfg.Contracts.Lookup(node.Action)
	act, res, scope := contract.Capability()
	if ex.sc.Token != nil && len(ex.sc.Token.Scope) > 0 {
		scope = ex.sc.Token.Scope
	}

	tok, err := ex.r.cfg.Tokens.Mint(ctx, capabilityRequest(node.Agent, act, res, scope, ex.sc.Token.TTL()))
	if err != nil {
		return Outcome{}, fmt.Errorf("node %s: mint capability: %w", node.ID, err)
	}
	ex.trace.Tokens[tok.Raw] = tok.Claims

	outcome, invokeErr := ex.invoke(ctx, node, Invocation{
		TraceID:    ex.trace.ID,
		NodeID:     node.ID,
		Agent:      node.Agent,
		Action:     node.Action,
		Inputs:     inputs,
		Token:      tok.Raw,
		Claims:     tok.Claims,
		Delegation: ex.de,
	})
	if invokeErr != nil {
		if ctx.Err() != nil {
			return Outcome{}, invokeErr
		}
		outcome = Outcome{Status: StatusError, Output: map[string]any{"error": invokeErr.Error()}}
	}

	result := map[string]any{
		"status":   outcome.Status,
		"cost_usd": outcome.CostUSD,
		"cost_ms":  outcome.CostMS,
	}
	if outcome.Output != nil {
		result["output"] = outcome.Output
	}
	rec := contracts.ProvenanceRecord{
		Timestamp:       ex.r.cfg.Clock().UTC().Format(time.RFC3339Nano),
		Agent:           node.Agent,
		Action:          node.Action,
		Inputs:          inputs,
		Result:          result,
		TokenRef:        tok.Raw,
		PoliciesChecked: ex.r.policyNames,
		TraceID:         ex.trace.ID,
	}
	if ex.de != nil {
		rec.Delegation = ex.de.Context()
	}
	rec, err = ex.r.cfg.Provenance.Emit(rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("node %s: emit provenance: %w", node.ID, err)
	}
	ex.trace.Records = append(ex.trace.Records, rec)

	ingested := ex.ingest(ctx, rec)
	ex.writeAudit(ctx, rec, tok.Claims.ID, ingested)

	if invokeErr != nil {
		return outcome, fmt.Errorf("node %s: invoke %s: %w", node.ID, node.Action, invokeErr)
	}
	return outcome, nil
}

// invoke calls the node's adapter inside an "action.invoke" operation. A
// non-ok status ends the operation with an error as well.
func (ex *execution) invoke(ctx context.Context, node Node, inv Invocation) (Outcome, error) {
	adapter := ex.r.cfg.Adapters.For(node.Action)
	if ex.r.cfg.Tracker == nil {
		return adapter.Invoke(ctx, inv)
	}
	actx, done := ex.r.cfg.Tracker.TrackOperation(ctx, "action.invoke", observability.ActionOperation(node.Agent, node.Action)...)
	outcome, err := adapter.Invoke(actx, inv)
	switch {
	case err != nil:
		done(err)
	case outcome.Status != StatusOK:
		done(fmt.Errorf("%s reported status %q", node.Action, outcome.Status))
	default:
		done(nil)
	}
	return outcome, err
}

func (ex *execution) ingest(ctx context.Context, rec contracts.ProvenanceRecord) bool {
	if ex.r.cfg.Sink == nil {
		return false
	}
	if err := ex.r.cfg.Sink.Ingest(ctx, rec); err != nil {
		ex.ingestFailures++
		ex.notes = append(ex.notes, fmt.Sprintf("provenance not ingested for %s: %v", rec.Action, err))
		ex.logger.Warn("provenance ingest failed", "action", rec.Action, "hash", rec.Hash, "error", err)
		return false
	}
	return true
}

func (ex *execution) writeAudit(ctx context.Context, rec contracts.ProvenanceRecord, jti string, ingested bool) {
	if ex.audit == nil {
		return
	}
	ts, _ := rec.Time()
	err := ex.audit.Record(ctx, audit.Entry{
		ID:         ex.r.cfg.IDs.NewID(),
		ScenarioID: ex.sc.ID,
		TraceID:    ex.trace.ID,
		Agent:      rec.Agent,
		Action:     rec.Action,
		Inputs:     rec.Inputs,
		TokenID:    jti,
		Delegation: rec.Delegation,
		Result:     rec.Result,
		RecordHash: rec.Hash,
		Ingested:   ingested,
		Timestamp:  ts,
	})
	if err != nil {
		ex.notes = append(ex.notes, fmt.Sprintf("audit write failed: %v", err))
	}
}

// compensate undoes completed non-idempotent steps in reverse order using
// each contract's compensation action. Failures are noted, not returned.
func (ex *execution) compensate(ctx context.Context) {
	for i := len(ex.completed) - 1; i >= 0; i-- {
		done := ex.completed[i]
		contract, _ := ex.r.cfg.Contracts.Lookup(done.node.Action)
		if contract.IsIdempotent() || contract.Compensation == "" {
			continue
		}
		node := Node{
			ID:     done.node.ID + ":compensate",
			Agent:  done.node.Agent,
			Action: contract.Compensation,
		}
		inputs := map[string]any{
			"compensates":     done.node.ID,
			"original_inputs": done.inputs,
			"original_output": nonNil(done.output),
		}
		outcome, err := ex.step(ctx, node, inputs)
		switch {
		case err != nil:
			ex.notes = append(ex.notes, fmt.Sprintf("compensation %s for %s failed: %v", contract.Compensation, done.node.ID, err))
		case outcome.Status != StatusOK:
			ex.notes = append(ex.notes, fmt.Sprintf("compensation %s for %s reported %q", contract.Compensation, done.node.ID, outcome.Status))
		default:
			ex.notes = append(ex.notes, fmt.Sprintf("compensated %s with %s", done.node.ID, contract.Compensation))
		}
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func outputsVar(outputs map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(outputs))
	for k, v := range outputs {
		out[k] = v
	}
	return out
}
