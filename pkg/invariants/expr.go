package invariants

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Predicate is a compiled boolean CEL expression over dynamic variables.
// Programs are safe for concurrent evaluation.
type Predicate struct {
	source string
	prg    cel.Program
}

// CompilePredicate compiles source with each of vars declared as a dynamic
// variable.
func CompilePredicate(source string, vars ...string) (*Predicate, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", contracts.ErrMalformed, source, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program %q: %v", contracts.ErrMalformed, source, err)
	}
	return &Predicate{source: source, prg: prg}, nil
}

// Source returns the expression text.
func (p *Predicate) Source() string { return p.source }

// Eval runs the predicate. Non-boolean results are errors.
func (p *Predicate) Eval(vars map[string]any) (bool, error) {
	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", p.source, out.Value())
	}
	return b, nil
}

var predicateCache sync.Map // source -> *Predicate

// cachedPredicate compiles each distinct record expression once per process.
func cachedPredicate(source string) (*Predicate, error) {
	if p, ok := predicateCache.Load(source); ok {
		return p.(*Predicate), nil
	}
	p, err := CompilePredicate(source, "record")
	if err != nil {
		return nil, err
	}
	actual, _ := predicateCache.LoadOrStore(source, p)
	return actual.(*Predicate), nil
}

// exprInvariant evaluates a CEL expression against every record (or every
// record of the listed actions). The record is exposed as `record` in its
// wire form, e.g. `record.result.status == "ok"`.
type exprInvariant struct {
	base
	pred       *Predicate
	actions    []string
	suggestion string
}

func newExpr(def Definition, _ Env) (Invariant, error) {
	source, err := paramString(def.Params, "expression", "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: expression is required", contracts.ErrMalformed)
	}
	pred, err := cachedPredicate(source)
	if err != nil {
		return nil, err
	}
	actions, err := paramStrings(def.Params, "actions", nil)
	if err != nil {
		return nil, err
	}
	suggestion, err := paramString(def.Params, "suggestion", "adjust the step so the expression holds: "+source)
	if err != nil {
		return nil, err
	}
	return &exprInvariant{
		base:       newBase(def, source),
		pred:       pred,
		actions:    actions,
		suggestion: suggestion,
	}, nil
}

func (e *exprInvariant) Check(trace contracts.Trace) Result {
	var offending []contracts.ProvenanceRecord
	var reasons []string
	for _, rec := range trace.Records {
		if len(e.actions) > 0 && !slices.Contains(e.actions, rec.Action) {
			continue
		}
		vars, err := recordVars(rec)
		if err != nil {
			offending = append(offending, rec)
			reasons = append(reasons, err.Error())
			continue
		}
		ok, err := e.pred.Eval(vars)
		if err != nil {
			offending = append(offending, rec)
			reasons = append(reasons, fmt.Sprintf("%s: %v", rec.Action, err))
			continue
		}
		if !ok {
			offending = append(offending, rec)
			reasons = append(reasons, fmt.Sprintf("%s: expression is false", rec.Action))
		}
	}
	if len(offending) == 0 {
		return pass()
	}
	return fail(strings.Join(reasons, "; "), offending...)
}

func (e *exprInvariant) Suggestion() string { return e.suggestion }

func recordVars(rec contracts.ProvenanceRecord) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return map[string]any{"record": m}, nil
}
