// Package invariants evaluates named safety predicates over execution
// traces. The set of invariant kinds is closed: every kind is registered in
// this package and definitions naming anything else are rejected at load.
package invariants

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Kind identifies an invariant implementation.
type Kind string

const (
	KindNoPII       Kind = "no_pii"
	KindScopedToken Kind = "scoped_token"
	KindHopLimit    Kind = "hop_limit"
	KindBudget      Kind = "budget"
	KindExpr        Kind = "expr"
)

// Result is the verdict of one invariant on one trace. A failing Result is
// an invariant violation: a value for the report, not an error.
type Result struct {
	Pass             bool                         `json:"pass"`
	Message          string                       `json:"message,omitempty"`
	OffendingRecords []contracts.ProvenanceRecord `json:"offending_records,omitempty"`
}

func pass() Result { return Result{Pass: true} }

func fail(msg string, offending ...contracts.ProvenanceRecord) Result {
	return Result{Pass: false, Message: msg, OffendingRecords: offending}
}

// Invariant is a pure, read-only predicate over a trace.
type Invariant interface {
	Name() string
	Description() string
	Check(trace contracts.Trace) Result
	// Suggestion is the cheapest known fix for a violation, shown in reports.
	Suggestion() string
}

// Definition is the configuration form of an invariant. Kind defaults to
// Name so the built-ins can be declared by name alone.
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Kind        Kind           `yaml:"kind" json:"kind,omitempty"`
	Params      map[string]any `yaml:"params" json:"params,omitempty"`
}

// Env carries the run configuration invariants may consult.
type Env struct {
	Contracts contracts.ContractSet
}

type factory func(def Definition, env Env) (Invariant, error)

var registry = map[Kind]factory{
	KindNoPII:       newNoPII,
	KindScopedToken: newScopedToken,
	KindHopLimit:    newHopLimit,
	KindBudget:      newBudget,
	KindExpr:        newExpr,
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build constructs the invariant described by def.
func Build(def Definition, env Env) (Invariant, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: invariant name is required", contracts.ErrMalformed)
	}
	kind := def.Kind
	if kind == "" {
		kind = Kind(def.Name)
	}
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: invariant %s: unknown kind %q (known: %v)", contracts.ErrMalformed, def.Name, kind, Kinds())
	}
	inv, err := f(def, env)
	if err != nil {
		return nil, fmt.Errorf("invariant %s: %w", def.Name, err)
	}
	return inv, nil
}

// BuildAll constructs every definition, rejecting duplicate names.
func BuildAll(defs []Definition, env Env) ([]Invariant, error) {
	seen := make(map[string]bool, len(defs))
	out := make([]Invariant, 0, len(defs))
	for _, def := range defs {
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate invariant %s", contracts.ErrMalformed, def.Name)
		}
		seen[def.Name] = true
		inv, err := Build(def, env)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// Defaults returns the four built-ins with their reference parameters.
func Defaults(env Env) []Invariant {
	out := make([]Invariant, 0, 4)
	for _, k := range []Kind{KindNoPII, KindScopedToken, KindHopLimit, KindBudget} {
		inv, err := Build(Definition{Name: string(k)}, env)
		if err != nil {
			// Reference parameters are constants; failure is a programming error.
			panic(err)
		}
		out = append(out, inv)
	}
	return out
}

// Names returns the invariant names in order.
func Names(invs []Invariant) []string {
	out := make([]string, len(invs))
	for i, inv := range invs {
		out[i] = inv.Name()
	}
	return out
}

// base holds the fields every invariant shares.
type base struct {
	name        string
	description string
}

func newBase(def Definition, fallback string) base {
	desc := def.Description
	if desc == "" {
		desc = fallback
	}
	return base{name: def.Name, description: desc}
}

func (b base) Name() string        { return b.name }
func (b base) Description() string { return b.description }
