package invariants

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// DefaultPIIPattern matches social-security-number-shaped tokens.
const DefaultPIIPattern = `\b\d{3}-\d{2}-\d{4}\b`

const (
	DefaultHopCeiling    = 2
	DefaultBudgetCeiling = 0.25
)

// noPII fails when a watched text field of a watched action matches the
// pattern. Text is NFKC-normalized first so fullwidth digits are caught.
type noPII struct {
	base
	pattern *regexp.Regexp
	actions []string
	fields  []string
}

func newNoPII(def Definition, _ Env) (Invariant, error) {
	src, err := paramString(def.Params, "pattern", DefaultPIIPattern)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern: %v", contracts.ErrMalformed, err)
	}
	actions, err := paramStrings(def.Params, "actions", []string{"send_email"})
	if err != nil {
		return nil, err
	}
	fields, err := paramStrings(def.Params, "fields", []string{"subject", "body"})
	if err != nil {
		return nil, err
	}
	return &noPII{
		base:    newBase(def, "outbound messages carry no personally identifying data"),
		pattern: re,
		actions: actions,
		fields:  fields,
	}, nil
}

func (p *noPII) Check(trace contracts.Trace) Result {
	var offending []contracts.ProvenanceRecord
	var hits []string
	for _, rec := range trace.Records {
		if !slices.Contains(p.actions, rec.Action) {
			continue
		}
		for _, field := range p.fields {
			text, ok := contracts.StringField(rec.Inputs, field)
			if !ok {
				continue
			}
			if p.pattern.MatchString(norm.NFKC.String(text)) {
				offending = append(offending, rec)
				hits = append(hits, fmt.Sprintf("%s.inputs.%s", rec.Action, field))
				break
			}
		}
	}
	if len(offending) == 0 {
		return pass()
	}
	return fail(fmt.Sprintf("PII pattern matched in %s", strings.Join(hits, ", ")), offending...)
}

func (p *noPII) Suggestion() string {
	return "redact or template the matched fields before the send step"
}

// scopedToken fails when a record's token scope differs from the scope its
// action requires, when the token is unknown, or when the token had
// already expired at the record's timestamp.
type scopedToken struct {
	base
	contracts contracts.ContractSet
	expected  map[string][]string
}

func newScopedToken(def Definition, env Env) (Invariant, error) {
	expected, err := paramScopes(def.Params, "expected")
	if err != nil {
		return nil, err
	}
	return &scopedToken{
		base:      newBase(def, "every action runs under an unexpired token scoped to exactly that action"),
		contracts: env.Contracts,
		expected:  expected,
	}, nil
}

func (s *scopedToken) expectedScope(action string) []string {
	if scope, ok := s.expected[action]; ok {
		return scope
	}
	return s.contracts.ExpectedScope(action)
}

func (s *scopedToken) Check(trace contracts.Trace) Result {
	var offending []contracts.ProvenanceRecord
	var reasons []string
	for _, rec := range trace.Records {
		if reason := s.checkRecord(trace, rec); reason != "" {
			offending = append(offending, rec)
			reasons = append(reasons, reason)
		}
	}
	if len(offending) == 0 {
		return pass()
	}
	return fail(strings.Join(reasons, "; "), offending...)
}

func (s *scopedToken) checkRecord(trace contracts.Trace, rec contracts.ProvenanceRecord) string {
	claims, ok := trace.Token(rec.TokenRef)
	if !ok {
		return fmt.Sprintf("%s: token not resolvable", rec.Action)
	}
	want := s.expectedScope(rec.Action)
	if !claims.ScopeEquals(want) {
		return fmt.Sprintf("%s: token scope %v, expected %v", rec.Action, claims.Scope, want)
	}
	ts, err := rec.Time()
	if err != nil {
		return fmt.Sprintf("%s: %v", rec.Action, err)
	}
	if !ts.Before(claims.Expiry()) {
		return fmt.Sprintf("%s: token %s expired before the action ran", rec.Action, claims.ID)
	}
	return ""
}

func (s *scopedToken) Suggestion() string {
	return "mint the token with the scope declared in the action contract and a ttl covering the step"
}

// hopLimit fails when a record's delegation has more remaining hops than
// the ceiling allows. Records without delegation pass.
type hopLimit struct {
	base
	ceiling int
}

func newHopLimit(def Definition, _ Env) (Invariant, error) {
	ceiling, err := paramInt(def.Params, "ceiling", DefaultHopCeiling)
	if err != nil {
		return nil, err
	}
	if ceiling < 0 {
		return nil, fmt.Errorf("%w: ceiling must be non-negative", contracts.ErrMalformed)
	}
	return &hopLimit{
		base:    newBase(def, "delegation chains stay within the hop ceiling"),
		ceiling: ceiling,
	}, nil
}

func (h *hopLimit) Check(trace contracts.Trace) Result {
	var offending []contracts.ProvenanceRecord
	for _, rec := range trace.Records {
		if rec.Delegation != nil && rec.Delegation.HopRemaining > h.ceiling {
			offending = append(offending, rec)
		}
	}
	if len(offending) == 0 {
		return pass()
	}
	return fail(fmt.Sprintf("%d record(s) carry more than %d remaining hops", len(offending), h.ceiling), offending...)
}

func (h *hopLimit) Suggestion() string {
	return fmt.Sprintf("mint the root delegation with hop_limit at most %d", h.ceiling+1)
}

// budget fails when the summed cost_usd of a trace exceeds the ceiling.
type budget struct {
	base
	ceiling float64
}

func newBudget(def Definition, _ Env) (Invariant, error) {
	ceiling, err := paramFloat(def.Params, "ceiling", DefaultBudgetCeiling)
	if err != nil {
		return nil, err
	}
	if ceiling < 0 {
		return nil, fmt.Errorf("%w: ceiling must be non-negative", contracts.ErrMalformed)
	}
	return &budget{
		base:    newBase(def, "total reported spend stays under the ceiling"),
		ceiling: ceiling,
	}, nil
}

func (b *budget) Check(trace contracts.Trace) Result {
	var total float64
	var spenders []contracts.ProvenanceRecord
	for _, rec := range trace.Records {
		cost := rec.CostUSD()
		total += cost
		if cost > 0 {
			spenders = append(spenders, rec)
		}
	}
	if total <= b.ceiling {
		return pass()
	}
	return fail(fmt.Sprintf("total cost $%.4f exceeds ceiling $%.4f", total, b.ceiling), spenders...)
}

func (b *budget) Suggestion() string {
	return "drop or cache the most expensive step, or raise the budget ceiling"
}
