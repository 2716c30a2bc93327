package contracts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ProvenanceRecord is the signed audit entry for one executed action. Hash
// covers every field except Hash and Sig.
type ProvenanceRecord struct {
	Timestamp       string             `json:"ts"`
	Agent           string             `json:"agent"`
	Action          string             `json:"action"`
	Inputs          map[string]any     `json:"inputs"`
	Result          map[string]any     `json:"result"`
	TokenRef        string             `json:"token_ref"`
	PoliciesChecked []string           `json:"policies_checked"`
	TraceID         string             `json:"trace_id,omitempty"`
	Delegation      *DelegationContext `json:"delegation,omitempty"`
	Version         string             `json:"ver"`
	Hash            string             `json:"hash,omitempty"`
	Sig             string             `json:"sig,omitempty"`
}

// Time parses the record timestamp.
func (r ProvenanceRecord) Time() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: record timestamp %q: %v", ErrMalformed, r.Timestamp, err)
	}
	return ts, nil
}

// CostUSD returns result.cost_usd as a float, zero when absent or not numeric.
func (r ProvenanceRecord) CostUSD() float64 {
	return NumberField(r.Result, "cost_usd")
}

// StringField returns bag[key] when it is a string.
func StringField(bag map[string]any, key string) (string, bool) {
	v, ok := bag[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NumberField coerces bag[key] to float64. Records that have crossed a JSON
// boundary carry float64 or json.Number; records built in-process may carry
// any Go numeric type.
func NumberField(bag map[string]any, key string) float64 {
	switch n := bag[key].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Trace is the ordered record sequence of one scenario execution. Tokens
// indexes the claims of every capability token minted during the run by
// its compact form, so token_ref can be resolved without the signing key.
type Trace struct {
	ID         string                       `json:"id"`
	ScenarioID string                       `json:"scenario_id"`
	Records    []ProvenanceRecord           `json:"records"`
	Tokens     map[string]*CapabilityClaims `json:"-"`
}

// Token resolves a record's token_ref.
func (t Trace) Token(ref string) (*CapabilityClaims, bool) {
	if t.Tokens == nil {
		return nil, false
	}
	c, ok := t.Tokens[ref]
	return c, ok
}
