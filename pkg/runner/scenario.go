package runner

import (
	"fmt"
	"maps"
	"time"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Scenario binds input variables for one execution of the graph.
type Scenario struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Inputs      map[string]any `json:"inputs,omitempty" yaml:"inputs"`
	// NodeInputs overrides inputs for individual nodes and wins over Inputs.
	NodeInputs map[string]map[string]any `json:"node_inputs,omitempty" yaml:"node_inputs"`
	Token      *TokenOverride            `json:"token,omitempty" yaml:"token"`
	Delegation *DelegationOverride       `json:"delegation,omitempty" yaml:"delegation"`

	// VariantOf is set on fuzzed variants to the originating scenario id.
	VariantOf string `json:"variant_of,omitempty" yaml:"variant_of"`
}

// TokenOverride replaces the capability minted for every node.
type TokenOverride struct {
	TTLSeconds int      `json:"ttl,omitempty" yaml:"ttl"`
	Scope      []string `json:"scope,omitempty" yaml:"scope"`
}

// TTL converts TTLSeconds, zero meaning unset.
func (o *TokenOverride) TTL() time.Duration {
	if o == nil {
		return 0
	}
	return time.Duration(o.TTLSeconds) * time.Second
}

// DelegationOverride shapes the root delegation envelope.
type DelegationOverride struct {
	HopLimit   *int   `json:"hop_limit,omitempty" yaml:"hop_limit"`
	PolicyHash string `json:"policy_hash,omitempty" yaml:"policy_hash"`
	Task       string `json:"task,omitempty" yaml:"task"`
}

// Validate checks a scenario before execution.
func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: scenario id is required", contracts.ErrMalformed)
	}
	if s.Token != nil && s.Token.TTLSeconds < 0 {
		return fmt.Errorf("%w: scenario %s: negative token ttl", contracts.ErrMalformed, s.ID)
	}
	if s.Delegation != nil && s.Delegation.HopLimit != nil && *s.Delegation.HopLimit < 0 {
		return fmt.Errorf("%w: scenario %s: negative hop_limit", contracts.ErrMalformed, s.ID)
	}
	return nil
}

// Clone returns a deep-enough copy for variant generation: the top-level
// input maps are copied so variants can be edited independently.
func (s Scenario) Clone() Scenario {
	out := s
	out.Inputs = maps.Clone(s.Inputs)
	if s.NodeInputs != nil {
		out.NodeInputs = make(map[string]map[string]any, len(s.NodeInputs))
		for k, v := range s.NodeInputs {
			out.NodeInputs[k] = maps.Clone(v)
		}
	}
	return out
}

// ValidateScenarios checks every scenario and rejects duplicate ids.
func ValidateScenarios(scenarios []Scenario) error {
	seen := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate scenario id %q", contracts.ErrMalformed, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
