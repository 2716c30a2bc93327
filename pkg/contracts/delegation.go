package contracts

// DelegationEnvelope authorizes handing a task to a downstream agent. Values
// are immutable: every hop produces a new envelope with its own signature.
type DelegationEnvelope struct {
	Origin     string `json:"origin" yaml:"origin"`
	Task       string `json:"task" yaml:"task"`
	HopLimit   int    `json:"hop_limit" yaml:"hop_limit"`
	PolicyHash string `json:"policy_hash" yaml:"policy_hash"`
	Version    string `json:"ver" yaml:"ver"`
	Signature  string `json:"sig" yaml:"sig"`
}

// Context is the projection of the envelope attached to provenance records.
func (e DelegationEnvelope) Context() *DelegationContext {
	return &DelegationContext{
		Origin:       e.Origin,
		Task:         e.Task,
		HopRemaining: e.HopLimit,
		PolicyHash:   e.PolicyHash,
	}
}

// DelegationContext records which delegation authorized an action.
type DelegationContext struct {
	Origin       string `json:"origin"`
	Task         string `json:"task"`
	HopRemaining int    `json:"hop_remaining"`
	PolicyHash   string `json:"policy_hash"`
}
