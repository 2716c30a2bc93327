package contracts

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ActionContract declares an action's interface and behavioural metadata.
// It is read-only configuration loaded once per run.
type ActionContract struct {
	Name          string         `json:"name" yaml:"name"`
	Version       string         `json:"version" yaml:"version"`
	Description   string         `json:"description,omitempty" yaml:"description"`
	Inputs        map[string]any `json:"inputs,omitempty" yaml:"inputs"`
	Outputs       map[string]any `json:"outputs,omitempty" yaml:"outputs"`
	Preconditions []string       `json:"preconditions,omitempty" yaml:"preconditions"`
	SideEffects   []string       `json:"side_effects,omitempty" yaml:"side_effects"`
	Idempotent    *bool          `json:"idempotent,omitempty" yaml:"idempotent"`
	Compensation  string         `json:"compensation,omitempty" yaml:"compensation"`

	// Capability the action requires. Empty fields fall back to defaults
	// derived from Name.
	Act   string   `json:"act,omitempty" yaml:"act"`
	Res   string   `json:"res,omitempty" yaml:"res"`
	Scope []string `json:"scope,omitempty" yaml:"scope"`
}

// IsIdempotent defaults to true when unset.
func (c ActionContract) IsIdempotent() bool {
	return c.Idempotent == nil || *c.Idempotent
}

// Capability returns the act, res and scope a token must carry to invoke
// this action.
func (c ActionContract) Capability() (act, res string, scope []string) {
	act = c.Act
	if act == "" {
		act = c.Name
	}
	res = c.Res
	if res == "" {
		res = c.Name + ":*"
	}
	scope = c.Scope
	if len(scope) == 0 {
		scope = []string{strings.ReplaceAll(c.Name, "_", ".")}
	}
	return act, res, scope
}

// Validate checks the fields a contract must carry.
func (c ActionContract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: contract name is required", ErrMalformed)
	}
	if c.Version == "" {
		return fmt.Errorf("%w: contract %s: version is required", ErrMalformed, c.Name)
	}
	if _, err := semver.NewVersion(c.Version); err != nil {
		return fmt.Errorf("%w: contract %s: version %q: %v", ErrMalformed, c.Name, c.Version, err)
	}
	if c.Compensation == c.Name {
		return fmt.Errorf("%w: contract %s compensates itself", ErrMalformed, c.Name)
	}
	return nil
}

// ContractSet indexes contracts by action name.
type ContractSet map[string]ActionContract

// Lookup returns the contract for action, or a default contract carrying
// only the name when none was declared.
func (s ContractSet) Lookup(action string) (ActionContract, bool) {
	c, ok := s[action]
	if !ok {
		return ActionContract{Name: action, Version: "0.0.0"}, false
	}
	return c, true
}

// ExpectedScope returns the scope a token for action must carry.
func (s ContractSet) ExpectedScope(action string) []string {
	c, _ := s.Lookup(action)
	_, _, scope := c.Capability()
	return scope
}
