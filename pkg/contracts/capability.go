// Package contracts holds the wire types shared by the trust layer, the
// runner, the gateway and the evaluator: capability claims, delegation
// envelopes, provenance records, traces and action contracts.
package contracts

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Protocol revision tags.
const (
	CapabilityVersion = "aiep-ct-1"
	DelegationVersion = "aiep-de-1"
	ProvenanceVersion = "aiep-pr-1"
)

// CapabilityClaims is the payload of a capability token. The registered
// claims carry issuer, subject, issued-at, expiry and the unique token id.
type CapabilityClaims struct {
	jwt.RegisteredClaims
	Action   string         `json:"act"`
	Resource string         `json:"res"`
	Scope    []string       `json:"scope"`
	Limits   map[string]any `json:"limits,omitempty"`
	Version  string         `json:"ver"`
}

// Expiry returns the expiry as a time, or the zero time when absent.
func (c *CapabilityClaims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// IssuedAtTime returns the issued-at claim, or the zero time when absent.
func (c *CapabilityClaims) IssuedAtTime() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// ScopeEquals reports whether the token scope and want are equal as sets.
func (c *CapabilityClaims) ScopeEquals(want []string) bool {
	return SameSet(c.Scope, want)
}

// SameSet compares two string slices as sets.
func SameSet(a, b []string) bool {
	x := dedupSorted(a)
	y := dedupSorted(b)
	return slices.Equal(x, y)
}

func dedupSorted(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
