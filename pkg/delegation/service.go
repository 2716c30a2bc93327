// Package delegation mints and verifies hop-limited delegation envelopes.
package delegation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
)

// Service signs delegation envelopes over their canonical tuple.
type Service struct {
	signer crypto.Signer
}

func NewService(signer crypto.Signer) *Service {
	return &Service{signer: signer}
}

// CanonicalTuple is the exact byte string covered by an envelope signature.
func CanonicalTuple(e contracts.DelegationEnvelope) []byte {
	return []byte(strings.Join([]string{
		e.Origin,
		e.Task,
		strconv.Itoa(e.HopLimit),
		e.PolicyHash,
		e.Version,
	}, "|"))
}

// Mint signs a fresh envelope.
func (s *Service) Mint(origin, task string, hopLimit int, policyHash string) (contracts.DelegationEnvelope, error) {
	if hopLimit < 0 {
		return contracts.DelegationEnvelope{}, fmt.Errorf("%w: hop_limit %d is negative", contracts.ErrMalformed, hopLimit)
	}
	for name, v := range map[string]string{"origin": origin, "task": task, "policy_hash": policyHash} {
		if strings.Contains(v, "|") {
			return contracts.DelegationEnvelope{}, fmt.Errorf("%w: %s contains the tuple separator", contracts.ErrMalformed, name)
		}
	}
	return s.sign(contracts.DelegationEnvelope{
		Origin:     origin,
		Task:       task,
		HopLimit:   hopLimit,
		PolicyHash: policyHash,
		Version:    contracts.DelegationVersion,
	}), nil
}

// Redelegate returns a new envelope one hop closer to exhaustion. de itself
// is never modified.
func (s *Service) Redelegate(de contracts.DelegationEnvelope) (contracts.DelegationEnvelope, error) {
	if de.HopLimit <= 0 {
		return contracts.DelegationEnvelope{}, fmt.Errorf("%w: task %s from %s", contracts.ErrHopLimitExceeded, de.Task, de.Origin)
	}
	next := de
	next.HopLimit = de.HopLimit - 1
	next.Signature = ""
	return s.sign(next), nil
}

// Verify reports whether the envelope's signature matches its fields.
func (s *Service) Verify(de contracts.DelegationEnvelope) bool {
	if de.HopLimit < 0 || de.Version != contracts.DelegationVersion {
		return false
	}
	return crypto.VerifyHex(s.signer, CanonicalTuple(de), de.Signature)
}

// Authorize verifies the envelope and checks it still permits a further
// hop. A zero-hop envelope is structurally valid but authorizes nothing.
func (s *Service) Authorize(de contracts.DelegationEnvelope) error {
	if !s.Verify(de) {
		return fmt.Errorf("%w: delegation envelope for task %s", contracts.ErrInvalidSignature, de.Task)
	}
	if de.HopLimit <= 0 {
		return fmt.Errorf("%w: task %s has no hops remaining", contracts.ErrHopLimitExceeded, de.Task)
	}
	return nil
}

func (s *Service) sign(e contracts.DelegationEnvelope) contracts.DelegationEnvelope {
	e.Signature = crypto.SignHex(s.signer, CanonicalTuple(e))
	return e
}
