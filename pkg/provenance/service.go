// Package provenance builds the hashed and signed audit entry emitted for
// every executed action.
package provenance

import (
	"fmt"

	"github.com/Mindburn-Labs/avs/pkg/canonicalize"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
)

// Service emits and verifies provenance records. Persistence is the
// caller's concern.
type Service struct {
	signer crypto.Signer
}

func NewService(signer crypto.Signer) *Service {
	return &Service{signer: signer}
}

// Hash returns the SHA-256 hex digest of the RFC 8785 form of rec with hash
// and sig excluded. Nil and empty bags hash identically.
func Hash(rec contracts.ProvenanceRecord) (string, error) {
	h, err := canonicalize.CanonicalHash(unsigned(rec))
	if err != nil {
		return "", fmt.Errorf("%w: hash provenance record: %v", contracts.ErrMalformed, err)
	}
	return h, nil
}

func unsigned(rec contracts.ProvenanceRecord) contracts.ProvenanceRecord {
	rec.Hash = ""
	rec.Sig = ""
	if rec.Inputs == nil {
		rec.Inputs = map[string]any{}
	}
	if rec.Result == nil {
		rec.Result = map[string]any{}
	}
	if rec.PoliciesChecked == nil {
		rec.PoliciesChecked = []string{}
	}
	return rec
}

// Emit stamps the protocol version, hashes rec and signs the hash. The
// returned record is complete; rec's bags are shared, not copied.
func (s *Service) Emit(rec contracts.ProvenanceRecord) (contracts.ProvenanceRecord, error) {
	if rec.Timestamp == "" || rec.Agent == "" || rec.Action == "" {
		return contracts.ProvenanceRecord{}, fmt.Errorf("%w: ts, agent and action are required", contracts.ErrMalformed)
	}
	if _, err := rec.Time(); err != nil {
		return contracts.ProvenanceRecord{}, err
	}
	rec = unsigned(rec)
	rec.Version = contracts.ProvenanceVersion

	h, err := Hash(rec)
	if err != nil {
		return contracts.ProvenanceRecord{}, err
	}
	rec.Hash = h
	rec.Sig = crypto.SignHex(s.signer, []byte(h))
	return rec, nil
}

// Verify recomputes the hash and checks the signature over it.
func (s *Service) Verify(rec contracts.ProvenanceRecord) error {
	if rec.Version != contracts.ProvenanceVersion {
		return fmt.Errorf("%w: unsupported record version %q", contracts.ErrMalformed, rec.Version)
	}
	h, err := Hash(rec)
	if err != nil {
		return err
	}
	if h != rec.Hash {
		return fmt.Errorf("%w: hash mismatch", contracts.ErrInvalidSignature)
	}
	if !crypto.VerifyHex(s.signer, []byte(rec.Hash), rec.Sig) {
		return fmt.Errorf("%w: record signature", contracts.ErrInvalidSignature)
	}
	return nil
}
