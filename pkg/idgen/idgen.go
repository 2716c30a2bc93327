// Package idgen abstracts unique identifier generation so token ids, trace
// ids and request ids can be made deterministic in tests.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a fresh identifier on every call. Implementations must
// be safe for concurrent use.
type Generator interface {
	NewID() string
}

// UUID generates random (version 4) UUIDs. Token ids rely on these being
// unguessable.
type UUID struct{}

func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence yields prefix-1, prefix-2, ... and is intended for tests.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence returns a deterministic generator.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}
