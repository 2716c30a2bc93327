package contracts

import "errors"

// Protocol error taxonomy. Callers match with errors.Is; every error
// returned by the trust layer wraps exactly one of these.
var (
	ErrMalformed           = errors.New("malformed")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrExpired             = errors.New("expired")
	ErrHopLimitExceeded    = errors.New("hop limit exceeded")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrGenerationFailure   = errors.New("generation failure")
	ErrCyclicGraph         = errors.New("cyclic graph")
	ErrPreconditionFailed  = errors.New("precondition failed")
)

// ErrorKind is the stable, machine-readable name of an error class. It is
// what reports and HTTP error bodies carry.
type ErrorKind string

const (
	KindMalformed           ErrorKind = "Malformed"
	KindInvalidSignature    ErrorKind = "InvalidSignature"
	KindExpired             ErrorKind = "Expired"
	KindHopLimitExceeded    ErrorKind = "HopLimitExceeded"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindGenerationFailure   ErrorKind = "GenerationFailure"
	KindCyclicGraph         ErrorKind = "CyclicGraph"
	KindPreconditionFailed  ErrorKind = "PreconditionFailed"
	KindInvariantViolation  ErrorKind = "InvariantViolation"
	KindCancelled           ErrorKind = "Cancelled"
	KindInternal            ErrorKind = "Internal"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	// Integrity first: a wrapped chain carrying both a signature failure and
	// something weaker reports the signature failure.
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrMalformed, KindMalformed},
	{ErrExpired, KindExpired},
	{ErrHopLimitExceeded, KindHopLimitExceeded},
	{ErrCyclicGraph, KindCyclicGraph},
	{ErrPreconditionFailed, KindPreconditionFailed},
	{ErrUpstreamUnavailable, KindUpstreamUnavailable},
	{ErrGenerationFailure, KindGenerationFailure},
}

// Kind classifies err. Nil yields the empty kind.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// FromKind returns the sentinel for a kind received over the wire, or nil
// when the kind has no sentinel.
func FromKind(kind ErrorKind) error {
	for _, entry := range kindTable {
		if entry.kind == kind {
			return entry.err
		}
	}
	return nil
}
