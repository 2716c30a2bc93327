package runner

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/avs/pkg/capability"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// TokenSource mints capability tokens. The local implementation signs
// in-process; the gateway client mints remotely.
type TokenSource interface {
	Mint(ctx context.Context, req capability.IssueRequest) (capability.Token, error)
}

// LocalTokens issues tokens with an in-process capability service.
type LocalTokens struct {
	Service *capability.Service
}

func (l LocalTokens) Mint(ctx context.Context, req capability.IssueRequest) (capability.Token, error) {
	return l.Service.Issue(ctx, req)
}

// RecordSink receives every emitted provenance record. Failures are
// counted against the scenario, never fatal to it.
type RecordSink interface {
	Ingest(ctx context.Context, rec contracts.ProvenanceRecord) error
}

// Expander turns one scenario into the scenarios to execute. It always
// returns at least the original; notes explain any degradation.
type Expander interface {
	Expand(ctx context.Context, s Scenario) ([]Scenario, []string)
}

// Tracker opens a span around an operation; the returned func closes it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}
