package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Status values an adapter may report. Anything other than StatusOK fails
// the scenario.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Invocation is what an adapter receives for one node.
type Invocation struct {
	TraceID    string
	NodeID     string
	Agent      string
	Action     string
	Inputs     map[string]any
	Token      string
	Claims     *contracts.CapabilityClaims
	Delegation *contracts.DelegationEnvelope
}

// Outcome is what an adapter reports back.
type Outcome struct {
	Status  string
	Output  map[string]any
	CostUSD float64
	CostMS  float64
}

// Adapter performs an action. Errors mean the action could not be
// attempted at all; a failed attempt is an Outcome with a non-ok status.
type Adapter interface {
	Invoke(ctx context.Context, inv Invocation) (Outcome, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, inv Invocation) (Outcome, error)

func (f AdapterFunc) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	return f(ctx, inv)
}

// Adapters routes actions to adapters, falling back to Default.
type Adapters struct {
	byAction map[string]Adapter
	Default  Adapter
}

// NewAdapters returns the built-in set: send_email plus a simulated default.
func NewAdapters() *Adapters {
	return &Adapters{
		byAction: map[string]Adapter{"send_email": SendEmail{CostUSD: 0.001, CostMS: 120}},
		Default:  Simulated{CostUSD: 0.001, CostMS: 50},
	}
}

// Register sets the adapter for action.
func (a *Adapters) Register(action string, ad Adapter) *Adapters {
	a.byAction[action] = ad
	return a
}

// For resolves the adapter for action.
func (a *Adapters) For(action string) Adapter {
	if ad, ok := a.byAction[action]; ok {
		return ad
	}
	return a.Default
}

// Simulated succeeds for any action with a fixed cost. Nodes may set
// "simulate_status", "simulate_cost_usd" or "simulate_output" inputs to
// shape the outcome.
type Simulated struct {
	CostUSD float64
	CostMS  float64
}

func (s Simulated) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Status:  StatusOK,
		Output:  map[string]any{"message": fmt.Sprintf("simulated output for %s", inv.Action)},
		CostUSD: s.CostUSD,
		CostMS:  s.CostMS,
	}
	if st, ok := contracts.StringField(inv.Inputs, "simulate_status"); ok {
		out.Status = st
	}
	if _, ok := inv.Inputs["simulate_cost_usd"]; ok {
		out.CostUSD = contracts.NumberField(inv.Inputs, "simulate_cost_usd")
	}
	if extra, ok := inv.Inputs["simulate_output"].(map[string]any); ok {
		for k, v := range extra {
			out.Output[k] = v
		}
	}
	return out, nil
}

// SendEmail simulates an outbound mail provider. It validates the message
// shape the way a provider API would and never delivers anything.
type SendEmail struct {
	CostUSD float64
	CostMS  float64
}

func (s SendEmail) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	to, _ := contracts.StringField(inv.Inputs, "to")
	if !strings.Contains(to, "@") {
		return Outcome{
			Status: StatusError,
			Output: map[string]any{"error": fmt.Sprintf("invalid recipient %q", to)},
			CostMS: s.CostMS,
		}, nil
	}
	if _, ok := contracts.StringField(inv.Inputs, "body"); !ok {
		return Outcome{Status: StatusError, Output: map[string]any{"error": "body is required"}, CostMS: s.CostMS}, nil
	}
	return Outcome{
		Status:  StatusOK,
		Output:  map[string]any{"message_id": fmt.Sprintf("msg-%s-%s", inv.TraceID, inv.NodeID), "to": to},
		CostUSD: s.CostUSD,
		CostMS:  s.CostMS,
	}, nil
}
