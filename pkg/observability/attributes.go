package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

var (
	AttrOperation  = attribute.Key("avs.operation")
	AttrErrorKind  = attribute.Key("avs.error.kind")
	AttrScenarioID = attribute.Key("avs.scenario.id")
	AttrVariantOf  = attribute.Key("avs.scenario.variant_of")
	AttrAgent      = attribute.Key("avs.agent")
	AttrAction     = attribute.Key("avs.action")
	AttrRoute      = attribute.Key("avs.gateway.route")
)

// ScenarioOperation creates attributes for one scenario execution.
func ScenarioOperation(scenarioID, variantOf string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrScenarioID.String(scenarioID)}
	if variantOf != "" {
		attrs = append(attrs, AttrVariantOf.String(variantOf))
	}
	return attrs
}

// ActionOperation creates attributes for one adapter invocation.
func ActionOperation(agent, action string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrAgent.String(agent), AttrAction.String(action)}
}

// GatewayOperation creates attributes for one gateway request.
func GatewayOperation(route string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrRoute.String(route)}
}

// errorKind names err for metrics. Context cancellation is reported as
// Cancelled instead of falling through to Internal.
func errorKind(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return string(contracts.KindCancelled)
	}
	return string(contracts.Kind(err))
}
