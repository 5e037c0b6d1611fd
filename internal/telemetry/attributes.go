package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on pupper spans.
const (
	RequestSeqKey   = "pupper.request.seq"
	RequestIDKey    = "pupper.request.id"
	UtteranceLenKey = "pupper.utterance.length"

	StageKey       = "pupper.stage"
	OutcomeKey     = "pupper.outcome"
	FailureKindKey = "pupper.failure.kind"
	ActionCountKey = "pupper.actions.count"
	DroppedKey     = "pupper.actions.dropped"

	ProviderKey = "llm.provider"
	ModelKey    = "llm.model"
)

// RequestAttributes describes an inbound request. The utterance itself is
// not recorded, only its length.
func RequestAttributes(seq uint64, id string, utteranceLen int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(RequestSeqKey, int64(seq)),
		attribute.String(RequestIDKey, id),
		attribute.Int(UtteranceLenKey, utteranceLen),
	}
}

// OutcomeAttributes describes how a translation ended. kind is empty on success.
func OutcomeAttributes(outcome, kind string, actions, dropped int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(OutcomeKey, outcome),
		attribute.Int(ActionCountKey, actions),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(FailureKindKey, kind))
	}
	if dropped > 0 {
		attrs = append(attrs, attribute.Int(DroppedKey, dropped))
	}
	return attrs
}

// GatewayAttributes describes a model call.
func GatewayAttributes(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProviderKey, provider),
		attribute.String(ModelKey, model),
	}
}
