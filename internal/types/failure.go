package types

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a translation did not produce an action sequence.
type FailureKind string

const (
	// FailureGatewayUnavailable: network/transport fault or timeout reaching the model.
	FailureGatewayUnavailable FailureKind = "gateway_unavailable"
	// FailureGatewayError: the service answered with an error status or a malformed envelope.
	FailureGatewayError FailureKind = "gateway_error"
	// FailureMalformedResponse: bracketed content present but nothing in it was a known action.
	FailureMalformedResponse FailureKind = "malformed_response"
	// FailureEmptyOrUnparseable: empty output, no bracketed content, or a rejected empty list.
	FailureEmptyOrUnparseable FailureKind = "empty_or_unparseable"
)

// FailureKinds lists every kind in a stable order.
var FailureKinds = []FailureKind{
	FailureGatewayUnavailable,
	FailureGatewayError,
	FailureMalformedResponse,
	FailureEmptyOrUnparseable,
}

// Valid reports whether k is one of the known kinds.
func (k FailureKind) Valid() bool {
	for _, known := range FailureKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Stage names the pipeline state a failure was raised in.
type Stage string

const (
	StageReceived      Stage = "received"
	StagePrompting     Stage = "prompting"
	StageAwaitingModel Stage = "awaiting_model"
	StagePublishing    Stage = "publishing"
)

// TranslationFailure is the tagged failure outcome of one translation attempt.
// It exists only as a function result and is never persisted as-is.
type TranslationFailure struct {
	Kind  FailureKind
	Stage Stage
	// Err is the upstream cause, if any.
	Err error
	// Raw is the model text that failed validation, if any.
	Raw string
}

// NewFailure builds a TranslationFailure.
func NewFailure(kind FailureKind, stage Stage, err error, raw string) *TranslationFailure {
	return &TranslationFailure{Kind: kind, Stage: stage, Err: err, Raw: raw}
}

func (f *TranslationFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s at %s: %v", f.Kind, f.Stage, f.Err)
	}
	return fmt.Sprintf("%s at %s", f.Kind, f.Stage)
}

func (f *TranslationFailure) Unwrap() error {
	return f.Err
}

// Is matches any TranslationFailure of the same kind, so callers can write
// errors.Is(err, types.ErrGatewayUnavailable).
func (f *TranslationFailure) Is(target error) bool {
	t, ok := target.(*TranslationFailure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrGatewayUnavailable = &TranslationFailure{Kind: FailureGatewayUnavailable}
	ErrGatewayError       = &TranslationFailure{Kind: FailureGatewayError}
	ErrMalformedResponse  = &TranslationFailure{Kind: FailureMalformedResponse}
	ErrEmptyOrUnparseable = &TranslationFailure{Kind: FailureEmptyOrUnparseable}
)

// AsFailure extracts the TranslationFailure from an error chain.
func AsFailure(err error) (*TranslationFailure, bool) {
	var f *TranslationFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
