package vocab

import (
	"fmt"
	"strings"
)

// Sequence is an ordered list of actions; order is execution order.
type Sequence []Action

// String renders the wire format, e.g. "[move, turn_left]". Empty is "[]".
func (s Sequence) String() string {
	return Encode(s)
}

// Strings returns the action names in order.
func (s Sequence) Strings() []string {
	out := make([]string, len(s))
	for i, a := range s {
		out[i] = string(a)
	}
	return out
}

// Equal reports element-wise equality.
func (s Sequence) Equal(other Sequence) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Encode serializes seq for the outbound topic.
//
// Format (stable for downstream consumers): a single bracket pair holding
// the action names in execution order separated by ", ". Any payload that
// does not start with '[' is a fallback message, not a sequence.
func Encode(seq Sequence) string {
	return "[" + strings.Join(seq.Strings(), ", ") + "]"
}

// IsSequencePayload reports whether an outbound payload carries a sequence
// rather than a fallback message.
func IsSequencePayload(payload string) bool {
	p := strings.TrimSpace(payload)
	return strings.HasPrefix(p, "[") && strings.HasSuffix(p, "]")
}

// Decode parses a payload produced by Encode, rejecting unknown actions.
func Decode(v *Vocabulary, payload string) (Sequence, error) {
	p := strings.TrimSpace(payload)
	if !IsSequencePayload(p) {
		return nil, fmt.Errorf("not a sequence payload: %q", payload)
	}

	body := strings.TrimSpace(p[1 : len(p)-1])
	if body == "" {
		return Sequence{}, nil
	}

	parts := strings.Split(body, ",")
	seq := make(Sequence, 0, len(parts))
	for _, part := range parts {
		a, ok := v.Lookup(part)
		if !ok {
			return nil, fmt.Errorf("unknown action %q", strings.TrimSpace(part))
		}
		seq = append(seq, a)
	}
	return seq, nil
}
