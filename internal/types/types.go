// Package types holds the values shared by every stage of the translation
// pipeline: prompt messages, inbound requests, failures and diagnostics.
package types

import (
	"time"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one role-tagged entry of the prompt sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the two-part message structure handed to the gateway.
// Instruction is fixed framing; Utterance is carried verbatim as user data
// and never merged into the instruction role.
type Prompt struct {
	Instruction string
	Utterance   string
}

// Messages renders the prompt as [system, user].
func (p Prompt) Messages() []Message {
	return []Message{
		{Role: RoleSystem, Content: p.Instruction},
		{Role: RoleUser, Content: p.Utterance},
	}
}

// CommandRequest is one inbound unit of work.
type CommandRequest struct {
	// Seq is the delivery order on the inbound topic, starting at 1.
	Seq uint64 `json:"seq"`
	// ID correlates logs, traces and diagnostics for this request.
	ID         string    `json:"id"`
	Utterance  string    `json:"utterance"`
	ReceivedAt time.Time `json:"received_at"`
}

// Diagnostic records a failed translation for the observability collaborator.
type Diagnostic struct {
	ID        string      `json:"id"`
	RequestID string      `json:"request_id"`
	Seq       uint64      `json:"seq"`
	Kind      FailureKind `json:"kind"`
	Stage     Stage       `json:"stage"`
	Utterance string      `json:"utterance"`
	Detail    string      `json:"detail"`
	Raw       string      `json:"raw,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
