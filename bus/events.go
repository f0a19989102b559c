package bus

import (
	"time"

	"github.com/parlourhq/parlour/core"
)

// Event is the closed set of publishable payloads. Each payload struct maps
// to exactly one Kind. Events are immutable once published; handlers must
// treat them as read-only.
type Event interface {
	EventKind() Kind
	Meta() EventMeta
}

// EventMeta carries fields common to every event.
type EventMeta struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewMeta stamps an event with the current time and an optional correlation id.
func NewMeta(correlationID string) EventMeta {
	return EventMeta{Timestamp: time.Now().UTC(), CorrelationID: correlationID}
}

// Meta implements Event for embedding structs.
func (m EventMeta) Meta() EventMeta { return m }

// ToolRegistered announces a newly registered local tool.
type ToolRegistered struct {
	EventMeta
	Name string
}

func (ToolRegistered) EventKind() Kind { return KindToolRegistered }

// ExternalServerRegistered announces a merged remote tool server.
type ExternalServerRegistered struct {
	EventMeta
	Server    string
	ToolCount int
}

func (ExternalServerRegistered) EventKind() Kind { return KindExternalServerRegistered }

// ToolPermissionRequest asks the outside world to approve a tool call.
type ToolPermissionRequest struct {
	EventMeta
	MessageID           string
	ToolCallID          string
	ConfirmationDetails core.ConfirmationDetails
}

func (ToolPermissionRequest) EventKind() Kind { return KindToolPermissionRequest }

// ToolOutputUpdate carries one streamed output chunk from a running tool.
type ToolOutputUpdate struct {
	EventMeta
	MessageID   string
	ToolCallID  string
	OutputChunk string
}

func (ToolOutputUpdate) EventKind() Kind { return KindToolOutputUpdate }

// ToolCallsUpdate is published after any state transition within a batch.
type ToolCallsUpdate struct {
	EventMeta
	MessageID string
	ToolCalls []core.ToolCall
}

func (ToolCallsUpdate) EventKind() Kind { return KindToolCallsUpdate }

// ToolCallsComplete is published exactly once when a batch fully terminates.
type ToolCallsComplete struct {
	EventMeta
	MessageID          string
	CompletedToolCalls []core.CompletedToolCall
}

func (ToolCallsComplete) EventKind() Kind { return KindToolCallsComplete }

// SessionUpdated announces a session status or content change.
type SessionUpdated struct {
	EventMeta
	SessionID  string
	UpdateType string
	Status     core.SessionStatus
	Session    *core.Session
}

func (SessionUpdated) EventKind() Kind { return KindSessionUpdated }

// UserPrompt is a client-originated record of a submitted message.
type UserPrompt struct {
	EventMeta
	SessionID string
	Content   string
}

func (UserPrompt) EventKind() Kind { return KindUserPrompt }

// ToolConfirmation is a client-originated approval decision.
type ToolConfirmation struct {
	EventMeta
	SessionID  string
	ToolCallID string
	Approved   bool
}

func (ToolConfirmation) EventKind() Kind { return KindToolConfirmation }
