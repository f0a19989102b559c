package core

import "time"

// ToolCallState names a position in the tool call lifecycle lattice.
// Transitions only move forward; terminal states are never left.
type ToolCallState string

const (
	// StateValidating is the initial state while the scheduler probes
	// whether the invocation needs confirmation.
	StateValidating ToolCallState = "validating"
	// StateScheduled means the call is cleared for execution.
	StateScheduled ToolCallState = "scheduled"
	// StateAwaitingApproval means the call is parked until a human decides.
	StateAwaitingApproval ToolCallState = "awaiting_approval"
	// StateExecuting means the tool is currently running.
	StateExecuting ToolCallState = "executing"
	// StateSuccess is the terminal state of a call that completed normally.
	StateSuccess ToolCallState = "success"
	// StateError is the terminal state of a call that failed or was unresolvable.
	StateError ToolCallState = "error"
	// StateCancelled is the terminal state of a denied or aborted call.
	StateCancelled ToolCallState = "cancelled"
)

// Terminal reports whether the state can never be left again.
func (s ToolCallState) Terminal() bool {
	return s == StateSuccess || s == StateError || s == StateCancelled
}

// DangerLevel grades how destructive an approval-gated invocation may be.
type DangerLevel string

const (
	// DangerLow marks read-only or easily reversible operations.
	DangerLow DangerLevel = "low"
	// DangerModerate marks operations that mutate local state.
	DangerModerate DangerLevel = "moderate"
	// DangerHigh marks operations with external or irreversible effects.
	DangerHigh DangerLevel = "high"
)

// ConfirmationDetails describes an approval request shown to the user.
// It is pure data; resumption happens by CallID through the scheduler.
type ConfirmationDetails struct {
	Message           string      `json:"message"`
	DangerLevel       DangerLevel `json:"danger_level"`
	AffectedResources []string    `json:"affected_resources,omitempty"`
	DiffPreview       string      `json:"diff_preview,omitempty"`
}

// ToolResponse is the payload carried by terminal tool call states.
type ToolResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToolCall is the closed sum over the lifecycle states of one scheduled
// invocation. Concrete variants carry only the fields valid for their state;
// consumers switch exhaustively on the variant type.
type ToolCall interface {
	State() ToolCallState
	Request() ToolCallRequest
	isToolCall()
}

// CompletedToolCall narrows ToolCall to the three terminal variants.
type CompletedToolCall interface {
	ToolCall
	Response() ToolResponse
	Duration() time.Duration
}

// ValidatingToolCall is a call whose confirmation requirement is being probed.
type ValidatingToolCall struct {
	Req       ToolCallRequest
	StartedAt time.Time
}

func (c ValidatingToolCall) State() ToolCallState     { return StateValidating }
func (c ValidatingToolCall) Request() ToolCallRequest { return c.Req }
func (ValidatingToolCall) isToolCall()                {}

// ScheduledToolCall is a call cleared for execution but not yet running.
type ScheduledToolCall struct {
	Req       ToolCallRequest
	StartedAt time.Time
}

func (c ScheduledToolCall) State() ToolCallState     { return StateScheduled }
func (c ScheduledToolCall) Request() ToolCallRequest { return c.Req }
func (ScheduledToolCall) isToolCall()                {}

// AwaitingApprovalToolCall is a call parked pending a human decision.
type AwaitingApprovalToolCall struct {
	Req       ToolCallRequest
	Details   ConfirmationDetails
	StartedAt time.Time
}

func (c AwaitingApprovalToolCall) State() ToolCallState     { return StateAwaitingApproval }
func (c AwaitingApprovalToolCall) Request() ToolCallRequest { return c.Req }
func (AwaitingApprovalToolCall) isToolCall()                {}

// ExecutingToolCall is a live call; Output accumulates streamed chunks.
type ExecutingToolCall struct {
	Req       ToolCallRequest
	Output    string
	StartedAt time.Time
}

func (c ExecutingToolCall) State() ToolCallState     { return StateExecuting }
func (c ExecutingToolCall) Request() ToolCallRequest { return c.Req }
func (ExecutingToolCall) isToolCall()                {}

// SuccessToolCall is the terminal variant of a call that completed normally.
type SuccessToolCall struct {
	Req     ToolCallRequest
	Resp    ToolResponse
	Elapsed time.Duration
}

func (c SuccessToolCall) State() ToolCallState     { return StateSuccess }
func (c SuccessToolCall) Request() ToolCallRequest { return c.Req }
func (c SuccessToolCall) Response() ToolResponse   { return c.Resp }
func (c SuccessToolCall) Duration() time.Duration  { return c.Elapsed }
func (SuccessToolCall) isToolCall()                {}

// ErroredToolCall is the terminal variant of a failed or unresolvable call.
type ErroredToolCall struct {
	Req     ToolCallRequest
	Resp    ToolResponse
	Elapsed time.Duration
}

func (c ErroredToolCall) State() ToolCallState     { return StateError }
func (c ErroredToolCall) Request() ToolCallRequest { return c.Req }
func (c ErroredToolCall) Response() ToolResponse   { return c.Resp }
func (c ErroredToolCall) Duration() time.Duration  { return c.Elapsed }
func (ErroredToolCall) isToolCall()                {}

// CancelledToolCall is the terminal variant of a denied or aborted call.
type CancelledToolCall struct {
	Req     ToolCallRequest
	Resp    ToolResponse
	Elapsed time.Duration
}

func (c CancelledToolCall) State() ToolCallState     { return StateCancelled }
func (c CancelledToolCall) Request() ToolCallRequest { return c.Req }
func (c CancelledToolCall) Response() ToolResponse   { return c.Resp }
func (c CancelledToolCall) Duration() time.Duration  { return c.Elapsed }
func (CancelledToolCall) isToolCall()                {}

// ToToolResult converts a completed call into the message-log form handed
// back to the model.
func ToToolResult(c CompletedToolCall) ToolResult {
	resp := c.Response()
	return ToolResult{
		CallID: c.Request().CallID,
		Name:   c.Request().Name,
		Result: resp.Result,
		Error:  resp.Error,
	}
}
