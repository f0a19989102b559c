package core

// ConversationResult is the closed sum returned by a turn of the
// conversation engine.
type ConversationResult interface{ isConversationResult() }

// Complete carries the model's final answer for the turn.
type Complete struct {
	Content string
}

func (Complete) isConversationResult() {}

// WaitingConfirmation signals that one or more tool calls are parked until
// the user approves or denies them.
type WaitingConfirmation struct {
	ToolCalls []AwaitingApprovalToolCall
}

func (WaitingConfirmation) isConversationResult() {}

// MaxTurnsReached signals that the session's turn budget is exhausted.
type MaxTurnsReached struct{}

func (MaxTurnsReached) isConversationResult() {}
