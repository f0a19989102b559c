package engine

import "github.com/parlourhq/parlour/core"

// TurnInput is the closed set of inputs a turn can start from: a fresh user
// message, the results of a completed tool call batch, or a continue signal
// that appends nothing and simply re-invokes the model on the existing log.
type TurnInput interface{ isTurnInput() }

// UserInput starts a turn from a user-authored message.
type UserInput struct {
	Content string
}

func (UserInput) isTurnInput() {}

// ToolResultsInput starts a turn from the results of an executed batch.
type ToolResultsInput struct {
	Results []core.ToolResult
}

func (ToolResultsInput) isTurnInput() {}

// ContinueInput re-invokes the model without appending a message.
type ContinueInput struct{}

func (ContinueInput) isTurnInput() {}
