// Package tool implements the capability subsystem: the Tool interface,
// a function adapter with schema-validated arguments, and the process-wide
// Registry that merges locally implemented tools with tool sets exposed by
// external servers.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/internal/util"
)

// ErrToolNotFound signals that a requested tool is absent from both local
// and external sources. The scheduler maps it to a terminal error tool call
// rather than letting it unwind a batch.
var ErrToolNotFound = errors.New("tool not found")

// OutputHandler receives streamed output chunks from a running tool.
type OutputHandler func(chunk string)

// Tool is an executable capability the model can request by name.
//
// Implementations must be safe to run concurrently with sibling calls of the
// same batch, honor ctx cancellation, and keep ShouldConfirm free of side
// effects: nothing observable may happen until Call runs.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description is shown to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the accepted arguments.
	Parameters() map[string]any

	// ShouldConfirm reports whether this invocation needs human approval.
	// A nil result means the call may execute immediately.
	ShouldConfirm(ctx context.Context, args map[string]any) (*core.ConfirmationDetails, error)

	// Call executes the tool. onOutput may be nil; when set it receives
	// incremental output chunks as they are produced.
	Call(ctx context.Context, args map[string]any, onOutput OutputHandler) (any, error)
}

// ValidationError is re-exported so callers need not import internal/util.
type ValidationError = util.ValidationError

// ToolError represents errors raised during tool execution, categorized by code.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
