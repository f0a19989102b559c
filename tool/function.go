package tool

import (
	"context"

	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/internal/util"
)

// Func is the implementation signature wrapped by FunctionTool.
type Func func(ctx context.Context, args map[string]any, onOutput OutputHandler) (any, error)

// ConfirmFunc decides whether one invocation needs human approval.
// Returning nil details means no approval is required.
type ConfirmFunc func(ctx context.Context, args map[string]any) (*core.ConfirmationDetails, error)

// FunctionTool adapts a plain Go function into a Tool. Arguments are
// validated against the parameter schema before the function runs; errors
// are normalized to *ToolError with consistent codes (VALIDATION_ERROR for
// schema mismatches, EXECUTION_ERROR for plain failures, custom codes
// preserved when the function returns *ToolError directly).
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
	confirm     ConfirmFunc
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
func NewFunctionTool(name, description string, parameters map[string]any, fn Func, optFns ...func(*FunctionTool)) *FunctionTool {
	t := &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
	for _, opt := range optFns {
		opt(t)
	}
	return t
}

// NewFunctionToolFromStruct derives the parameter schema from a struct's
// exported fields via reflection.
func NewFunctionToolFromStruct(name, description string, paramStruct any, fn Func, optFns ...func(*FunctionTool)) *FunctionTool {
	return NewFunctionTool(name, description, util.SchemaFromStruct(paramStruct), fn, optFns...)
}

// WithConfirmation attaches an approval predicate to the tool.
func WithConfirmation(confirm ConfirmFunc) func(*FunctionTool) {
	return func(t *FunctionTool) { t.confirm = confirm }
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// ShouldConfirm implements Tool; without an attached predicate no approval
// is ever required.
func (t *FunctionTool) ShouldConfirm(ctx context.Context, args map[string]any) (*core.ConfirmationDetails, error) {
	if t.confirm == nil {
		return nil, nil
	}
	return t.confirm(ctx, args)
}

// Call validates args against the schema and invokes the wrapped function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any, onOutput OutputHandler) (any, error) {
	if t.parameters != nil {
		if err := util.ValidateParameters(args, t.parameters); err != nil {
			return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "VALIDATION_ERROR"}
		}
	}
	result, err := t.fn(ctx, args, onOutput)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	return result, nil
}
