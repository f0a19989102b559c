package tool

import (
	"context"

	"github.com/parlourhq/parlour/core"
)

// ToolDescriptor describes one capability exposed by an external server.
type ToolDescriptor struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
	DangerLevel      string         `json:"danger_level,omitempty"`
}

// ServerClient is the transport-agnostic view of a remote tool server.
// The external subpackage provides an HTTP/JSON implementation.
type ServerClient interface {
	// ListTools returns the capabilities the server exposes.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool executes a remote tool and returns its textual result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)

	// Ping checks server liveness for health reporting.
	Ping(ctx context.Context) error
}

// remoteTool adapts one external descriptor to the Tool interface under its
// server-qualified name.
type remoteTool struct {
	server     string
	client     ServerClient
	descriptor ToolDescriptor
}

func (t *remoteTool) Name() string               { return t.server + "." + t.descriptor.Name }
func (t *remoteTool) Description() string        { return t.descriptor.Description }
func (t *remoteTool) Parameters() map[string]any { return t.descriptor.Parameters }

func (t *remoteTool) ShouldConfirm(_ context.Context, _ map[string]any) (*core.ConfirmationDetails, error) {
	if !t.descriptor.RequiresApproval {
		return nil, nil
	}
	level := core.DangerLevel(t.descriptor.DangerLevel)
	if level == "" {
		level = core.DangerModerate
	}
	return &core.ConfirmationDetails{
		Message:           "Execute remote tool " + t.Name() + "?",
		DangerLevel:       level,
		AffectedResources: []string{t.server},
	}, nil
}

func (t *remoteTool) Call(ctx context.Context, args map[string]any, onOutput OutputHandler) (any, error) {
	result, err := t.client.CallTool(ctx, t.descriptor.Name, args)
	if err != nil {
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: "REMOTE_ERROR"}
	}
	if onOutput != nil && result != "" {
		onOutput(result)
	}
	return result, nil
}
