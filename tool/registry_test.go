package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlourhq/parlour/bus"
	"github.com/parlourhq/parlour/core"
)

func echoTool() *FunctionTool {
	return NewFunctionTool("echo", "echo back the input", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}, func(ctx context.Context, args map[string]any, onOutput OutputHandler) (any, error) {
		return args["text"], nil
	})
}

type fakeServer struct {
	tools    []ToolDescriptor
	listErr  error
	pingErr  error
	lastCall string
}

func (f *fakeServer) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return f.tools, f.listErr
}

func (f *fakeServer) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	f.lastCall = name
	return "remote:" + name, nil
}

func (f *fakeServer) Ping(ctx context.Context) error { return f.pingErr }

func TestRegistry_RegisterAndGet(t *testing.T) {
	b := bus.New()
	var events []bus.Kind
	b.Subscribe(bus.KindToolRegistered, func(ev bus.Event) error {
		events = append(events, ev.EventKind())
		return nil
	})

	r := NewRegistry(func(o *RegistryOptions) { o.Bus = b })
	require.NoError(t, r.RegisterTool("echo", echoTool(), nil))

	got, err := r.GetTool("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name())
	assert.Equal(t, []bus.Kind{bus.KindToolRegistered}, events)

	_, err = r.GetTool("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_ConfirmationLogicWrapsTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool("echo", echoTool(), &Metadata{
		ConfirmationLogic: func(ctx context.Context, args map[string]any) (*core.ConfirmationDetails, error) {
			return &core.ConfirmationDetails{Message: "sure?", DangerLevel: core.DangerHigh}, nil
		},
	}))

	got, err := r.GetTool("echo")
	require.NoError(t, err)
	details, err := got.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, core.DangerHigh, details.DangerLevel)

	// Execution still flows through to the wrapped tool.
	result, err := got.Call(context.Background(), map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestRegistry_ExternalServerMerge(t *testing.T) {
	b := bus.New()
	var serverEvents int
	b.Subscribe(bus.KindExternalServerRegistered, func(ev bus.Event) error {
		serverEvents++
		return nil
	})

	r := NewRegistry(func(o *RegistryOptions) { o.Bus = b })
	require.NoError(t, r.RegisterTool("echo", echoTool(), nil))

	srv := &fakeServer{tools: []ToolDescriptor{
		{Name: "search", Description: "search"},
		{Name: "purge", RequiresApproval: true, DangerLevel: "high"},
	}}
	require.NoError(t, r.RegisterExternalServer(context.Background(), "idx", srv))
	assert.Equal(t, 1, serverEvents)

	remote, err := r.GetTool("idx.search")
	require.NoError(t, err)
	result, err := remote.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "remote:search", result)
	assert.Equal(t, "search", srv.lastCall)

	gated, err := r.GetTool("idx.purge")
	require.NoError(t, err)
	details, err := gated.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, core.DangerHigh, details.DangerLevel)
}

func TestRegistry_ExternalServerFailureLeavesRegistryIntact(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool("echo", echoTool(), nil))

	err := r.RegisterExternalServer(context.Background(), "bad", &fakeServer{listErr: errors.New("dial refused")})
	require.Error(t, err)

	// Earlier registrations survive, the failed server contributes nothing.
	_, err = r.GetTool("echo")
	assert.NoError(t, err)
	assert.Len(t, r.AllTools(), 1)
}

func TestRegistry_ToolsForNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool("echo", echoTool(), nil))

	tools, err := r.ToolsForNames([]string{"echo"})
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	_, err = r.ToolsForNames([]string{"echo", "ghost"})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_CheckHealth(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool("echo", echoTool(), nil))
	require.NoError(t, r.RegisterExternalServer(context.Background(), "up", &fakeServer{tools: []ToolDescriptor{{Name: "a"}}}))
	require.NoError(t, r.RegisterExternalServer(context.Background(), "down", &fakeServer{
		tools:   []ToolDescriptor{{Name: "b"}},
		pingErr: errors.New("gone"),
	}))

	h := r.CheckHealth(context.Background())
	assert.Equal(t, 1, h.LocalTools)
	assert.Equal(t, 2, h.ExternalTools)
	assert.Equal(t, 1, h.HealthyServers)
	assert.Equal(t, 1, h.UnhealthyServers)
	assert.Contains(t, h.ServerErrors["down"], "gone")
}

func TestFunctionTool_Validation(t *testing.T) {
	et := echoTool()
	_, err := et.Call(context.Background(), map[string]any{}, nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}
