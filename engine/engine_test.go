package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/model"
	"github.com/parlourhq/parlour/tool"
)

func echoTool(executions *atomic.Int32) tool.Tool {
	return tool.NewFunctionTool("echo", "echoes its input", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	}, func(ctx context.Context, args map[string]any, onOutput tool.OutputHandler) (any, error) {
		if executions != nil {
			executions.Add(1)
		}
		text, _ := args["text"].(string)
		return text, nil
	})
}

func guardedTool(executions *atomic.Int32) tool.Tool {
	return tool.NewFunctionTool("deploy", "deploys the service", map[string]any{
		"type": "object",
	}, func(ctx context.Context, args map[string]any, onOutput tool.OutputHandler) (any, error) {
		if executions != nil {
			executions.Add(1)
		}
		return "deployed", nil
	}, tool.WithConfirmation(func(ctx context.Context, args map[string]any) (*core.ConfirmationDetails, error) {
		return &core.ConfirmationDetails{
			Message:     "deploy to production?",
			DangerLevel: core.DangerHigh,
		}, nil
	}))
}

func newTestEngine(t *testing.T, sess *core.Session, provider model.Provider, tools ...tool.Tool) *Engine {
	t.Helper()
	registry := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, registry.RegisterTool(tl.Name(), tl, nil))
	}
	eng, err := New(sess, provider, registry)
	require.NoError(t, err)
	return eng
}

func TestRunTurn_BudgetExhaustedDoesNotMutate(t *testing.T) {
	sess := core.NewSession("s1", "loc", 2)
	sess.CurrentTurn = 2
	provider := model.NewMockProvider()
	eng := newTestEngine(t, sess, provider)

	result, err := eng.RunTurn(context.Background(), UserInput{Content: "hello"})
	require.NoError(t, err)
	assert.IsType(t, core.MaxTurnsReached{}, result)
	assert.Empty(t, sess.Messages, "message log must stay untouched")
	assert.Empty(t, provider.Requests(), "model must not be called")
	assert.Equal(t, core.StatusMaxTurnsReached, sess.Status)
}

func TestRunTurn_ToolLoopWithinSingleTurn(t *testing.T) {
	sess := core.NewSession("s1", "loc", 1)
	provider := model.NewMockProvider().Enqueue(
		model.Turn{ToolCalls: []core.ToolCallRequest{
			{CallID: "c1", Name: "echo", Args: map[string]any{"text": "ping"}},
		}},
		model.Turn{Text: "the tool said ping", FinishReason: "stop"},
	)
	var executions atomic.Int32
	eng := newTestEngine(t, sess, provider, echoTool(&executions))

	result, err := eng.RunTurn(context.Background(), UserInput{Content: "run echo"})
	require.NoError(t, err)

	complete, ok := result.(core.Complete)
	require.True(t, ok, "expected a complete result, got %T", result)
	assert.Equal(t, "the tool said ping", complete.Content)
	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, 1, sess.CurrentTurn, "internal tool loop must not consume extra turns")
	assert.Equal(t, core.StatusIdle, sess.Status)

	roles := make([]core.Role, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []core.Role{
		core.RoleUser,
		core.RoleAssistant,
		core.RoleFunctionExecutor,
		core.RoleAssistant,
	}, roles)
	assert.Equal(t, "ping", sess.Messages[2].ToolResults[0].Result)
}

func TestRunTurn_ContinueHeuristic(t *testing.T) {
	sess := core.NewSession("s1", "loc", 3)
	provider := model.NewMockProvider().Enqueue(
		model.Turn{Text: "first half", FinishReason: "length"},
		model.Turn{Text: "second half", FinishReason: "stop"},
	)
	eng := newTestEngine(t, sess, provider)

	result, err := eng.RunTurn(context.Background(), UserInput{Content: "tell me everything"})
	require.NoError(t, err)

	complete, ok := result.(core.Complete)
	require.True(t, ok)
	assert.Equal(t, "second half", complete.Content)
	assert.Equal(t, 1, sess.CurrentTurn)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "first half", sess.Messages[1].Content)
	assert.Equal(t, "second half", sess.Messages[2].Content)
	assert.Len(t, provider.Requests(), 2, "continue signal re-invokes the model without a new message")
	assert.Len(t, provider.Requests()[1].Messages, 2)
}

func TestAbort_MidModelCall(t *testing.T) {
	sess := core.NewSession("s1", "loc", 5)
	provider := model.NewMockProvider().Enqueue(model.Turn{Block: true})
	eng := newTestEngine(t, sess, provider)

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.RunTurn(context.Background(), UserInput{Content: "hang"})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(provider.Requests()) == 1
	}, time.Second, 5*time.Millisecond)
	eng.Abort()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("aborted turn did not return")
	}
	assert.Equal(t, core.StatusIdle, sess.Status)
}

func TestRunTurn_RejectsReentrantCall(t *testing.T) {
	sess := core.NewSession("s1", "loc", 5)
	provider := model.NewMockProvider().Enqueue(model.Turn{Block: true})
	eng := newTestEngine(t, sess, provider)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.RunTurn(context.Background(), UserInput{Content: "first"})
	}()
	require.Eventually(t, func() bool {
		return len(provider.Requests()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := eng.RunTurn(context.Background(), UserInput{Content: "second"})
	assert.ErrorIs(t, err, ErrTurnInFlight)

	eng.Abort()
	<-done
}

func TestConfirmToolCall_ApprovedResumes(t *testing.T) {
	sess := core.NewSession("s1", "loc", 5)
	provider := model.NewMockProvider().Enqueue(
		model.Turn{ToolCalls: []core.ToolCallRequest{
			{CallID: "c1", Name: "deploy", Args: map[string]any{}},
		}},
		model.Turn{Text: "deployed successfully", FinishReason: "stop"},
	)
	var executions atomic.Int32
	eng := newTestEngine(t, sess, provider, guardedTool(&executions))

	result, err := eng.RunTurn(context.Background(), UserInput{Content: "ship it"})
	require.NoError(t, err)

	waiting, ok := result.(core.WaitingConfirmation)
	require.True(t, ok, "expected waiting_confirmation, got %T", result)
	require.Len(t, waiting.ToolCalls, 1)
	assert.Equal(t, core.StatusWaitingConfirmation, sess.Status)
	assert.Equal(t, int32(0), executions.Load(), "no side effect before approval")

	resumed, err := eng.ConfirmToolCall(context.Background(), "c1", true)
	require.NoError(t, err)
	complete, ok := resumed.(core.Complete)
	require.True(t, ok, "expected complete after approval, got %T", resumed)
	assert.Equal(t, "deployed successfully", complete.Content)
	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, core.StatusIdle, sess.Status)
}

func TestConfirmToolCall_DeniedNeverExecutes(t *testing.T) {
	sess := core.NewSession("s1", "loc", 5)
	provider := model.NewMockProvider().Enqueue(
		model.Turn{ToolCalls: []core.ToolCallRequest{
			{CallID: "c1", Name: "deploy", Args: map[string]any{}},
		}},
		model.Turn{Text: "understood, standing down", FinishReason: "stop"},
	)
	var executions atomic.Int32
	eng := newTestEngine(t, sess, provider, guardedTool(&executions))

	result, err := eng.RunTurn(context.Background(), UserInput{Content: "ship it"})
	require.NoError(t, err)
	require.IsType(t, core.WaitingConfirmation{}, result)

	resumed, err := eng.ConfirmToolCall(context.Background(), "c1", false)
	require.NoError(t, err)
	require.IsType(t, core.Complete{}, resumed)
	assert.Equal(t, int32(0), executions.Load(), "denied call must never invoke the tool")

	var denial *core.ToolResult
	for _, m := range sess.Messages {
		if m.Role == core.RoleFunctionExecutor {
			for i := range m.ToolResults {
				if m.ToolResults[i].CallID == "c1" {
					denial = &m.ToolResults[i]
				}
			}
		}
	}
	require.NotNil(t, denial, "denial must flow back to the model as a tool result")
	assert.Contains(t, denial.Error, "denied by user")
}

func TestConfirmToolCall_NoPending(t *testing.T) {
	sess := core.NewSession("s1", "loc", 5)
	eng := newTestEngine(t, sess, model.NewMockProvider())

	_, err := eng.ConfirmToolCall(context.Background(), "c1", true)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
}

func TestRunTurn_PersistsOnEveryExit(t *testing.T) {
	sess := core.NewSession("s1", "loc", 5)
	provider := model.NewMockProvider().Enqueue(model.Turn{Text: "hi", FinishReason: "stop"})
	registry := tool.NewRegistry()

	var persisted atomic.Int32
	eng, err := New(sess, provider, registry, func(o *Options) {
		o.Persist = func(ctx context.Context, s *core.Session) error {
			persisted.Add(1)
			return nil
		}
	})
	require.NoError(t, err)

	_, err = eng.RunTurn(context.Background(), UserInput{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), persisted.Load())

	provider.Enqueue(model.Turn{Err: errors.New("provider unavailable")})
	_, err = eng.RunTurn(context.Background(), UserInput{Content: "again"})
	require.Error(t, err)
	assert.Equal(t, int32(2), persisted.Load(), "failed turns still flush the session")
	assert.Equal(t, core.StatusIdle, sess.Status)

	sess.CurrentTurn = sess.MaxTurns
	result, err := eng.RunTurn(context.Background(), UserInput{Content: "over budget"})
	require.NoError(t, err)
	require.IsType(t, core.MaxTurnsReached{}, result)
	assert.Equal(t, int32(3), persisted.Load(), "the budget exit flushes the session too")
}
