// Package engine implements the per-session conversation turn loop. An
// Engine owns exactly one session while it is resident: it invokes the model
// with the accumulated message log, delegates requested tool calls to its
// scheduler, and loops until the turn yields a final answer, parks for
// approval, or exhausts the turn budget.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parlourhq/parlour/bus"
	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/logging"
	"github.com/parlourhq/parlour/model"
	"github.com/parlourhq/parlour/scheduler"
	"github.com/parlourhq/parlour/tool"
)

// defaultMaxIterations bounds the internal model/tool loop of a single turn.
const defaultMaxIterations = 32

var (
	// ErrAborted is returned when Abort cancels an in-flight turn.
	ErrAborted = errors.New("turn aborted")
	// ErrTurnInFlight is returned when a turn is started while another one
	// is still running on the same engine.
	ErrTurnInFlight = errors.New("turn already in flight")
	// ErrNoPendingConfirmation is returned when a confirmation arrives but
	// no tool call of this session is awaiting approval.
	ErrNoPendingConfirmation = errors.New("no tool call awaiting confirmation")
)

// PersistFunc flushes the session to its backing storage. It is invoked on
// every turn exit path, with cancellation stripped so an aborted turn still
// saves its final state.
type PersistFunc func(ctx context.Context, sess *core.Session) error

// Options configures an Engine.
type Options struct {
	// AutoApprove makes the scheduler skip every confirmation probe.
	AutoApprove bool
	// MaxParallelTools bounds concurrent tool executions within a batch.
	MaxParallelTools int
	// MaxIterations bounds model/tool loop iterations within one turn.
	MaxIterations int
	Bus           *bus.Bus
	Logger        logging.Logger
	// Persist is called after every turn; nil disables persistence.
	Persist PersistFunc
}

// Engine drives the turn loop of a single session. It is not reentrant:
// starting a turn while another is in flight fails with ErrTurnInFlight.
// Abort is the only method safe to call concurrently with a running turn.
type Engine struct {
	session  *core.Session
	provider model.Provider
	registry *tool.Registry
	sched    *scheduler.Scheduler
	bus      *bus.Bus
	logger   logging.Logger
	persist  PersistFunc

	maxIterations int

	mu sync.Mutex

	cancelMu   sync.Mutex
	cancelTurn context.CancelFunc

	// pending survives a waiting_confirmation return so the batch can be
	// resumed by ConfirmToolCall.
	pending *pendingBatch
}

type pendingBatch struct {
	id   string
	done chan []core.CompletedToolCall
}

// New constructs an Engine owning the given session. Each engine gets its
// own scheduler so pending-approval state never crosses sessions; the
// registry behind it is shared.
func New(sess *core.Session, provider model.Provider, registry *tool.Registry, optFns ...func(o *Options)) (*Engine, error) {
	if sess == nil {
		return nil, fmt.Errorf("engine: session is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("engine: model provider is required")
	}
	opts := Options{
		MaxIterations: defaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	sched, err := scheduler.New(registry, sess.ID, func(o *scheduler.Options) {
		o.AutoApprove = opts.AutoApprove
		o.MaxParallel = opts.MaxParallelTools
		o.Bus = opts.Bus
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}
	return &Engine{
		session:       sess,
		provider:      provider,
		registry:      registry,
		sched:         sched,
		bus:           opts.Bus,
		logger:        opts.Logger,
		persist:       opts.Persist,
		maxIterations: opts.MaxIterations,
	}, nil
}

// Session returns the session this engine owns. The pool reads it for
// persistence; nobody else should mutate it while the engine is resident.
func (e *Engine) Session() *core.Session { return e.session }

// Scheduler exposes the engine's scheduler for resource release on eviction.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// RunTurn processes one logical turn of the conversation. The turn may
// internally alternate between model calls and tool execution; control comes
// back to the caller with a final answer, a parked approval request, or a
// turn-budget signal.
func (e *Engine) RunTurn(ctx context.Context, input TurnInput) (core.ConversationResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrTurnInFlight
	}
	defer e.mu.Unlock()
	return e.runTurn(ctx, input)
}

// ConfirmToolCall resolves one pending approval by call id. Denial cancels
// the call without executing it; either way, once no call of the batch is
// still awaiting approval the engine waits for the batch to settle and runs
// a turn with the results so the conversation can react to them.
func (e *Engine) ConfirmToolCall(ctx context.Context, callID string, approved bool) (core.ConversationResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrTurnInFlight
	}
	defer e.mu.Unlock()

	if e.pending == nil {
		return nil, ErrNoPendingConfirmation
	}
	outcome := scheduler.OutcomeDenied
	if approved {
		outcome = scheduler.OutcomeApproved
	}
	if err := e.sched.HandleConfirmation(callID, outcome); err != nil {
		return nil, err
	}

	if remaining := e.sched.PendingApprovals(e.pending.id); len(remaining) > 0 {
		e.touch()
		e.publishSessionUpdate("tool_confirmation")
		return core.WaitingConfirmation{ToolCalls: remaining}, nil
	}

	var completed []core.CompletedToolCall
	select {
	case completed = <-e.pending.done:
	case <-ctx.Done():
		e.sched.CancelBatch(e.pending.id, "confirmation wait cancelled")
		completed = <-e.pending.done
	}
	e.sched.Forget(e.pending.id)
	e.pending = nil
	if ctx.Err() != nil {
		e.setStatus(core.StatusIdle)
		e.touch()
		e.publishSessionUpdate("turn_aborted")
		e.persistSession(ctx)
		return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	}
	return e.runTurn(ctx, ToolResultsInput{Results: toResults(completed)})
}

// Abort cancels the in-flight turn, if any. The aborted RunTurn call returns
// ErrAborted and leaves the session idle.
func (e *Engine) Abort() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelTurn != nil {
		e.cancelTurn()
	}
}

// runTurn is the explicit turn loop. Callers hold e.mu.
func (e *Engine) runTurn(ctx context.Context, input TurnInput) (result core.ConversationResult, err error) {
	if e.session.CurrentTurn >= e.session.MaxTurns {
		e.setStatus(core.StatusMaxTurnsReached)
		e.touch()
		e.publishSessionUpdate("max_turns_reached")
		e.persistSession(ctx)
		return core.MaxTurnsReached{}, nil
	}

	turnCtx, cancel := context.WithCancel(ctx)
	e.setCancel(cancel)
	defer func() {
		e.setCancel(nil)
		cancel()
		e.touch()
		e.publishSessionUpdate("turn_finished")
		e.persistSession(ctx)
	}()

	e.session.CurrentTurn++
	e.setStatus(core.StatusProcessing)
	e.publishSessionUpdate("turn_started")

	pending := input
	for iteration := 0; ; iteration++ {
		if iteration >= e.maxIterations {
			e.setStatus(core.StatusIdle)
			return nil, fmt.Errorf("engine: turn exceeded %d model/tool iterations", e.maxIterations)
		}

		switch in := pending.(type) {
		case UserInput:
			e.session.AppendMessage(core.NewUserMessage(in.Content))
		case ToolResultsInput:
			e.session.AppendMessage(core.NewToolResultMessage(in.Results))
		case ContinueInput:
			// Nothing appended; the model sees the log as-is.
		}

		resp, err := e.invokeModel(turnCtx)
		if err != nil {
			e.setStatus(core.StatusIdle)
			if turnCtx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrAborted, err)
			}
			return nil, fmt.Errorf("engine: model call failed: %w", err)
		}

		if len(resp.ToolCalls) > 0 {
			msg := core.NewAssistantMessage(resp.Text, resp.ToolCalls)
			e.session.AppendMessage(msg)

			outcome, err := e.runBatch(turnCtx, msg.ID, resp.ToolCalls)
			if err != nil {
				e.setStatus(core.StatusIdle)
				return nil, err
			}
			if outcome.waiting != nil {
				e.setStatus(core.StatusWaitingConfirmation)
				return core.WaitingConfirmation{ToolCalls: outcome.waiting}, nil
			}
			pending = ToolResultsInput{Results: outcome.results}
			continue
		}

		e.session.AppendMessage(core.NewAssistantMessage(resp.Text, nil))

		if wantsToContinue(resp) {
			pending = ContinueInput{}
			continue
		}

		e.setStatus(core.StatusIdle)
		return core.Complete{Content: resp.Text}, nil
	}
}

// invokeModel calls the provider with the full history and drains the stream.
func (e *Engine) invokeModel(ctx context.Context) (*model.Response, error) {
	req := model.Request{
		Messages: append([]core.ChatMessage(nil), e.session.Messages...),
		Config:   e.session.Metadata.Model,
		Tools:    e.toolDefinitions(),
	}
	start := time.Now()
	respCh, errCh := e.provider.Generate(ctx, req)
	resp, err := model.Collect(respCh, errCh)
	if err != nil {
		e.logger.Warn("model call failed",
			"session", e.session.ID, "model", req.Config.Name,
			"duration", time.Since(start), "error", err.Error())
		return nil, err
	}
	e.logger.Debug("model call completed",
		"session", e.session.ID, "model", req.Config.Name,
		"duration", time.Since(start), "tool_calls", len(resp.ToolCalls))
	return resp, nil
}

// batchOutcome is either a parked approval set or the completed results.
type batchOutcome struct {
	waiting []core.AwaitingApprovalToolCall
	results []core.ToolResult
}

// runBatch schedules the requested calls and either parks the turn on
// pending approvals or waits for the batch to settle.
func (e *Engine) runBatch(ctx context.Context, batchID string, requests []core.ToolCallRequest) (batchOutcome, error) {
	done := make(chan []core.CompletedToolCall, 1)
	// The batch outlives the turn when it parks for approval, so it must not
	// inherit the turn cancel; aborts reach it through CancelBatch instead.
	err := e.sched.Schedule(context.WithoutCancel(ctx), batchID, requests, func(o *scheduler.BatchOptions) {
		o.OnComplete = func(completed []core.CompletedToolCall) { done <- completed }
	})
	if err != nil {
		return batchOutcome{}, fmt.Errorf("engine: scheduling tool calls: %w", err)
	}

	if waiting := e.sched.PendingApprovals(batchID); len(waiting) > 0 {
		e.pending = &pendingBatch{id: batchID, done: done}
		return batchOutcome{waiting: waiting}, nil
	}

	select {
	case completed := <-done:
		e.sched.Forget(batchID)
		return batchOutcome{results: toResults(completed)}, nil
	case <-ctx.Done():
		e.sched.CancelBatch(batchID, "turn aborted")
		<-done
		e.sched.Forget(batchID)
		return batchOutcome{}, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	}
}

// wantsToContinue is the next-speaker heuristic: a response truncated by the
// output limit means the model has more to say.
func wantsToContinue(resp *model.Response) bool {
	return resp.FinishReason == "length"
}

func (e *Engine) toolDefinitions() []model.ToolDefinition {
	tools := e.registry.AllTools()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func toResults(completed []core.CompletedToolCall) []core.ToolResult {
	results := make([]core.ToolResult, 0, len(completed))
	for _, c := range completed {
		results = append(results, core.ToToolResult(c))
	}
	return results
}

func (e *Engine) setStatus(status core.SessionStatus) {
	e.session.Status = status
}

func (e *Engine) touch() {
	e.session.UpdatedAt = time.Now().UTC()
}

func (e *Engine) setCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancelTurn = cancel
	e.cancelMu.Unlock()
}

func (e *Engine) publishSessionUpdate(updateType string) {
	if e.bus == nil {
		return
	}
	ev := bus.SessionUpdated{
		EventMeta:  bus.NewMeta(e.session.ID),
		SessionID:  e.session.ID,
		UpdateType: updateType,
		Status:     e.session.Status,
		Session:    e.session.Clone(),
	}
	if err := e.bus.Publish(ev); err != nil {
		e.logger.Warn("session update publish failed", "session", e.session.ID, "error", err.Error())
	}
}

func (e *Engine) persistSession(ctx context.Context) {
	if e.persist == nil {
		return
	}
	if err := e.persist(context.WithoutCancel(ctx), e.session); err != nil {
		e.logger.Error("session persist failed", "session", e.session.ID, "error", err.Error())
	}
}
