// Package scheduler drives batches of tool calls through their lifecycle:
// validation, optional human approval, concurrent execution with streamed
// output, and terminal bookkeeping. One scheduler instance belongs to one
// session so pending-approval state never leaks across sessions; the tool
// registry behind it is shared process-wide.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parlourhq/parlour/bus"
	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/logging"
	"github.com/parlourhq/parlour/tool"
)

const defaultMaxParallel = 5

// Outcome is the decision delivered by the external approval flow.
type Outcome string

const (
	// OutcomeApproved clears an awaiting call for execution.
	OutcomeApproved Outcome = "approved"
	// OutcomeDenied cancels an awaiting call without executing it.
	OutcomeDenied Outcome = "denied"
)

// OutputHandler receives streamed output chunks from running tool calls.
type OutputHandler func(callID, chunk string)

// CompletionHandler receives the completed batch exactly once, after every
// call reached a terminal state.
type CompletionHandler func(completed []core.CompletedToolCall)

// Options configures a Scheduler.
type Options struct {
	// AutoApprove skips the confirmation probe; every validated call is
	// scheduled immediately.
	AutoApprove bool
	// MaxParallel bounds concurrent tool executions within a batch.
	MaxParallel int
	Bus         *bus.Bus
	Logger      logging.Logger
}

// Scheduler owns the per-batch tool call state machines of one session.
// All state transitions happen under the scheduler mutex and only ever move
// forward; a call that reached a terminal state is never modified again.
type Scheduler struct {
	registry  *tool.Registry
	bus       *bus.Bus
	logger    logging.Logger
	sessionID string

	autoApprove bool
	maxParallel int

	mu        sync.Mutex
	batches   map[string]*batch
	approvals map[string]*approval
	wg        sync.WaitGroup
}

// approval is a pending-approval record: pure data keyed by call id, resumed
// through HandleConfirmation. No continuation closures are captured.
type approval struct {
	batchID string
	callID  string
}

type batch struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	order []string
	calls map[string]core.ToolCall
	tools map[string]tool.Tool

	onOutput   OutputHandler
	onComplete CompletionHandler
	completed  bool
}

// New constructs a Scheduler bound to a session and a shared registry.
func New(registry *tool.Registry, sessionID string, optFns ...func(o *Options)) (*Scheduler, error) {
	if registry == nil {
		return nil, fmt.Errorf("scheduler: registry is required")
	}
	opts := Options{MaxParallel: defaultMaxParallel, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Scheduler{
		registry:    registry,
		bus:         opts.Bus,
		logger:      opts.Logger,
		sessionID:   sessionID,
		autoApprove: opts.AutoApprove,
		maxParallel: opts.MaxParallel,
		batches:     make(map[string]*batch),
		approvals:   make(map[string]*approval),
	}, nil
}

// BatchOptions configures one scheduled batch.
type BatchOptions struct {
	// OnOutput is invoked for every streamed output chunk.
	OnOutput OutputHandler
	// OnComplete fires exactly once when the whole batch is terminal.
	OnComplete CompletionHandler
}

// Schedule enters a batch of requests into the lifecycle. Tool resolution and
// the confirmation probes run before Schedule returns, so callers can inspect
// PendingApprovals immediately afterwards; execution of cleared calls
// proceeds asynchronously. Errors intrinsic to single calls are captured in
// their terminal states, never returned.
func (s *Scheduler) Schedule(ctx context.Context, batchID string, requests []core.ToolCallRequest, optFns ...func(o *BatchOptions)) error {
	if batchID == "" {
		return fmt.Errorf("scheduler: batch id is required")
	}
	if len(requests) == 0 {
		return fmt.Errorf("scheduler: batch %s has no requests", batchID)
	}
	opts := BatchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	batchCtx, cancel := context.WithCancel(ctx)
	b := &batch{
		id:         batchID,
		ctx:        batchCtx,
		cancel:     cancel,
		calls:      make(map[string]core.ToolCall, len(requests)),
		tools:      make(map[string]tool.Tool, len(requests)),
		onOutput:   opts.OnOutput,
		onComplete: opts.OnComplete,
	}

	s.mu.Lock()
	if _, exists := s.batches[batchID]; exists {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("scheduler: batch %s already scheduled", batchID)
	}
	now := time.Now()
	for _, req := range requests {
		b.order = append(b.order, req.CallID)
		t, err := s.registry.GetTool(req.Name)
		if err != nil {
			// Unknown tool: terminal immediately, zero duration, no validation.
			b.calls[req.CallID] = core.ErroredToolCall{
				Req:  req,
				Resp: core.ToolResponse{Error: err.Error()},
			}
			continue
		}
		b.tools[req.CallID] = t
		b.calls[req.CallID] = core.ValidatingToolCall{Req: req, StartedAt: now}
	}
	s.batches[batchID] = b
	s.mu.Unlock()

	s.publishUpdate(b)
	s.validate(b)
	s.executeScheduled(b)
	s.maybeComplete(b)
	return nil
}

// validate resolves each validating call to scheduled or awaiting_approval.
func (s *Scheduler) validate(b *batch) {
	s.mu.Lock()
	pending := make([]core.ValidatingToolCall, 0, len(b.order))
	for _, id := range b.order {
		if v, ok := b.calls[id].(core.ValidatingToolCall); ok {
			pending = append(pending, v)
		}
	}
	s.mu.Unlock()

	for _, v := range pending {
		req := v.Req
		if s.autoApprove {
			s.transition(b, req.CallID, core.ScheduledToolCall{Req: req, StartedAt: v.StartedAt})
			continue
		}
		details, err := b.tools[req.CallID].ShouldConfirm(b.ctx, req.Args)
		switch {
		case err != nil:
			s.transition(b, req.CallID, core.ErroredToolCall{
				Req:     req,
				Resp:    core.ToolResponse{Error: fmt.Sprintf("confirmation check failed: %v", err)},
				Elapsed: time.Since(v.StartedAt),
			})
		case details != nil:
			s.mu.Lock()
			if cur, ok := b.calls[req.CallID]; ok && !cur.State().Terminal() {
				b.calls[req.CallID] = core.AwaitingApprovalToolCall{Req: req, Details: *details, StartedAt: v.StartedAt}
				s.approvals[req.CallID] = &approval{batchID: b.id, callID: req.CallID}
			}
			s.mu.Unlock()
			s.publish(bus.ToolPermissionRequest{
				EventMeta:           bus.NewMeta(b.id),
				MessageID:           b.id,
				ToolCallID:          req.CallID,
				ConfirmationDetails: *details,
			})
		default:
			s.transition(b, req.CallID, core.ScheduledToolCall{Req: req, StartedAt: v.StartedAt})
		}
	}
	s.publishUpdate(b)
}

// executeScheduled launches every currently scheduled call of the batch.
// Executions run concurrently, bounded by MaxParallel.
func (s *Scheduler) executeScheduled(b *batch) {
	s.mu.Lock()
	var ready []core.ScheduledToolCall
	for _, id := range b.order {
		if sc, ok := b.calls[id].(core.ScheduledToolCall); ok {
			ready = append(ready, sc)
			b.calls[id] = core.ExecutingToolCall{Req: sc.Req, StartedAt: time.Now()}
		}
	}
	s.mu.Unlock()
	if len(ready) == 0 {
		return
	}
	s.publishUpdate(b)

	g := &errgroup.Group{}
	g.SetLimit(s.maxParallel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, sc := range ready {
			g.Go(func() error {
				s.runCall(b, sc.Req)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// runCall executes one tool call and records its terminal state.
func (s *Scheduler) runCall(b *batch, req core.ToolCallRequest) {
	start := time.Now()
	t := b.tools[req.CallID]

	onOutput := func(chunk string) {
		s.mu.Lock()
		if ex, ok := b.calls[req.CallID].(core.ExecutingToolCall); ok {
			ex.Output += chunk
			b.calls[req.CallID] = ex
		}
		s.mu.Unlock()
		s.publish(bus.ToolOutputUpdate{
			EventMeta:   bus.NewMeta(b.id),
			MessageID:   b.id,
			ToolCallID:  req.CallID,
			OutputChunk: chunk,
		})
		if b.onOutput != nil {
			b.onOutput(req.CallID, chunk)
		}
	}

	result, err := t.Call(b.ctx, req.Args, onOutput)
	elapsed := time.Since(start)

	var next core.ToolCall
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || b.ctx.Err() != nil):
		next = core.CancelledToolCall{
			Req:     req,
			Resp:    core.ToolResponse{Error: "execution cancelled"},
			Elapsed: elapsed,
		}
	case err != nil:
		next = core.ErroredToolCall{
			Req:     req,
			Resp:    core.ToolResponse{Error: err.Error()},
			Elapsed: elapsed,
		}
	default:
		next = core.SuccessToolCall{
			Req:     req,
			Resp:    core.ToolResponse{Result: stringify(result)},
			Elapsed: elapsed,
		}
	}
	s.logToolCall(req.Name, elapsed, err)
	s.transition(b, req.CallID, next)
	s.publishUpdate(b)
	s.maybeComplete(b)
}

// HandleConfirmation resolves a pending approval by call id. Approval moves
// the call to scheduled and immediately attempts execution of everything
// currently scheduled in its batch; denial cancels the call without ever
// invoking the tool. The pending record is removed either way.
func (s *Scheduler) HandleConfirmation(callID string, outcome Outcome) error {
	s.mu.Lock()
	rec, ok := s.approvals[callID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: no pending approval for call %s", callID)
	}
	delete(s.approvals, callID)
	b := s.batches[rec.batchID]
	awaiting, ok := b.calls[callID].(core.AwaitingApprovalToolCall)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: call %s is not awaiting approval", callID)
	}
	if outcome == OutcomeApproved {
		b.calls[callID] = core.ScheduledToolCall{Req: awaiting.Req, StartedAt: awaiting.StartedAt}
	} else {
		b.calls[callID] = core.CancelledToolCall{
			Req:     awaiting.Req,
			Resp:    core.ToolResponse{Error: "denied by user"},
			Elapsed: time.Since(awaiting.StartedAt),
		}
	}
	s.mu.Unlock()

	s.publishUpdate(b)
	if outcome == OutcomeApproved {
		s.executeScheduled(b)
	}
	s.maybeComplete(b)
	return nil
}

// CancelBatch forces every non-terminal call of the batch to cancelled with
// the given reason, then runs the completion check.
func (s *Scheduler) CancelBatch(batchID, reason string) {
	s.mu.Lock()
	b, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return
	}
	for id, call := range b.calls {
		if call.State().Terminal() {
			continue
		}
		b.calls[id] = core.CancelledToolCall{
			Req:  call.Request(),
			Resp: core.ToolResponse{Error: reason},
		}
		delete(s.approvals, id)
	}
	s.mu.Unlock()

	b.cancel()
	s.publishUpdate(b)
	s.maybeComplete(b)
}

// Calls returns the current state of every call in the batch, request order.
func (s *Scheduler) Calls(batchID string) []core.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	calls := make([]core.ToolCall, 0, len(b.order))
	for _, id := range b.order {
		calls = append(calls, b.calls[id])
	}
	return calls
}

// PendingApprovals returns the calls of the batch parked for approval.
func (s *Scheduler) PendingApprovals(batchID string) []core.AwaitingApprovalToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	var pending []core.AwaitingApprovalToolCall
	for _, id := range b.order {
		if aw, ok := b.calls[id].(core.AwaitingApprovalToolCall); ok {
			pending = append(pending, aw)
		}
	}
	return pending
}

// Forget drops a fully completed batch once the caller consumed its results.
func (s *Scheduler) Forget(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[batchID]; ok && b.completed {
		b.cancel()
		delete(s.batches, batchID)
	}
}

// Shutdown cancels every batch and waits for running executions to settle.
// Used when the owning session is evicted from the pool.
func (s *Scheduler) Shutdown(reason string) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.CancelBatch(id, reason)
	}
	s.wg.Wait()
}

// transition records a forward state change, refusing to leave terminal states.
func (s *Scheduler) transition(b *batch, callID string, next core.ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := b.calls[callID]
	if !ok || cur.State().Terminal() {
		return
	}
	b.calls[callID] = next
}

// maybeComplete fires the completion callback and event exactly once, the
// first time every call in the batch is terminal.
func (s *Scheduler) maybeComplete(b *batch) {
	s.mu.Lock()
	if b.completed {
		s.mu.Unlock()
		return
	}
	completed := make([]core.CompletedToolCall, 0, len(b.order))
	for _, id := range b.order {
		done, ok := b.calls[id].(core.CompletedToolCall)
		if !ok {
			s.mu.Unlock()
			return
		}
		completed = append(completed, done)
	}
	b.completed = true
	s.mu.Unlock()

	s.logger.Debug("tool call batch complete", "batch", b.id, "calls", len(completed))
	s.publish(bus.ToolCallsComplete{
		EventMeta:          bus.NewMeta(b.id),
		MessageID:          b.id,
		CompletedToolCalls: completed,
	})
	if b.onComplete != nil {
		b.onComplete(completed)
	}
}

func (s *Scheduler) publishUpdate(b *batch) {
	s.publish(bus.ToolCallsUpdate{
		EventMeta: bus.NewMeta(b.id),
		MessageID: b.id,
		ToolCalls: s.Calls(b.id),
	})
}

func (s *Scheduler) publish(ev bus.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Warn("scheduler event publish failed", "error", err.Error())
	}
}

func (s *Scheduler) logToolCall(name string, dur time.Duration, err error) {
	if err != nil {
		s.logger.Warn("tool execution failed", "tool", name, "duration", dur, "error", err.Error())
		return
	}
	s.logger.Debug("tool execution completed", "tool", name, "duration", dur)
}

// stringify renders a tool result for the message log: strings pass through,
// everything else is JSON-encoded.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		if data, err := json.Marshal(t); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", t)
	}
}
