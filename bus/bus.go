// Package bus provides the process-wide publish/subscribe hub used for
// side-channel notifications between the scheduler, turn engines and the
// session pool. Event kinds are a closed enum and every kind has exactly one
// payload struct, so subscribers get compile-time payload safety while
// dispatch stays a runtime registry keyed by kind.
package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parlourhq/parlour/logging"
)

// Category groups event kinds by origin.
type Category string

const (
	// CategoryClient covers events originated by external callers.
	CategoryClient Category = "client"
	// CategoryServer covers events originated by the orchestration core.
	CategoryServer Category = "server"
)

// Kind enumerates the event kinds carried by the bus.
type Kind string

const (
	// KindToolRegistered fires when a local tool is registered.
	KindToolRegistered Kind = "TOOL_REGISTERED"
	// KindExternalServerRegistered fires when a remote tool server is merged in.
	KindExternalServerRegistered Kind = "EXTERNAL_SERVER_REGISTERED"
	// KindToolPermissionRequest fires when a tool call parks for approval.
	KindToolPermissionRequest Kind = "TOOL_PERMISSION_REQUEST"
	// KindToolOutputUpdate fires for each streamed tool output chunk.
	KindToolOutputUpdate Kind = "TOOL_OUTPUT_UPDATE"
	// KindToolCallsUpdate fires after any tool call state transition.
	KindToolCallsUpdate Kind = "TOOL_CALLS_UPDATE"
	// KindToolCallsComplete fires exactly once when a batch fully terminates.
	KindToolCallsComplete Kind = "TOOL_CALLS_COMPLETE"
	// KindSessionUpdated fires on session status or content changes.
	KindSessionUpdated Kind = "SESSION_UPDATED"
	// KindUserPrompt fires when an external caller submits a message.
	KindUserPrompt Kind = "USER_PROMPT"
	// KindToolConfirmation fires when an external caller resolves an approval.
	KindToolConfirmation Kind = "TOOL_CONFIRMATION"
)

// kindCategories maps every kind to its origin category.
var kindCategories = map[Kind]Category{
	KindToolRegistered:           CategoryServer,
	KindExternalServerRegistered: CategoryServer,
	KindToolPermissionRequest:    CategoryServer,
	KindToolOutputUpdate:         CategoryServer,
	KindToolCallsUpdate:          CategoryServer,
	KindToolCallsComplete:        CategoryServer,
	KindSessionUpdated:           CategoryServer,
	KindUserPrompt:               CategoryClient,
	KindToolConfirmation:         CategoryClient,
}

// CategoryOf returns the category a kind belongs to.
func CategoryOf(k Kind) Category { return kindCategories[k] }

// KindsOf returns every kind belonging to the given category.
func KindsOf(c Category) []Kind {
	var kinds []Kind
	for k, kc := range kindCategories {
		if kc == c {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Handler consumes one published event. Handlers of the same event run
// concurrently with no ordering guarantee; a returned error is collected
// without blocking sibling handlers.
type Handler func(ev Event) error

// Options configures a Bus.
type Options struct {
	// PropagateErrors makes Publish return the collected handler errors
	// instead of only logging them.
	PropagateErrors bool
	// Logger receives handler failures. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Bus is an in-process event hub safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind]map[int]Handler
	nextID   int
	opts     Options
}

// New constructs a Bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Bus{handlers: make(map[Kind]map[int]Handler), opts: opts}
}

// Subscribe registers a handler for one kind and returns its disposer.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[kind], id)
	}
}

// SubscribeCategory registers the handler against every kind of the category.
// The returned disposer removes all of them.
func (b *Bus) SubscribeCategory(c Category, handler Handler) func() {
	kinds := KindsOf(c)
	disposers := make([]func(), 0, len(kinds))
	for _, k := range kinds {
		disposers = append(disposers, b.Subscribe(k, handler))
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}
}

// Publish delivers the event to every handler of its kind. Handlers run in
// parallel; Publish returns after every handler has returned or panicked.
// A panicking or failing handler never prevents siblings from running.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	registered := b.handlers[ev.EventKind()]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	errCh := make(chan error, len(handlers))
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("handler panic for %s: %v", ev.EventKind(), r)
				}
			}()
			if err := h(ev); err != nil {
				errCh <- fmt.Errorf("handler for %s: %w", ev.EventKind(), err)
			}
		}(h)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		b.opts.Logger.Error("event handler failed", "kind", string(ev.EventKind()), "error", err.Error())
		errs = append(errs, err)
	}
	if b.opts.PropagateErrors {
		return errors.Join(errs...)
	}
	return nil
}

// UnsubscribeAll removes every handler for the given kind.
func (b *Bus) UnsubscribeAll(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, kind)
}

// HasHandlers reports whether any handler is registered for the kind.
func (b *Bus) HasHandlers(kind Kind) bool { return b.HandlerCount(kind) > 0 }

// HandlerCount returns the number of handlers registered for the kind.
func (b *Bus) HandlerCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Clear removes every handler for every kind.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Kind]map[int]Handler)
}
