// Package pool bounds the number of conversation sessions resident in
// memory. It maps storage locators to live turn engines, evicts the least
// recently used engine (persisting its session first) when the bound is
// exceeded, and transparently reloads evicted sessions on demand. Every
// public operation resolves its engine through GetOrLoad, so callers never
// observe whether a session was resident.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/parlourhq/parlour/bus"
	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/engine"
	"github.com/parlourhq/parlour/logging"
	"github.com/parlourhq/parlour/model"
	"github.com/parlourhq/parlour/project"
	"github.com/parlourhq/parlour/store"
	"github.com/parlourhq/parlour/tool"
)

const (
	defaultCapacity = 10
	defaultMaxTurns = 25
)

var (
	// ErrSessionIDMismatch is returned when the caller's session id does
	// not match the session resolved from the locator.
	ErrSessionIDMismatch = errors.New("session id does not match locator")
	// ErrInvalidTargetDirectory is returned when session creation targets a
	// directory outside the allowed project roots.
	ErrInvalidTargetDirectory = errors.New("target directory outside allowed project roots")
)

// Options configures a Pool.
type Options struct {
	// Capacity bounds the number of simultaneously resident sessions.
	Capacity int
	// MaxTurns is the turn budget given to newly created sessions.
	MaxTurns int
	// DefaultModel is applied to new sessions that specify no model.
	DefaultModel core.ModelConfig
	// AutoApprove disables confirmation gating for every session's tools.
	AutoApprove bool
	// Validator guards Create target directories; nil rejects every Create.
	Validator *project.Validator
	// Provisioner creates backing task directories; nil disables provisioning.
	Provisioner project.Provisioner
	Bus         *bus.Bus
	Logger      logging.Logger
}

// Pool is the bounded LRU set of resident sessions. One structure holds
// both membership and recency: the map finds the entry, the intrusive list
// element inside it tracks access order, so the two can never disagree.
type Pool struct {
	store    store.Store
	provider model.Provider
	registry *tool.Registry

	capacity     int
	maxTurns     int
	defaultModel core.ModelConfig
	autoApprove  bool
	validator    *project.Validator
	provisioner  project.Provisioner
	bus          *bus.Bus
	logger       logging.Logger

	mu       sync.Mutex
	resident map[string]*entry
	lru      *list.List
}

// entry joins an engine with its recency-list element.
type entry struct {
	locator string
	engine  *engine.Engine
	elem    *list.Element
}

// New constructs a Pool over the given store, model provider and shared
// tool registry.
func New(st store.Store, provider model.Provider, registry *tool.Registry, optFns ...func(o *Options)) (*Pool, error) {
	if st == nil {
		return nil, fmt.Errorf("pool: store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("pool: model provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("pool: tool registry is required")
	}
	opts := Options{
		Capacity: defaultCapacity,
		MaxTurns: defaultMaxTurns,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Pool{
		store:        st,
		provider:     provider,
		registry:     registry,
		capacity:     opts.Capacity,
		maxTurns:     opts.MaxTurns,
		defaultModel: opts.DefaultModel,
		autoApprove:  opts.AutoApprove,
		validator:    opts.Validator,
		provisioner:  opts.Provisioner,
		bus:          opts.Bus,
		logger:       opts.Logger,
		resident:     make(map[string]*entry),
		lru:          list.New(),
	}, nil
}

// Len returns the number of resident sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resident)
}

// Resident reports whether the locator currently has a live engine.
func (p *Pool) Resident(locator string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.resident[locator]
	return ok
}

// GetOrLoad returns the resident engine for locator, marking it most
// recently used. An absent session is loaded from storage, evicting the
// least recently used resident first when the pool is at capacity.
func (p *Pool) GetOrLoad(ctx context.Context, locator string) (*engine.Engine, error) {
	p.mu.Lock()
	if e, ok := p.resident[locator]; ok {
		p.lru.MoveToFront(e.elem)
		p.mu.Unlock()
		return e.engine, nil
	}
	p.mu.Unlock()

	sess, err := p.store.Read(ctx, locator)
	if err != nil {
		return nil, err
	}
	eng, err := p.newEngine(sess)
	if err != nil {
		return nil, err
	}
	return p.admit(ctx, locator, eng)
}

// CreateConfig describes a session to create.
type CreateConfig struct {
	Title string
	Mode  string
	// Model overrides the pool default when its Name is set.
	Model     core.ModelConfig
	Knowledge []string
	// MaxTurns overrides the pool default when positive.
	MaxTurns int
	// TaskName, when set, provisions a fresh task directory under the
	// target directory and stores the session there.
	TaskName string
	// InitialPrompt, when set, drives one turn immediately after creation.
	InitialPrompt string
}

// CreateResult is the outcome of Create. Turn is nil unless an initial
// prompt was supplied.
type CreateResult struct {
	Session *core.Session
	Turn    core.ConversationResult
}

// Create validates the target directory, provisions storage, registers the
// new session as resident and optionally drives the first turn.
func (p *Pool) Create(ctx context.Context, targetDir string, cfg CreateConfig) (*CreateResult, error) {
	if p.validator == nil || !p.validator.IsPathAllowed(targetDir) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTargetDirectory, targetDir)
	}
	dir := targetDir
	if cfg.TaskName != "" && p.provisioner != nil {
		provisioned, err := p.provisioner.CreateTask(ctx, cfg.TaskName)
		if err != nil {
			return nil, fmt.Errorf("pool: provisioning task: %w", err)
		}
		dir = provisioned
	}

	id := core.NewID()
	locator := filepath.Join(dir, "session-"+id+".json")
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = p.maxTurns
	}
	sess := core.NewSession(id, locator, maxTurns)
	sess.Metadata = core.SessionMetadata{
		Mode:      cfg.Mode,
		Model:     cfg.Model,
		Knowledge: cfg.Knowledge,
		Title:     cfg.Title,
	}
	if sess.Metadata.Model.Name == "" {
		sess.Metadata.Model = p.defaultModel
	}

	if err := p.store.Create(ctx, locator, sess); err != nil {
		return nil, err
	}
	eng, err := p.newEngine(sess)
	if err != nil {
		return nil, err
	}
	if _, err := p.admit(ctx, locator, eng); err != nil {
		return nil, err
	}
	p.logger.Info("session created", "session", id, "locator", locator)

	result := &CreateResult{Session: sess}
	if cfg.InitialPrompt != "" {
		turn, err := eng.RunTurn(ctx, engine.UserInput{Content: cfg.InitialPrompt})
		if err != nil {
			return result, err
		}
		result.Turn = turn
	}
	return result, nil
}

// SendMessage runs one turn with a user message.
func (p *Pool) SendMessage(ctx context.Context, locator, sessionID, content string) (core.ConversationResult, error) {
	eng, err := p.resolve(ctx, locator, sessionID)
	if err != nil {
		return nil, err
	}
	return eng.RunTurn(ctx, engine.UserInput{Content: content})
}

// Rerun re-invokes the model on the existing message log without appending
// anything, consuming one turn.
func (p *Pool) Rerun(ctx context.Context, locator, sessionID string) (core.ConversationResult, error) {
	eng, err := p.resolve(ctx, locator, sessionID)
	if err != nil {
		return nil, err
	}
	return eng.RunTurn(ctx, engine.ContinueInput{})
}

// ConfirmToolCall resolves a pending approval and resumes the conversation.
func (p *Pool) ConfirmToolCall(ctx context.Context, locator, sessionID, callID string, approved bool) (core.ConversationResult, error) {
	eng, err := p.resolve(ctx, locator, sessionID)
	if err != nil {
		return nil, err
	}
	return eng.ConfirmToolCall(ctx, callID, approved)
}

// Abort cancels the in-flight turn of the session, if any.
func (p *Pool) Abort(ctx context.Context, locator, sessionID string) error {
	eng, err := p.resolve(ctx, locator, sessionID)
	if err != nil {
		return err
	}
	eng.Abort()
	return nil
}

// Update applies a metadata mutation to the session and persists it.
func (p *Pool) Update(ctx context.Context, locator, sessionID string, mutate func(meta *core.SessionMetadata)) (*core.Session, error) {
	eng, err := p.resolve(ctx, locator, sessionID)
	if err != nil {
		return nil, err
	}
	sess := eng.Session()
	mutate(&sess.Metadata)
	if err := p.store.Write(ctx, locator, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Delete removes the backing record and releases the resident engine.
func (p *Pool) Delete(ctx context.Context, locator, sessionID string) error {
	eng, err := p.resolve(ctx, locator, sessionID)
	if err != nil {
		return err
	}
	eng.Scheduler().Shutdown("session deleted")

	p.mu.Lock()
	if e, ok := p.resident[locator]; ok {
		p.lru.Remove(e.elem)
		delete(p.resident, locator)
	}
	p.mu.Unlock()

	return p.store.Delete(ctx, locator)
}

// Close flushes and releases every resident session.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.resident))
	for _, e := range p.resident {
		entries = append(entries, e)
	}
	p.resident = make(map[string]*entry)
	p.lru.Init()
	p.mu.Unlock()

	var errs []error
	for _, e := range entries {
		e.engine.Scheduler().Shutdown("pool closed")
		if err := p.store.Write(ctx, e.locator, e.engine.Session()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolve loads the engine for locator and verifies the caller's session id
// against it. An empty sessionID skips the check.
func (p *Pool) resolve(ctx context.Context, locator, sessionID string) (*engine.Engine, error) {
	eng, err := p.GetOrLoad(ctx, locator)
	if err != nil {
		return nil, err
	}
	if sessionID != "" && eng.Session().ID != sessionID {
		return nil, fmt.Errorf("%w: got %s, locator resolves to %s",
			ErrSessionIDMismatch, sessionID, eng.Session().ID)
	}
	return eng, nil
}

// admit inserts the engine as most recently used, evicting first when the
// pool is full. A concurrent load of the same locator keeps the winner and
// discards the duplicate engine.
func (p *Pool) admit(ctx context.Context, locator string, eng *engine.Engine) (*engine.Engine, error) {
	var evicted []*entry
	p.mu.Lock()
	if existing, ok := p.resident[locator]; ok {
		p.lru.MoveToFront(existing.elem)
		p.mu.Unlock()
		return existing.engine, nil
	}
	for len(p.resident) >= p.capacity {
		oldest := p.lru.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		p.lru.Remove(oldest)
		delete(p.resident, e.locator)
		evicted = append(evicted, e)
	}
	e := &entry{locator: locator, engine: eng}
	e.elem = p.lru.PushFront(e)
	p.resident[locator] = e
	p.mu.Unlock()

	for _, ev := range evicted {
		p.evict(ctx, ev)
	}
	return eng, nil
}

// evict flushes an entry to storage and releases its scheduler resources.
// Flush failures are logged, not returned: the requested load must proceed.
func (p *Pool) evict(ctx context.Context, e *entry) {
	e.engine.Scheduler().Shutdown("session evicted")
	if err := p.store.Write(ctx, e.locator, e.engine.Session()); err != nil {
		p.logger.Error("evicted session flush failed", "locator", e.locator, "error", err.Error())
		return
	}
	p.logger.Debug("session evicted", "session", e.engine.Session().ID, "locator", e.locator)
}

func (p *Pool) newEngine(sess *core.Session) (*engine.Engine, error) {
	return engine.New(sess, p.provider, p.registry, func(o *engine.Options) {
		o.AutoApprove = p.autoApprove
		o.Bus = p.bus
		o.Logger = p.logger
		o.Persist = func(ctx context.Context, s *core.Session) error {
			return p.store.Write(ctx, s.StorageLocator, s)
		}
	})
}
