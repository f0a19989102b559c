// Package parlour provides a high-level façade over the conversation
// orchestration core: the event bus, the shared tool registry, and the
// bounded session pool that drives per-session turn engines. Most
// applications interact with this package by:
//  1. Creating a Parlour via New() (optionally overriding stores, provider or config)
//  2. Registering tools and connecting external tool servers
//  3. Creating sessions and driving them with SendMessage / ConfirmToolCall
//
// Defaults are safe for local development: file-backed session storage, a
// text logger, and a model provider chosen from the configuration.
package parlour

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parlourhq/parlour/bus"
	"github.com/parlourhq/parlour/config"
	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/logging"
	"github.com/parlourhq/parlour/model"
	modelanthropic "github.com/parlourhq/parlour/model/anthropic"
	modelopenai "github.com/parlourhq/parlour/model/openai"
	"github.com/parlourhq/parlour/pool"
	"github.com/parlourhq/parlour/project"
	"github.com/parlourhq/parlour/store"
	"github.com/parlourhq/parlour/tool"
	"github.com/parlourhq/parlour/tool/external"
)

// Options configures a Parlour instance.
type Options struct {
	// Config supplies tuning values; defaults to config.Default().
	Config *config.Config
	// Store persists sessions; defaults to a file store.
	Store store.Store
	// Provider overrides the model provider chosen from the config.
	Provider model.Provider
	// Logger defaults to a structured logger at the configured level.
	Logger logging.Logger
	// Bus defaults to a fresh in-process bus.
	Bus *bus.Bus
}

// Parlour aggregates the orchestration core behind one entry point.
type Parlour struct {
	cfg      *config.Config
	bus      *bus.Bus
	registry *tool.Registry
	pool     *pool.Pool
	logger   logging.Logger
}

// New constructs a Parlour instance with optional overrides.
func New(optFns ...func(o *Options)) (*Parlour, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(&logging.Config{
			Level:     logLevel(cfg.Logging.Level),
			Format:    cfg.Logging.Format,
			Component: "parlour",
		})
	}
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	st := opts.Store
	if st == nil {
		st = store.NewFileStore()
	}
	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = providerFor(cfg.Model.Provider)
		if err != nil {
			return nil, err
		}
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Bus = b
		o.Logger = logger
	})

	validator, err := project.NewValidator(cfg.Projects.AllowedRoots...)
	if err != nil {
		return nil, err
	}
	var provisioner project.Provisioner
	if cfg.Projects.TaskBase != "" {
		provisioner = project.NewDirProvisioner(cfg.Projects.TaskBase)
	}

	p, err := pool.New(st, provider, registry, func(o *pool.Options) {
		o.Capacity = cfg.Pool.Capacity
		o.MaxTurns = cfg.Pool.MaxTurns
		o.DefaultModel = cfg.SessionModel()
		o.AutoApprove = cfg.AutoApprove()
		o.Validator = validator
		o.Provisioner = provisioner
		o.Bus = b
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	return &Parlour{cfg: cfg, bus: b, registry: registry, pool: p, logger: logger}, nil
}

// Bus returns the process-wide event bus.
func (p *Parlour) Bus() *bus.Bus { return p.bus }

// Registry returns the shared tool registry.
func (p *Parlour) Registry() *tool.Registry { return p.registry }

// Pool returns the session pool for callers needing the full surface.
func (p *Parlour) Pool() *pool.Pool { return p.pool }

// RegisterTool adds a locally implemented tool.
func (p *Parlour) RegisterTool(t tool.Tool, meta *tool.Metadata) error {
	return p.registry.RegisterTool(t.Name(), t, meta)
}

// ConnectServers connects every external tool server from the configuration
// and merges their tool sets. A failing server is logged and skipped; the
// others still connect.
func (p *Parlour) ConnectServers(ctx context.Context) error {
	for _, srv := range p.cfg.Servers {
		client, err := external.NewClient(external.ServerConfig{
			Name:     srv.Name,
			Endpoint: srv.Endpoint,
			Timeout:  srv.Timeout,
		})
		if err != nil {
			return err
		}
		if err := p.registry.RegisterExternalServer(ctx, srv.Name, client); err != nil {
			p.logger.Warn("external server connection failed", "server", srv.Name, "error", err.Error())
		}
	}
	return nil
}

// CreateSession creates a session under targetDir, optionally driving an
// initial turn.
func (p *Parlour) CreateSession(ctx context.Context, targetDir string, cfg pool.CreateConfig) (*pool.CreateResult, error) {
	return p.pool.Create(ctx, targetDir, cfg)
}

// SendMessage runs one turn with a user message.
func (p *Parlour) SendMessage(ctx context.Context, locator, sessionID, content string) (core.ConversationResult, error) {
	return p.pool.SendMessage(ctx, locator, sessionID, content)
}

// ConfirmToolCall resolves a pending tool approval.
func (p *Parlour) ConfirmToolCall(ctx context.Context, locator, sessionID, callID string, approved bool) (core.ConversationResult, error) {
	return p.pool.ConfirmToolCall(ctx, locator, sessionID, callID, approved)
}

// Rerun re-invokes the model on the existing message log.
func (p *Parlour) Rerun(ctx context.Context, locator, sessionID string) (core.ConversationResult, error) {
	return p.pool.Rerun(ctx, locator, sessionID)
}

// Abort cancels the session's in-flight turn, if any.
func (p *Parlour) Abort(ctx context.Context, locator, sessionID string) error {
	return p.pool.Abort(ctx, locator, sessionID)
}

// Close flushes and releases every resident session.
func (p *Parlour) Close(ctx context.Context) error {
	return p.pool.Close(ctx)
}

// providerFor maps a configured provider name to an implementation. API
// credentials come from the SDKs' standard environment variables.
func providerFor(name string) (model.Provider, error) {
	switch name {
	case "openai":
		return modelopenai.New(), nil
	case "anthropic":
		return modelanthropic.New(), nil
	case "mock":
		return model.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("parlour: unknown model provider %q", name)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
