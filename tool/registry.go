package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/parlourhq/parlour/bus"
	"github.com/parlourhq/parlour/core"
	"github.com/parlourhq/parlour/logging"
)

// Metadata carries optional registration attributes for a local tool.
type Metadata struct {
	// ConfirmationLogic, when set, wraps the tool so every invocation first
	// asks this predicate whether human approval is required.
	ConfirmationLogic ConfirmFunc
}

// Registry holds the executable capabilities available to schedulers. Local
// tools and external server tool sets share one read-mostly namespace; the
// registry is safe for concurrent use and is shared process-wide while each
// session runs its own scheduler.
type Registry struct {
	mu       sync.RWMutex
	local    map[string]Tool
	external map[string]Tool
	servers  map[string]*serverEntry

	bus    *bus.Bus
	logger logging.Logger
}

type serverEntry struct {
	client ServerClient
	tools  []string
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Bus    *bus.Bus
	Logger logging.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Registry{
		local:    make(map[string]Tool),
		external: make(map[string]Tool),
		servers:  make(map[string]*serverEntry),
		bus:      opts.Bus,
		logger:   opts.Logger,
	}
}

// RegisterTool adds a locally implemented capability under name. When
// metadata carries confirmation logic the tool is wrapped so the predicate
// runs before every execution clearance.
func (r *Registry) RegisterTool(name string, t Tool, meta *Metadata) error {
	if name == "" || t == nil {
		return fmt.Errorf("register tool: name and tool are required")
	}
	wrapped := t
	if meta != nil && meta.ConfirmationLogic != nil {
		wrapped = &confirmGated{Tool: t, confirm: meta.ConfirmationLogic}
	}

	r.mu.Lock()
	r.local[name] = wrapped
	r.mu.Unlock()

	r.logger.Debug("tool registered", "tool", name)
	r.publish(bus.ToolRegistered{EventMeta: bus.NewMeta(""), Name: name})
	return nil
}

// RegisterExternalServer connects to a remote capability provider and merges
// its tool set under the server's namespace. A failed connection reports an
// error and leaves previously registered tools untouched.
func (r *Registry) RegisterExternalServer(ctx context.Context, name string, client ServerClient) error {
	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("register external server %q: %w", name, err)
	}

	r.mu.Lock()
	entry := &serverEntry{client: client}
	for _, d := range descriptors {
		qualified := name + "." + d.Name
		r.external[qualified] = &remoteTool{server: name, client: client, descriptor: d}
		entry.tools = append(entry.tools, qualified)
	}
	r.servers[name] = entry
	r.mu.Unlock()

	r.logger.Info("external tool server registered", "server", name, "tools", len(descriptors))
	r.publish(bus.ExternalServerRegistered{EventMeta: bus.NewMeta(""), Server: name, ToolCount: len(descriptors)})
	return nil
}

// GetTool resolves a tool by name from local then external sources.
func (r *Registry) GetTool(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.local[name]; ok {
		return t, nil
	}
	if t, ok := r.external[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// AllTools returns every registered tool, local and external.
func (r *Registry) AllTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.local)+len(r.external))
	for _, t := range r.local {
		tools = append(tools, t)
	}
	for _, t := range r.external {
		tools = append(tools, t)
	}
	return tools
}

// ToolsForNames resolves the named tools, failing if any name is absent.
func (r *Registry) ToolsForNames(names []string) ([]Tool, error) {
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := r.GetTool(name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// Health summarizes registry state for diagnostics.
type Health struct {
	LocalTools       int
	ExternalTools    int
	HealthyServers   int
	UnhealthyServers int
	ServerErrors     map[string]string
}

// CheckHealth pings every external server and reports counts.
func (r *Registry) CheckHealth(ctx context.Context) Health {
	r.mu.RLock()
	servers := make(map[string]*serverEntry, len(r.servers))
	for name, e := range r.servers {
		servers[name] = e
	}
	h := Health{
		LocalTools:    len(r.local),
		ExternalTools: len(r.external),
		ServerErrors:  map[string]string{},
	}
	r.mu.RUnlock()

	for name, entry := range servers {
		if err := entry.client.Ping(ctx); err != nil {
			h.UnhealthyServers++
			h.ServerErrors[name] = err.Error()
			continue
		}
		h.HealthyServers++
	}
	return h
}

func (r *Registry) publish(ev bus.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ev); err != nil {
		r.logger.Warn("registry event publish failed", "error", err.Error())
	}
}

// confirmGated wraps a tool with registration-supplied confirmation logic.
// The wrapped predicate takes precedence over the tool's own.
type confirmGated struct {
	Tool
	confirm ConfirmFunc
}

func (g *confirmGated) ShouldConfirm(ctx context.Context, args map[string]any) (*core.ConfirmationDetails, error) {
	return g.confirm(ctx, args)
}
