// Package runtime is the lifecycle shared by every agent process: load the
// runbook, register with the control plane, subscribe to the inbox and run
// until the context ends.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/types"
)

// ControlPlane is the part of the orchestrator API an agent process needs at
// runtime. *discovery.Client implements it.
type ControlPlane interface {
	Register(ctx context.Context, req api.RegisterRequest) error
	PublishRunbook(ctx context.Context, rb *runbook.Runbook) error
	Actions(ctx context.Context, name string) (*api.AgentActions, error)
	ExecuteAction(ctx context.Context, name, actionID string, params map[string]any) (map[string]any, error)
}

// Options configures a Runtime.
type Options struct {
	Name     string
	Runbook  *runbook.Runbook
	Bus      bus.Bus
	Control  ControlPlane
	Logger   *zap.Logger
	Observer bus.Observer
	// StatusEndpoint is reported at registration; empty when the process
	// serves no status page.
	StatusEndpoint string
}

// Runtime holds the identity and transport of one agent process.
type Runtime struct {
	name      string
	inbox     string
	runbook   *runbook.Runbook
	bus       bus.Bus
	messenger *bus.Messenger
	control   ControlPlane
	observer  bus.Observer
	status    string
	logger    *zap.Logger
	startedAt time.Time

	mu      sync.RWMutex
	actions []types.Action
	loops   []func(ctx context.Context) error
}

// New creates a Runtime. The startup time is recorded here so messages
// produced before this process existed can be recognised as stale.
func New(opts Options) (*Runtime, error) {
	if opts.Name == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "agent name is required")
	}
	if opts.Bus == nil {
		return nil, types.NewError(types.ErrBusUnavailable, "message bus is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("agent", opts.Name))
	rb := opts.Runbook
	if rb == nil {
		rb = FallbackRunbook(opts.Name)
	}

	m := bus.NewMessenger(opts.Bus, opts.Name, logger)
	if opts.Observer != nil {
		m.SetObserver(opts.Observer)
	}
	return &Runtime{
		name:      opts.Name,
		inbox:     protocol.InboxTopic(opts.Name),
		runbook:   rb,
		bus:       opts.Bus,
		messenger: m,
		control:   opts.Control,
		observer:  opts.Observer,
		status:    opts.StatusEndpoint,
		logger:    logger,
		startedAt: time.Now(),
	}, nil
}

// Name returns the agent name.
func (r *Runtime) Name() string { return r.name }

// Inbox returns the agent's inbox topic.
func (r *Runtime) Inbox() string { return r.inbox }

// Runbook returns the parsed runbook.
func (r *Runtime) Runbook() *runbook.Runbook { return r.runbook }

// Messenger returns the publisher bound to this agent's name.
func (r *Runtime) Messenger() *bus.Messenger { return r.messenger }

// StartedAt returns the process startup time.
func (r *Runtime) StartedAt() time.Time { return r.startedAt }

// Logger returns the agent-scoped logger.
func (r *Runtime) Logger() *zap.Logger { return r.logger }

// Stale reports whether a wire timestamp predates this process. A zero
// timestamp is never stale.
func (r *Runtime) Stale(ts float64) bool {
	return ts > 0 && protocol.ToTime(ts).Before(r.startedAt)
}

// Go registers a background loop that runs alongside the inbox until the
// process stops. It must be called before Run.
func (r *Runtime) Go(loop func(ctx context.Context) error) {
	r.mu.Lock()
	r.loops = append(r.loops, loop)
	r.mu.Unlock()
}

// Start registers with the control plane, publishes the runbook, loads
// assigned actions and subscribes h to the inbox. Control-plane failures are
// logged and tolerated; a failed subscription is fatal.
func (r *Runtime) Start(ctx context.Context, h bus.MessageHandler) (bus.Subscription, error) {
	if r.control != nil {
		req := api.RegisterRequest{
			ID:             uuid.NewString(),
			Name:           r.name,
			Role:           r.runbook.JobTitle,
			InboxTopic:     r.inbox,
			StatusEndpoint: r.status,
		}
		if err := r.control.Register(ctx, req); err != nil {
			r.logger.Warn("registration failed", zap.Error(err))
		} else {
			r.logger.Info("registered with control plane", zap.String("id", req.ID))
		}
		if err := r.control.PublishRunbook(ctx, r.runbook); err != nil {
			r.logger.Warn("runbook publish failed", zap.Error(err))
		}
		if err := r.LoadActions(ctx); err != nil {
			r.logger.Warn("action load failed", zap.Error(err))
		}
	}

	sub, err := bus.SubscribeMessages(ctx, r.bus, r.inbox, h, r.observer)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", r.inbox, err)
	}
	r.logger.Info("listening", zap.String("inbox", r.inbox))
	return sub, nil
}

// Run starts the agent and blocks until ctx is cancelled or a background
// loop fails.
func (r *Runtime) Run(ctx context.Context, h bus.MessageHandler) error {
	sub, err := r.Start(ctx, h)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Debug("unsubscribe failed", zap.Error(err))
		}
	}()

	r.mu.RLock()
	loops := append([]func(context.Context) error(nil), r.loops...)
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-sub.Done():
			if ctx.Err() == nil {
				return types.NewError(types.ErrBusUnavailable, "inbox subscription ended")
			}
		}
		return nil
	})

	err = g.Wait()
	r.logger.Info("stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// =============================================================================
// Actions
// =============================================================================

// LoadActions fetches the actions assigned to this agent. Only enabled
// actions are kept.
func (r *Runtime) LoadActions(ctx context.Context) error {
	if r.control == nil {
		return nil
	}
	res, err := r.control.Actions(ctx, r.name)
	if err != nil {
		return err
	}
	enabled := make([]types.Action, 0, len(res.Actions))
	for _, a := range res.Actions {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	r.mu.Lock()
	r.actions = enabled
	r.mu.Unlock()
	if len(enabled) > 0 {
		r.logger.Info("actions loaded", zap.Int("count", len(enabled)))
	}
	return nil
}

// Actions returns the enabled actions assigned to this agent.
func (r *Runtime) Actions() []types.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Action(nil), r.actions...)
}

// Action looks up an enabled action by id.
func (r *Runtime) Action(id string) (types.Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.actions {
		if a.ID == id {
			return a, true
		}
	}
	return types.Action{}, false
}

// ExecuteAction runs one of this agent's actions through the control plane.
func (r *Runtime) ExecuteAction(ctx context.Context, actionID string, params map[string]any) (map[string]any, error) {
	if r.control == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "no control plane configured")
	}
	return r.control.ExecuteAction(ctx, r.name, actionID, params)
}

// =============================================================================
// Runbooks
// =============================================================================

// LoadRunbook reads name's runbook from store, falling back to a generic
// runbook when it is missing or unreadable.
func LoadRunbook(store *runbook.Store, name string, logger *zap.Logger) *runbook.Runbook {
	if logger == nil {
		logger = zap.NewNop()
	}
	rb, err := store.Load(name)
	if err != nil {
		if errors.Is(err, runbook.ErrNotFound) {
			logger.Warn("runbook not found, using defaults", zap.String("agent", name))
		} else {
			logger.Error("runbook load failed, using defaults", zap.String("agent", name), zap.Error(err))
		}
		return FallbackRunbook(name)
	}
	if problems := runbook.Validate(rb); len(problems) > 0 {
		logger.Warn("runbook has problems", zap.String("agent", name), zap.Strings("problems", problems))
	}
	return rb
}

// FallbackRunbook is the runbook of an agent that has none on disk.
func FallbackRunbook(name string) *runbook.Runbook {
	title := types.DisplayName(name)
	return &runbook.Runbook{
		AgentName: name,
		JobTitle:  title + " Agent",
		Role:      title + " agent with configurable capabilities",
		Capabilities: []types.Capability{{
			Name:        "task_processing",
			Description: fmt.Sprintf("Process tasks as a %s agent", strings.ToLower(name)),
		}},
	}
}
