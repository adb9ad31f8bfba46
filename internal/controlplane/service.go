// Package controlplane implements the orchestrator's operations: the agent
// registry and process lifecycle, runbook and action-server management, and
// the startup sequence. HTTP handlers are thin adapters over Service.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/actions"
	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/registry"
	"github.com/BaSui01/agentmesh/types"
)

// AssistantReady is published to the default user session when the
// assistant registers.
const AssistantReady = "[ASSISTANT_READY]"

// Supervisor is the process supervisor the service drives.
type Supervisor interface {
	Start(ctx context.Context, name string) (string, error)
	Stop(ctx context.Context, name string) (string, error)
	StopLocked(ctx context.Context, name string) (string, error)
	StopAll(ctx context.Context, force bool) int
	Reconcile(ctx context.Context) (int, error)
	Lock(name string) func()
	PID(name string) *int
}

// ActionClient discovers and executes actions on action servers.
type ActionClient interface {
	Discover(ctx context.Context, srv actions.Server) ([]types.Action, error)
	Execute(ctx context.Context, srv actions.Server, action types.Action, params map[string]any) map[string]any
}

// Config 控制面参数
type Config struct {
	SessionID      string
	ServersFile    string
	AutoStart      bool
	AutoStartDelay time.Duration
}

// ConfigFrom maps the global configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		SessionID:      c.Mesh.SessionID,
		ServersFile:    c.Actions.ServersFile,
		AutoStart:      c.Supervisor.AutoStart,
		AutoStartDelay: c.Supervisor.AutoStartDelay,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store      *registry.Store
	Supervisor Supervisor
	Runbooks   *runbook.Store
	Configs    *actions.ConfigStore
	Actions    ActionClient
	Bus        bus.Bus
	Logger     *zap.Logger
}

// Service is safe for concurrent use.
type Service struct {
	cfg      Config
	store    *registry.Store
	sup      Supervisor
	runbooks *runbook.Store
	configs  *actions.ConfigStore
	client   ActionClient
	bus      bus.Bus
	logger   *zap.Logger

	startedAt time.Time

	mu      sync.RWMutex
	parsed  map[string]*runbook.Runbook
	servers actions.ServerSet
}

// New creates a Service. Call Boot before serving requests.
func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "main"
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sup:       deps.Supervisor,
		runbooks:  deps.Runbooks,
		configs:   deps.Configs,
		client:    deps.Actions,
		bus:       deps.Bus,
		logger:    logger.With(zap.String("component", "controlplane")),
		startedAt: time.Now(),
		parsed:    make(map[string]*runbook.Runbook),
		servers:   actions.ServerSet{},
	}
}

// StartedAt is the orchestrator start time.
func (s *Service) StartedAt() time.Time { return s.startedAt }

// SessionID is the default user session.
func (s *Service) SessionID() string { return s.cfg.SessionID }

// Store exposes the registry for readiness checks.
func (s *Service) Store() *registry.Store { return s.store }

// Bus exposes the message bus.
func (s *Service) Bus() bus.Bus { return s.bus }

func internalError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	return types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
}

// =============================================================================
// 🤖 Registry
// =============================================================================

// Agents lists every Agent Record.
func (s *Service) Agents(ctx context.Context) ([]types.AgentInfo, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	out := make([]types.AgentInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Info())
	}
	return out, nil
}

// Available lists the agents that can be started: the assistant plus every
// runbook on disk, sorted.
func (s *Service) Available() ([]string, error) {
	names, err := s.runbooks.List()
	if err != nil {
		return nil, internalError(err)
	}
	out := []string{types.AssistantName}
	for _, n := range names {
		if n != types.AssistantName {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Register upserts the calling agent's record with the supervisor's pid.
func (s *Service) Register(ctx context.Context, req api.RegisterRequest) (types.AgentInfo, error) {
	if req.Name == "" {
		return types.AgentInfo{}, types.NewError(types.ErrInvalidRequest, "name is required")
	}
	name := types.NormalizeName(req.Name)
	inbox := req.InboxTopic
	if inbox == "" {
		inbox = protocol.InboxTopic(name)
	}
	rec, err := s.store.Register(ctx, registry.Registration{
		ID:             req.ID,
		Name:           name,
		Role:           req.Role,
		InboxTopic:     inbox,
		StatusEndpoint: req.StatusEndpoint,
	}, s.sup.PID(name))
	if err != nil {
		return types.AgentInfo{}, internalError(err)
	}

	if name == types.AssistantName {
		topic := protocol.UserTopic(s.cfg.SessionID)
		if err := s.bus.Publish(ctx, topic, []byte(AssistantReady)); err != nil {
			s.logger.Warn("failed to announce assistant readiness", zap.String("topic", topic), zap.Error(err))
		} else {
			s.logger.Info("assistant readiness announced", zap.String("topic", topic))
		}
	}
	return rec.Info(), nil
}

// Start launches name.
func (s *Service) Start(ctx context.Context, name string) (string, error) {
	return s.sup.Start(ctx, name)
}

// Stop stops name.
func (s *Service) Stop(ctx context.Context, name string) (string, error) {
	return s.sup.Stop(ctx, name)
}

// StopByID stops the agent whose record has id.
func (s *Service) StopByID(ctx context.Context, id string) (string, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", types.NewError(types.ErrAgentNotFound, "Agent not found")
		}
		return "", internalError(err)
	}
	return s.sup.Stop(ctx, rec.Name)
}

// Invoke posts message to the inbox of the agent with id as a chat request
// answered on the default user session.
func (s *Service) Invoke(ctx context.Context, id, message string) (string, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", types.NewError(types.ErrAgentNotFound, "Agent not found")
		}
		return "", internalError(err)
	}
	payload, err := protocol.Encode(&protocol.ChatRequest{
		Messages: []types.Message{types.NewUserMessage(message)},
		ReplyTo:  protocol.UserTopic(s.cfg.SessionID),
	})
	if err != nil {
		return "", internalError(err)
	}
	topic := rec.InboxTopic
	if topic == "" {
		topic = protocol.InboxTopic(rec.Name)
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		return "", types.NewError(types.ErrBusUnavailable, err.Error()).WithCause(err).WithRetryable(true)
	}
	return fmt.Sprintf("Message sent to %s", rec.Name), nil
}

// Shutdown stops every tracked agent process and returns how many stopped.
func (s *Service) Shutdown(ctx context.Context, force bool) int {
	mode := "graceful"
	if force {
		mode = "force"
	}
	s.logger.Info("shutdown requested", zap.String("mode", mode))
	n := s.sup.StopAll(ctx, force)
	s.logger.Info("agents stopped", zap.Int("count", n))
	return n
}

// =============================================================================
// 🛠️ Create / Delete
// =============================================================================

var validName = regexp.MustCompile(`^[a-z0-9_]+$`)

// Create writes a runbook for a new agent, binds its action server and
// starts it. Files written here are removed again when the start fails.
func (s *Service) Create(ctx context.Context, req api.CreateAgentRequest) (string, error) {
	name := types.NormalizeName(req.Name)
	if !validName.MatchString(name) {
		return "", types.NewError(types.ErrInvalidRequest, "Agent name must contain only letters, numbers, and underscores")
	}
	if req.Role == "" {
		return "", types.NewError(types.ErrInvalidRequest, "role is required")
	}

	unlock := s.sup.Lock(name)
	_, err := s.store.Get(ctx, name)
	switch {
	case err == nil:
		unlock()
		return "", types.Errorf(types.ErrAgentAlreadyExists, "Agent '%s' already exists", name)
	case !errors.Is(err, registry.ErrNotFound):
		unlock()
		return "", internalError(err)
	}

	var srv actions.Server
	if req.ActionServer != "" {
		if srv, err = s.server(req.ActionServer); err != nil {
			unlock()
			return "", err
		}
	}

	if removed, _ := s.runbooks.Remove(name); removed {
		s.logger.Info("cleaned up orphaned runbook", zap.String("agent", name))
	}

	caps := make([]runbook.CapabilitySpec, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, runbook.CapabilitySpec{Name: c.Name, Description: c.Description})
	}
	md := runbook.Generate(name, req.Role, caps)
	if err := s.runbooks.Write(name, md); err != nil {
		unlock()
		return "", internalError(err)
	}
	s.putRunbook(runbook.Parse(name, md))
	s.logger.Info("runbook created", zap.String("agent", name))

	if req.ActionServer != "" {
		if err := s.configs.Write(actions.AgentConfig{AgentName: name, ActionServer: srv.ID}); err != nil {
			s.rollbackCreate(ctx, name)
			unlock()
			return "", internalError(err)
		}
		if _, err := s.loadAgentConfig(ctx, name); err != nil {
			s.logger.Warn("action discovery before start failed", zap.String("agent", name), zap.Error(err))
		}
	}
	unlock()

	if _, err := s.sup.Start(ctx, name); err != nil {
		s.rollbackCreate(ctx, name)
		code := types.GetErrorCode(err)
		if code == "" {
			code = types.ErrInternalError
		}
		return "", types.Errorf(code, "Agent created but failed to start: %s", errorText(err)).WithCause(err)
	}
	return fmt.Sprintf("Agent '%s' created and started successfully", name), nil
}

func (s *Service) rollbackCreate(ctx context.Context, name string) {
	_, _ = s.runbooks.Remove(name)
	_, _ = s.configs.Remove(name)
	_, _ = s.store.Delete(ctx, name)
	s.dropRunbook(name)
}

func errorText(err error) string {
	if e, ok := types.AsError(err); ok {
		return e.Message
	}
	return err.Error()
}

// Delete stops an agent, removes its record and config and optionally its
// runbook. The assistant cannot be deleted.
func (s *Service) Delete(ctx context.Context, req api.DeleteAgentRequest) (string, *api.DeleteResult, error) {
	name := types.NormalizeName(req.Name)
	if name == types.AssistantName {
		return "", nil, types.NewError(types.ErrForbidden, "Cannot delete the assistant agent")
	}

	unlock := s.sup.Lock(name)
	defer unlock()

	rec, err := s.store.Get(ctx, name)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return "", nil, internalError(err)
	}
	if rec == nil && !s.runbooks.Exists(name) {
		return "", nil, types.Errorf(types.ErrAgentNotFound, "Agent '%s' not found", name)
	}

	res := &api.DeleteResult{}
	// 刚创建的 Agent 可能尚未注册：只要 supervisor 仍在跟踪子进程就要停止
	tracked := s.sup.PID(name) != nil
	if rec != nil || tracked {
		wasRunning := tracked || rec.Status == types.AgentRunning
		_, err := s.sup.StopLocked(ctx, name)
		switch {
		case err == nil, rec == nil && types.GetErrorCode(err) == types.ErrAgentNotFound:
			res.ProcessStopped = wasRunning
		default:
			s.logger.Warn("stop before delete failed", zap.String("agent", name), zap.Error(err))
		}
	}
	// 进程停止前可能已完成注册，记录总是按名删除
	deleted, err := s.store.Delete(ctx, name)
	if err != nil {
		return "", nil, internalError(err)
	}
	if deleted {
		s.logger.Info("agent record deleted", zap.String("agent", name))
	}

	if req.RemoveRunbook {
		removed, err := s.runbooks.Remove(name)
		if err != nil {
			return "", nil, internalError(err)
		}
		res.RunbookRemoved = removed
	}
	removed, err := s.configs.Remove(name)
	if err != nil {
		return "", nil, internalError(err)
	}
	res.ConfigRemoved = removed
	s.dropRunbook(name)

	return fmt.Sprintf("Agent '%s' deleted successfully", name), res, nil
}
