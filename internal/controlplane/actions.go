package controlplane

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/actions"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/internal/registry"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🔧 动作服务器配置
// =============================================================================

// ReloadServers re-reads the action servers file.
func (s *Service) ReloadServers() error {
	set, err := actions.LoadServers(s.cfg.ServersFile, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.servers = set
	s.mu.Unlock()
	return nil
}

func (s *Service) server(id string) (actions.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, err := s.servers.Get(id)
	if err != nil {
		return actions.Server{}, types.Errorf(types.ErrActionServerNotFound, "Action server '%s' not found", id).WithCause(err)
	}
	return srv, nil
}

// ActionServers lists the configured servers without their tokens.
func (s *Service) ActionServers() []api.ActionServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.ActionServerInfo, 0, len(s.servers))
	for _, id := range s.servers.IDs() {
		out = append(out, serverInfo(s.servers[id]))
	}
	return out
}

func serverInfo(srv actions.Server) api.ActionServerInfo {
	return api.ActionServerInfo{
		ID:           srv.ID,
		Name:         srv.Name,
		Description:  srv.Description,
		Type:         srv.Type,
		URL:          srv.URL,
		AutoDiscover: srv.AutoDiscover,
	}
}

// LoadAgentConfigs applies every agent action config to the registry and
// returns how many were applied. Configs naming an unknown server are skipped.
func (s *Service) LoadAgentConfigs(ctx context.Context) (int, error) {
	names, err := s.configs.List()
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, name := range names {
		n, err := s.loadAgentConfig(ctx, name)
		if err != nil {
			s.logger.Warn("agent action config skipped", zap.String("agent", name), zap.Error(err))
			continue
		}
		s.logger.Info("agent actions loaded", zap.String("agent", name), zap.Int("actions", n))
		loaded++
	}
	return loaded, nil
}

// loadAgentConfig binds one agent to its configured server. Discovery is used
// when the server allows it; a failed discovery falls back to the actions
// listed in the file.
func (s *Service) loadAgentConfig(ctx context.Context, name string) (int, error) {
	cfg, err := s.configs.Load(name)
	if err != nil {
		return 0, err
	}
	srv, err := s.server(cfg.ActionServer)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.EnsureStub(ctx, cfg.AgentName); err != nil {
		return 0, err
	}

	acts := cfg.Actions
	if srv.AutoDiscover {
		found, err := s.client.Discover(ctx, srv)
		if err != nil {
			s.logger.Warn("action discovery failed, using configured actions",
				zap.String("agent", cfg.AgentName),
				zap.String("server", srv.ID),
				zap.Error(err),
			)
		} else {
			acts = found
		}
	}
	if err := s.store.SetActions(ctx, cfg.AgentName, srv.ID, acts); err != nil {
		return 0, err
	}
	return len(acts), nil
}

// =============================================================================
// 🔗 绑定 / 解绑
// =============================================================================

// AssignActionServer binds server to agent, reloads its actions and
// restarts the agent when it is running so the actions take effect.
func (s *Service) AssignActionServer(ctx context.Context, agent, server string) (string, *api.AssignResult, error) {
	name := types.NormalizeName(agent)
	rec, err := s.record(ctx, name)
	if err != nil {
		return "", nil, err
	}
	srv, err := s.server(server)
	if err != nil {
		return "", nil, err
	}

	if err := s.configs.Write(actions.AgentConfig{AgentName: name, ActionServer: srv.ID}); err != nil {
		return "", nil, internalError(err)
	}
	s.logger.Info("action server assigned", zap.String("agent", name), zap.String("server", srv.ID))

	res := &api.AssignResult{}
	n, err := s.loadAgentConfig(ctx, name)
	if err != nil {
		s.logger.Warn("reloading actions failed", zap.String("agent", name), zap.Error(err))
	}
	res.ActionCount = n

	if rec.Status == types.AgentRunning {
		if _, err := s.sup.Stop(ctx, name); err != nil {
			s.logger.Warn("stop for restart failed", zap.String("agent", name), zap.Error(err))
		} else if _, err := s.sup.Start(ctx, name); err != nil {
			s.logger.Warn("restart failed", zap.String("agent", name), zap.Error(err))
		} else {
			res.AgentRestarted = true
		}
	}
	return fmt.Sprintf("Action server '%s' assigned to agent '%s'", srv.ID, name), res, nil
}

// RemoveActionServer unbinds agent's action server and clears its actions.
func (s *Service) RemoveActionServer(ctx context.Context, agent string) (string, error) {
	name := types.NormalizeName(agent)
	if _, err := s.record(ctx, name); err != nil {
		return "", err
	}
	removed, err := s.configs.Remove(name)
	if err != nil {
		return "", internalError(err)
	}
	if !removed {
		return "", types.Errorf(types.ErrActionServerNotFound, "Agent '%s' has no action server assigned", name)
	}
	if err := s.store.SetActions(ctx, name, "", nil); err != nil {
		return "", internalError(err)
	}
	s.logger.Info("action server removed", zap.String("agent", name))
	return fmt.Sprintf("Action server removed from agent '%s'", name), nil
}

func (s *Service) record(ctx context.Context, name string) (*registry.Record, error) {
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, types.Errorf(types.ErrAgentNotFound, "Agent '%s' not found", name)
		}
		return nil, internalError(err)
	}
	return rec, nil
}

// =============================================================================
// ⚡ 动作查询与执行
// =============================================================================

// AgentActions returns the actions bound to name.
func (s *Service) AgentActions(ctx context.Context, name string) (*api.AgentActions, error) {
	rec, err := s.record(ctx, types.NormalizeName(name))
	if err != nil {
		return nil, err
	}
	out := &api.AgentActions{AgentName: rec.Name, Actions: rec.Actions}
	if out.Actions == nil {
		out.Actions = []types.Action{}
	}
	if rec.ActionServerName != "" {
		if srv, err := s.server(rec.ActionServerName); err == nil {
			info := serverInfo(srv)
			out.ActionServer = &info
		}
	}
	return out, nil
}

// ExecuteAction runs one of name's enabled actions. The returned map holds
// the action server's "result" or "error".
func (s *Service) ExecuteAction(ctx context.Context, name, actionID string, params map[string]any) (map[string]any, error) {
	rec, err := s.record(ctx, types.NormalizeName(name))
	if err != nil {
		return nil, err
	}
	if rec.ActionServerName == "" {
		return nil, types.Errorf(types.ErrActionServerNotFound, "Agent '%s' does not have an action server configured", rec.Name)
	}
	srv, err := s.server(rec.ActionServerName)
	if err != nil {
		return nil, types.Errorf(types.ErrActionServerNotFound, "Action server '%s' not found in configuration", rec.ActionServerName)
	}
	action, ok := actions.Find(rec.Actions, actionID)
	if !ok {
		return nil, types.Errorf(types.ErrActionNotFound, "Action '%s' not found for agent '%s'", actionID, rec.Name)
	}
	if !action.Enabled {
		return nil, types.Errorf(types.ErrActionDisabled, "Action '%s' is disabled", actionID)
	}
	if params == nil {
		params = map[string]any{}
	}

	res := s.client.Execute(ctx, srv, action, params)
	out := map[string]any{
		"agent_name":  rec.Name,
		"action_id":   action.ID,
		"action_name": action.Name,
	}
	for k, v := range res {
		out[k] = v
	}
	return out, nil
}

// AllActions flattens the actions of every agent.
func (s *Service) AllActions(ctx context.Context) (*api.ActionCatalog, error) {
	agents, err := s.Agents(ctx)
	if err != nil {
		return nil, err
	}
	owned := actions.Collect(agents)
	if owned == nil {
		owned = []actions.Owned{}
	}
	return &api.ActionCatalog{TotalAgents: len(agents), TotalActions: len(owned), Actions: owned}, nil
}

// SearchActions matches query against action names, descriptions and owners.
func (s *Service) SearchActions(ctx context.Context, query string) (*api.ActionSearch, error) {
	agents, err := s.Agents(ctx)
	if err != nil {
		return nil, err
	}
	matches := actions.Search(agents, query)
	return &api.ActionSearch{Query: query, TotalMatches: len(matches), Matches: matches}, nil
}

// ReloadActions re-reads the servers file and reapplies every agent config.
func (s *Service) ReloadActions(ctx context.Context) (string, error) {
	if err := s.ReloadServers(); err != nil {
		return "", internalError(err)
	}
	if _, err := s.LoadAgentConfigs(ctx); err != nil {
		return "", internalError(err)
	}
	return "Action configurations reloaded", nil
}

// DiscoverActions lists the actions server currently exposes without binding them.
func (s *Service) DiscoverActions(ctx context.Context, server string) (*api.DiscoveredActions, error) {
	srv, err := s.server(server)
	if err != nil {
		return nil, err
	}
	found, err := s.client.Discover(ctx, srv)
	if err != nil {
		return nil, types.Errorf(types.ErrUpstreamError, "Failed to discover actions: %v", err).WithCause(err)
	}
	return &api.DiscoveredActions{ServerName: srv.ID, ServerURL: srv.URL, TotalActions: len(found), Actions: found}, nil
}

// RefreshActions re-discovers name's actions from its auto-discover server.
func (s *Service) RefreshActions(ctx context.Context, name string) (*api.DiscoveredActions, error) {
	rec, err := s.record(ctx, types.NormalizeName(name))
	if err != nil {
		return nil, err
	}
	if rec.ActionServerName == "" {
		return nil, types.Errorf(types.ErrActionServerNotFound, "Agent '%s' has no action server configured", rec.Name)
	}
	srv, err := s.server(rec.ActionServerName)
	if err != nil {
		return nil, err
	}
	if !srv.AutoDiscover {
		return nil, types.Errorf(types.ErrInvalidRequest, "Action server '%s' does not have auto_discover enabled", srv.ID)
	}
	found, err := s.client.Discover(ctx, srv)
	if err != nil {
		return nil, types.Errorf(types.ErrUpstreamError, "Failed to refresh actions: %v", err).WithCause(err)
	}
	if err := s.store.SetActions(ctx, rec.Name, srv.ID, found); err != nil {
		return nil, internalError(err)
	}
	return &api.DiscoveredActions{AgentName: rec.Name, ServerName: srv.ID, TotalActions: len(found), Actions: found}, nil
}
