package controlplane

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 📖 内存中的 runbook 集合
// =============================================================================

// PutRunbook registers a parsed runbook posted by an agent.
func (s *Service) PutRunbook(rb *runbook.Runbook) (string, error) {
	if rb == nil || rb.AgentName == "" {
		return "", types.NewError(types.ErrInvalidRequest, "agent_name is required")
	}
	s.putRunbook(rb)
	return "Runbook registered for " + rb.AgentName, nil
}

func (s *Service) putRunbook(rb *runbook.Runbook) {
	s.mu.Lock()
	s.parsed[rb.AgentName] = rb
	s.mu.Unlock()
}

func (s *Service) dropRunbook(name string) {
	s.mu.Lock()
	delete(s.parsed, name)
	s.mu.Unlock()
}

// Runbooks returns the registered runbooks sorted by agent name.
func (s *Service) Runbooks() []*runbook.Runbook {
	s.mu.RLock()
	out := make([]*runbook.Runbook, 0, len(s.parsed))
	for _, rb := range s.parsed {
		out = append(out, rb)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	return out
}

// Runbook returns name's registered runbook.
func (s *Service) Runbook(name string) (*runbook.Runbook, error) {
	s.mu.RLock()
	rb, ok := s.parsed[name]
	s.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrRunbookNotFound, "Runbook not found for agent %s", name)
	}
	return rb, nil
}

// RunbookHTML renders name's runbook file for the dashboard.
func (s *Service) RunbookHTML(name string) (string, error) {
	md, err := s.runbooks.Read(name)
	if err != nil {
		return "", types.Errorf(types.ErrRunbookNotFound, "Runbook not found for agent %s", name).WithCause(err)
	}
	return runbook.RenderHTML(md)
}

// Capabilities flattens the capabilities of every registered runbook.
func (s *Service) Capabilities() []api.AgentCapability {
	out := []api.AgentCapability{}
	for _, rb := range s.Runbooks() {
		for _, c := range rb.Capabilities {
			out = append(out, api.AgentCapability{Agent: rb.AgentName, Capability: c})
		}
	}
	return out
}

// LoadRunbooks replaces the registered set with the runbooks on disk.
func (s *Service) LoadRunbooks() int {
	all := s.runbooks.LoadAll()
	s.mu.Lock()
	s.parsed = all
	s.mu.Unlock()
	return len(all)
}

// WatchRunbooks keeps the registered set in step with the runbooks
// directory until ctx ends.
func (s *Service) WatchRunbooks(ctx context.Context) error {
	return s.runbooks.Watch(ctx, func(name string, removed bool) {
		if removed {
			s.dropRunbook(name)
			s.logger.Info("runbook removed", zap.String("agent", name))
			return
		}
		rb, err := s.runbooks.Load(name)
		if err != nil {
			s.logger.Warn("runbook reload failed", zap.String("agent", name), zap.Error(err))
			return
		}
		for _, problem := range runbook.Validate(rb) {
			s.logger.Warn("runbook problem", zap.String("agent", name), zap.String("problem", problem))
		}
		s.putRunbook(rb)
		s.logger.Info("runbook reloaded", zap.String("agent", name))
	})
}
