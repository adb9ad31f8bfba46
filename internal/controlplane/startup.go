package controlplane

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Boot reconciles stale records and loads runbooks, action servers and agent
// action configs. Only a failed reconciliation is fatal.
func (s *Service) Boot(ctx context.Context) error {
	cleaned, err := s.sup.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile agent records: %w", err)
	}
	s.logger.Info("stale records reconciled", zap.Int("cleaned", cleaned))

	s.LoadRunbooks()

	if err := s.ReloadServers(); err != nil {
		s.logger.Warn("action servers not loaded", zap.Error(err))
	}
	if n, err := s.LoadAgentConfigs(ctx); err != nil {
		s.logger.Warn("agent action configs not loaded", zap.Error(err))
	} else {
		s.logger.Info("agent action configs loaded", zap.Int("count", n))
	}
	return nil
}

// AutoStart waits for the configured delay and then starts every available
// agent concurrently. It returns the started and failed counts.
func (s *Service) AutoStart(ctx context.Context) (started, failed int) {
	if !s.cfg.AutoStart {
		return 0, 0
	}
	if s.cfg.AutoStartDelay > 0 {
		t := time.NewTimer(s.cfg.AutoStartDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return 0, 0
		case <-t.C:
		}
	}

	names, err := s.Available()
	if err != nil {
		s.logger.Error("auto-start aborted", zap.Error(err))
		return 0, 0
	}

	var ok, bad atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if _, err := s.sup.Start(gctx, name); err != nil {
				s.logger.Warn("auto-start failed", zap.String("agent", name), zap.Error(err))
				bad.Add(1)
				return nil
			}
			s.logger.Info("agent auto-started", zap.String("agent", name))
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	started, failed = int(ok.Load()), int(bad.Load())
	s.logger.Info("auto-start complete", zap.Int("started", started), zap.Int("failed", failed))
	return started, failed
}
