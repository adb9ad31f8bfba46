// Package supervisor starts, stops and reconciles agent processes. Every agent
// runs as its own child process of the orchestrator binary; the supervisor
// owns the process table and the status/pid columns of the registry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/registry"
	"github.com/BaSui01/agentmesh/types"
)

// Sentinel errors, wrapped in *types.Error by the operations below.
var (
	ErrAlreadyRunning  = errors.New("agent is already running")
	ErrRunbookNotFound = errors.New("runbook not found")
)

// EnvAgentName is set in every child's environment.
const EnvAgentName = "AGENTMESH_AGENT_NAME"

// Store is the part of the registry the supervisor mutates.
type Store interface {
	Get(ctx context.Context, name string) (*registry.Record, error)
	ListRunning(ctx context.Context) ([]registry.Record, error)
	SetStatus(ctx context.Context, name string, status types.AgentStatus, pid *int) error
}

// TransitionFunc observes status transitions (metrics).
type TransitionFunc func(agent string, from, to types.AgentStatus)

// Config controls where children come from and how long they get to exit.
type Config struct {
	Executable  string
	LogsDir     string
	RunbooksDir string
	GracePeriod time.Duration
	KillWait    time.Duration
}

// ConfigFrom maps the global supervisor section. An empty executable
// resolves to the running binary.
func ConfigFrom(c config.SupervisorConfig) Config {
	exe := c.Executable
	if exe == "" {
		if self, err := os.Executable(); err == nil {
			exe = self
		}
	}
	return Config{
		Executable:  exe,
		LogsDir:     c.LogsDir,
		RunbooksDir: c.RunbooksDir,
		GracePeriod: c.GracePeriod,
		KillWait:    c.KillWait,
	}
}

type child struct {
	cmd      *exec.Cmd
	logFile  *os.File
	done     chan struct{}
	stopping atomic.Bool
}

// Supervisor is safe for concurrent use; operations on one agent name are
// serialised by a per-name mutex.
type Supervisor struct {
	cfg    Config
	store  Store
	probe  Probe
	logger *zap.Logger

	locks sync.Map // name -> *sync.Mutex

	mu       sync.Mutex
	children map[string]*child

	onTransition TransitionFunc
}

// New creates a Supervisor. A nil probe uses gopsutil.
func New(cfg Config, store Store, probe Probe, logger *zap.Logger) *Supervisor {
	if probe == nil {
		probe = OSProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = 2 * time.Second
	}
	return &Supervisor{
		cfg:      cfg,
		store:    store,
		probe:    probe,
		logger:   logger.With(zap.String("component", "supervisor")),
		children: make(map[string]*child),
	}
}

// OnTransition registers a status transition observer.
func (s *Supervisor) OnTransition(fn TransitionFunc) {
	s.onTransition = fn
}

func (s *Supervisor) transition(agent string, from, to types.AgentStatus) {
	if s.onTransition != nil && from != to {
		s.onTransition(agent, from, to)
	}
}

func (s *Supervisor) lock(name string) func() {
	v, _ := s.locks.LoadOrStore(name, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Lock exposes the per-name mutex to callers that compose several
// operations (delete = stop + remove record + remove files).
func (s *Supervisor) Lock(name string) func() {
	return s.lock(types.NormalizeName(name))
}

// PID returns the pid of a tracked child.
func (s *Supervisor) PID(name string) *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[types.NormalizeName(name)]
	if !ok {
		return nil
	}
	pid := c.cmd.Process.Pid
	return &pid
}

// Tracked lists the names of children started by this supervisor.
func (s *Supervisor) Tracked() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.children))
	for n := range s.children {
		names = append(names, n)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// RunbookPath returns the runbook file a worker named name requires.
func (s *Supervisor) RunbookPath(name string) string {
	return filepath.Join(s.cfg.RunbooksDir, name+".md")
}

// =============================================================================
// 🚀 Start
// =============================================================================

// Start launches the agent process and returns the user-facing message.
func (s *Supervisor) Start(ctx context.Context, name string) (string, error) {
	name = types.NormalizeName(name)
	unlock := s.lock(name)
	defer unlock()
	return s.start(ctx, name)
}

func (s *Supervisor) start(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	_, running := s.children[name]
	s.mu.Unlock()
	if running {
		return "", types.Errorf(types.ErrAgentAlreadyRunning, "Agent '%s' is already running.", name).WithCause(ErrAlreadyRunning)
	}

	args := []string{"assistant"}
	if name != types.AssistantName {
		if _, err := os.Stat(s.RunbookPath(name)); err != nil {
			return "", types.Errorf(types.ErrRunbookNotFound, "Runbook not found for agent '%s'", name).WithCause(ErrRunbookNotFound)
		}
		args = []string{"worker", "--name", name}
	}

	if err := os.MkdirAll(s.cfg.LogsDir, 0o755); err != nil {
		return "", types.Errorf(types.ErrInternalError, "Failed to create logs directory").WithCause(err)
	}
	logPath := filepath.Join(s.cfg.LogsDir, name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", types.Errorf(types.ErrInternalError, "Failed to open log file for agent '%s'", name).WithCause(err)
	}

	cmd := exec.Command(s.cfg.Executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), EnvAgentName+"="+name)
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return "", types.Errorf(types.ErrInternalError, "Failed to start agent '%s': %v", name, err).WithCause(err)
	}

	c := &child{cmd: cmd, logFile: logFile, done: make(chan struct{})}
	s.mu.Lock()
	s.children[name] = c
	s.mu.Unlock()

	go s.wait(name, c)

	pid := cmd.Process.Pid
	s.logger.Info("agent process started",
		zap.String("agent", name),
		zap.Int("pid", pid),
		zap.String("log", logPath),
	)

	if name == types.AssistantName {
		return fmt.Sprintf("Assistant started with PID %d. Check logs/%s.log for details.", pid, name), nil
	}
	return fmt.Sprintf("Worker agent '%s' is starting with PID %d. Check logs/%s.log for details.", name, pid, name), nil
}

// wait reaps the child; an exit that was not requested marks the agent failed.
func (s *Supervisor) wait(name string, c *child) {
	err := c.cmd.Wait()
	_ = c.logFile.Close()

	s.mu.Lock()
	if s.children[name] == c {
		delete(s.children, name)
	}
	s.mu.Unlock()
	close(c.done)

	if c.stopping.Load() {
		return
	}

	s.logger.Warn("agent process exited unexpectedly", zap.String("agent", name), zap.Error(err))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, gerr := s.store.Get(ctx, name)
	if gerr != nil {
		// 进程在注册前就退出了
		return
	}
	if serr := s.store.SetStatus(ctx, name, types.AgentFailed, nil); serr != nil {
		s.logger.Error("failed to mark agent failed", zap.String("agent", name), zap.Error(serr))
		return
	}
	s.transition(name, rec.Status, types.AgentFailed)
}

// =============================================================================
// 🛑 Stop
// =============================================================================

// Stop terminates the agent (graceful, then forced) and records it stopped.
func (s *Supervisor) Stop(ctx context.Context, name string) (string, error) {
	name = types.NormalizeName(name)
	unlock := s.lock(name)
	defer unlock()
	return s.StopLocked(ctx, name)
}

// StopLocked is Stop for callers already holding Lock(name).
func (s *Supervisor) StopLocked(ctx context.Context, name string) (string, error) {
	rec, err := s.store.Get(ctx, name)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return "", types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	c, tracked := s.children[name]
	s.mu.Unlock()

	switch {
	case tracked:
		if err := s.stopChild(ctx, name, c); err != nil {
			return "", types.Errorf(types.ErrInternalError, "Error stopping process: %v", err).WithCause(err)
		}
	case rec != nil && rec.PID != nil && rec.Status == types.AgentRunning:
		if err := s.stopPID(ctx, name, *rec.PID); err != nil {
			return "", types.Errorf(types.ErrInternalError, "Error killing stale PID: %v", err).WithCause(err)
		}
	}

	if rec == nil {
		return "", types.Errorf(types.ErrAgentNotFound, "Agent '%s' not found in database", name)
	}
	if err := s.store.SetStatus(ctx, name, types.AgentStopped, nil); err != nil {
		return "", types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}
	s.transition(name, rec.Status, types.AgentStopped)
	return fmt.Sprintf("Agent '%s' stopped", name), nil
}

func (s *Supervisor) stopChild(ctx context.Context, name string, c *child) error {
	c.stopping.Store(true)

	select {
	case <-c.done:
		s.logger.Info("agent already stopped", zap.String("agent", name))
		return nil
	default:
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !isGone(err) {
		s.logger.Warn("SIGTERM failed, killing", zap.String("agent", name), zap.Error(err))
	}

	select {
	case <-c.done:
		s.logger.Info("agent stopped gracefully", zap.String("agent", name))
		return nil
	case <-time.After(s.cfg.GracePeriod):
	case <-ctx.Done():
	}

	s.logger.Warn("agent did not respond, force killing", zap.String("agent", name))
	if err := c.cmd.Process.Kill(); err != nil && !isGone(err) {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(s.cfg.KillWait):
		return fmt.Errorf("process %d did not exit after SIGKILL", c.cmd.Process.Pid)
	}
}

// stopPID handles a pid recorded by an earlier supervisor instance.
func (s *Supervisor) stopPID(ctx context.Context, name string, pid int) error {
	if !s.probe.Alive(ctx, pid) {
		s.logger.Info("stale pid already dead", zap.String("agent", name), zap.Int("pid", pid))
		return nil
	}
	if err := s.probe.Terminate(ctx, pid); err != nil {
		return err
	}
	if waitGone(ctx, s.probe, pid, s.cfg.KillWait) {
		s.logger.Info("killed stale process", zap.String("agent", name), zap.Int("pid", pid))
		return nil
	}
	return s.probe.Kill(ctx, pid)
}

// StopAll stops every tracked child concurrently; force skips SIGTERM.
func (s *Supervisor) StopAll(ctx context.Context, force bool) int {
	names := s.Tracked()
	var wg sync.WaitGroup
	var stopped atomic.Int32
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if force {
				unlock := s.lock(name)
				defer unlock()
				s.mu.Lock()
				c, ok := s.children[name]
				s.mu.Unlock()
				if ok {
					c.stopping.Store(true)
					_ = c.cmd.Process.Kill()
					<-c.done
				}
				if err := s.store.SetStatus(ctx, name, types.AgentStopped, nil); err == nil {
					stopped.Add(1)
				}
				return
			}
			if _, err := s.Stop(ctx, name); err != nil {
				s.logger.Warn("failed to stop agent", zap.String("agent", name), zap.Error(err))
				return
			}
			stopped.Add(1)
		}(name)
	}
	wg.Wait()
	return int(stopped.Load())
}

// =============================================================================
// 🧹 Reconcile
// =============================================================================

// Reconcile marks every record persisted as running stopped unless its
// recorded pid is a live process. It returns the number of records fixed.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	recs, err := s.store.ListRunning(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, rec := range recs {
		if rec.PID != nil && s.probe.Alive(ctx, *rec.PID) {
			s.logger.Info("agent is actually running", zap.String("agent", rec.Name), zap.Int("pid", *rec.PID))
			continue
		}
		if rec.PID == nil {
			s.logger.Info("agent has no pid but marked running", zap.String("agent", rec.Name))
		} else {
			s.logger.Info("agent process is dead", zap.String("agent", rec.Name), zap.Int("pid", *rec.PID))
		}
		if err := s.store.SetStatus(ctx, rec.Name, types.AgentStopped, nil); err != nil {
			return cleaned, err
		}
		s.transition(rec.Name, types.AgentRunning, types.AgentStopped)
		cleaned++
	}

	s.logger.Info("stale agent records cleaned", zap.Int("count", cleaned))
	return cleaned, nil
}
