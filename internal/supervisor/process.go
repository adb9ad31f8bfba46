package supervisor

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Probe inspects and signals OS processes by pid.
type Probe interface {
	Alive(ctx context.Context, pid int) bool
	Terminate(ctx context.Context, pid int) error
	Kill(ctx context.Context, pid int) error
}

// OSProbe implements Probe with gopsutil.
type OSProbe struct{}

// Alive reports whether pid names a live process. Zombies count as dead.
func (OSProbe) Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// Terminate sends SIGTERM. A process that is already gone is not an error.
func (OSProbe) Terminate(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	if err := p.TerminateWithContext(ctx); err != nil && !isGone(err) {
		return err
	}
	return nil
}

// Kill sends SIGKILL. A process that is already gone is not an error.
func (OSProbe) Kill(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	if err := p.KillWithContext(ctx); err != nil && !isGone(err) {
		return err
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, os.ErrProcessDone) ||
		errors.Is(err, syscall.ESRCH)
}

// waitGone polls until pid disappears or the timeout elapses.
func waitGone(ctx context.Context, probe Probe, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !probe.Alive(ctx, pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
