// Package procutil tracks the children this service spawns and provides
// process lookup and bounded command execution.
package procutil

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry keeps strong references to detached children and collects
// their exit status the moment they die, so they never linger as zombies
// holding a live-looking pid.
type Registry struct {
	mu       sync.Mutex
	children map[*exec.Cmd]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{children: make(map[*exec.Cmd]chan struct{})}
}

// Manage registers a started command. A background Wait collects the exit
// status as soon as the child dies; kill(pid, 0) probes would keep
// succeeding on an uncollected zombie.
func (r *Registry) Manage(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children[cmd] = done
}

// Len returns the number of tracked children.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

// Reap drops children whose exit status has been collected. Non-blocking.
func (r *Registry) Reap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cmd, done := range r.children {
		select {
		case <-done:
			delete(r.children, cmd)
		default:
		}
	}
}

// RunReaper reaps on a tick until the context is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// PidRunning reports whether pid is alive. Permission errors count as
// alive, matching kill(pid, 0) semantics.
func PidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// SignalPid sends sig to pid, logging failures at debug level.
func SignalPid(pid int, sig syscall.Signal) error {
	err := syscall.Kill(pid, sig)
	if err != nil {
		log.Debug().Int("pid", pid).Str("signal", sig.String()).Err(err).Msg("signal failed")
	}
	return err
}
