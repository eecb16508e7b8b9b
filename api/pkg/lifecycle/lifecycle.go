// Package lifecycle coordinates the slow-path transitions: suspending and
// resuming sessions, resetting the workspace, and orderly container
// shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/broker"
	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/recorder"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/types"
)

// componentStopOrder is the teardown sequence: outermost consumers first,
// the display server last. Each gets componentStopTimeout after SIGTERM.
var componentStopOrder = []string{
	"novnc_proxy",
	"websockify",
	"x11vnc",
	"winedbg",
	"gdb",
	"openbox",
	"explorer.exe",
	"Xvfb",
}

const (
	componentStopTimeout = 3 * time.Second
	winebootTimeout      = 10 * time.Second
	wineserverTimeout    = 5 * time.Second
)

// protectedExeNames are wine system processes reset_workspace never kills.
var protectedExeNames = map[string]bool{
	"explorer.exe":   true,
	"services.exe":   true,
	"winedevice.exe": true,
	"plugplay.exe":   true,
	"svchost.exe":    true,
	"rpcss.exe":      true,
	"conhost.exe":    true,
}

// Supervisor owns the slow-path transitions.
type Supervisor struct {
	cfg      *config.ServerConfig
	sessions *session.Manager
	broker   *broker.Broker
	recorder *recorder.Supervisor
}

func NewSupervisor(cfg *config.ServerConfig, sessions *session.Manager, b *broker.Broker, rec *recorder.Supervisor) *Supervisor {
	return &Supervisor{cfg: cfg, sessions: sessions, broker: b, recorder: rec}
}

// SuspendResult reports what a suspend actually did.
type SuspendResult struct {
	Status           string `json:"status"`
	SessionID        string `json:"session_id"`
	SessionDir       string `json:"session_dir"`
	RecordingStopped bool   `json:"recording_stopped"`
	WineShutdown     bool   `json:"wine_shutdown"`
}

// SuspendSession parks the current session: recording stops, wine
// optionally shuts down, the state file flips to suspended. The session
// directory and its artifacts stay intact for a later resume.
func (s *Supervisor) SuspendSession(ctx context.Context, req types.SessionSuspendRequest) (SuspendResult, error) {
	dir, err := s.sessions.ResolveSession(req.SessionID, req.SessionDir, "")
	if err != nil {
		return SuspendResult{}, err
	}
	result := SuspendResult{
		SessionID:  session.IDFromDir(dir),
		SessionDir: dir,
	}

	stopRecording := req.StopRecording == nil || *req.StopRecording
	if stopRecording {
		if action, err := s.recorder.Stop(ctx, dir); err == nil && action.Status == "stopped" {
			result.RecordingStopped = true
		}
	}

	shutdownWine := req.ShutdownWine == nil || *req.ShutdownWine
	if shutdownWine {
		s.shutdownWine(ctx)
		result.WineShutdown = true
	}

	if err := s.sessions.WriteState(dir, "suspended"); err != nil {
		return result, err
	}
	if s.sessions.CurrentDir() == dir {
		_ = s.sessions.SetCurrentDir("")
	}
	s.sessions.AppendLifecycle(dir, "session_suspended", "session suspended", "api", nil)
	log.Info().Str("session_dir", dir).Msg("session suspended")
	result.Status = "suspended"
	return result, nil
}

// ResumeResult reports what a resume actually did.
type ResumeResult struct {
	Status        string `json:"status"`
	SessionID     string `json:"session_id"`
	SessionDir    string `json:"session_dir"`
	WineRestarted bool   `json:"wine_restarted"`
}

// ResumeSession makes a suspended session current again: the wine user
// profile is relinked at the session's user dir, the pointer file is
// updated and the broker rebinds.
func (s *Supervisor) ResumeSession(ctx context.Context, req types.SessionResumeRequest) (ResumeResult, error) {
	dir, err := s.sessions.ResolveSession(req.SessionID, req.SessionDir, req.SessionRoot)
	if err != nil {
		return ResumeResult{}, err
	}
	result := ResumeResult{
		SessionID:  session.IDFromDir(dir),
		SessionDir: dir,
	}

	if err := s.sessions.EnsureSubdirs(dir); err != nil {
		return result, err
	}
	if err := s.sessions.LinkUserDir(session.UserDir(dir)); err != nil {
		return result, err
	}
	if err := s.sessions.SetCurrentDir(dir); err != nil {
		return result, err
	}
	if err := s.sessions.WriteState(dir, "active"); err != nil {
		return result, err
	}
	s.broker.UpdateSession(session.IDFromDir(dir), s.cfg.Interactive())

	if req.RestartWine != nil && *req.RestartWine {
		s.shutdownWine(ctx)
		boot := procutil.SafeCommand(ctx, winebootTimeout, "wineboot", "--init")
		result.WineRestarted = boot.OK
	}

	s.sessions.AppendLifecycle(dir, "session_resumed", "session resumed", "api", nil)
	log.Info().Str("session_dir", dir).Msg("session resumed")
	result.Status = "resumed"
	return result, nil
}

// shutdownWine asks wine to come down gracefully, then kills the server.
func (s *Supervisor) shutdownWine(ctx context.Context) {
	if boot := procutil.SafeCommand(ctx, winebootTimeout, "wineboot", "--shutdown"); !boot.OK {
		log.Warn().Str("error", boot.Error).Msg("wineboot shutdown failed")
	}
	if srv := procutil.SafeCommand(ctx, wineserverTimeout, "wineserver", "-k"); !srv.OK {
		log.Debug().Str("error", srv.Error).Msg("wineserver kill returned non-zero")
	}
}

// Shutdown brings the whole container down: recording is finalised, wine
// exits, the desktop components stop in order, then PID 1 is signalled.
// delay postpones the PID 1 signal; powerOff escalates it to SIGKILL.
func (s *Supervisor) Shutdown(ctx context.Context, delay time.Duration, powerOff bool) {
	dir := s.sessions.CurrentDir()
	if dir != "" {
		s.sessions.AppendLifecycle(dir, "shutdown_requested",
			fmt.Sprintf("delay=%s power_off=%t", delay, powerOff), "api", nil)
		if _, err := s.recorder.Stop(ctx, dir); err != nil {
			log.Warn().Err(err).Msg("recorder stop during shutdown failed")
		}
	}

	s.shutdownWine(ctx)
	s.stopComponents()

	if dir != "" {
		s.sessions.AppendLifecycle(dir, "api_stopped", "shutting down", "api", nil)
	}
	s.scheduleInitSignal(delay, powerOff)
}

// stopComponents SIGTERMs every desktop component in teardown order,
// giving each a bounded wait before moving on.
func (s *Supervisor) stopComponents() {
	for _, name := range componentStopOrder {
		pids := procutil.FindProcesses(name, true)
		if len(pids) == 0 {
			pids = procutil.FindProcesses(name, false)
		}
		for _, pid := range pids {
			log.Info().Str("component", name).Int32("pid", pid).Msg("stopping component")
			_ = procutil.SignalPid(int(pid), syscall.SIGTERM)
		}
		deadline := time.Now().Add(componentStopTimeout)
		for time.Now().Before(deadline) {
			alive := false
			for _, pid := range pids {
				if procutil.PidRunning(int(pid)) {
					alive = true
					break
				}
			}
			if !alive {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// scheduleInitSignal signals PID 1 after delay, with a detached shell
// sleeper as backup in case this process dies first.
func (s *Supervisor) scheduleInitSignal(delay time.Duration, powerOff bool) {
	sig := syscall.SIGTERM
	sigNum := "15"
	if powerOff {
		sig = syscall.SIGKILL
		sigNum = "9"
	}
	seconds := int(delay.Seconds())
	if seconds < 0 {
		seconds = 0
	}

	backup := exec.Command("sh", "-c",
		fmt.Sprintf("sleep %d; kill -%s 1", seconds, sigNum))
	if err := backup.Start(); err != nil {
		log.Warn().Err(err).Msg("backup shutdown sleeper failed to start")
	} else {
		go func() { _ = backup.Wait() }()
	}

	go func() {
		time.Sleep(delay)
		log.Info().Bool("power_off", powerOff).Msg("signalling init")
		_ = procutil.SignalPid(1, sig)
	}()
}

// ResetResult lists what reset_workspace closed.
type ResetResult struct {
	Status string   `json:"status"`
	Killed []string `json:"killed"`
}

// ResetWorkspace closes every user-launched windows app while leaving the
// wine system processes alone.
func (s *Supervisor) ResetWorkspace(ctx context.Context) ResetResult {
	result := ResetResult{Status: "reset", Killed: []string{}}
	for _, name := range procutil.ListExeProcesses() {
		if protectedExeNames[name] {
			continue
		}
		for _, pid := range procutil.FindProcesses(name, true) {
			if err := procutil.SignalPid(int(pid), syscall.SIGTERM); err == nil {
				result.Killed = append(result.Killed, name+":"+strconv.Itoa(int(pid)))
			}
		}
	}
	dir := s.sessions.CurrentDir()
	if dir != "" {
		s.sessions.AppendLifecycle(dir, "workspace_reset",
			fmt.Sprintf("%d processes closed", len(result.Killed)), "api", nil)
	}
	return result
}

// OpenboxReconfigure reloads the window manager configuration in place.
func (s *Supervisor) OpenboxReconfigure(ctx context.Context) procutil.CommandResult {
	return procutil.SafeCommand(ctx, 0, "openbox", "--reconfigure")
}

// OpenboxRestart restarts the window manager without dropping the session.
func (s *Supervisor) OpenboxRestart(ctx context.Context) procutil.CommandResult {
	return procutil.SafeCommand(ctx, 0, "openbox", "--restart")
}
