package trace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/types"
)

// Fabric supervises the trace layers. Every layer shares the same
// contract: a state sidecar, a pid sidecar for layers backed by a child
// process, and a JSONL log; start and stop are idempotent.
type Fabric struct {
	cfg      *config.ServerConfig
	sessions *session.Manager
	registry *procutil.Registry

	selfExe string
}

func NewFabric(cfg *config.ServerConfig, sessions *session.Manager, registry *procutil.Registry) *Fabric {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return &Fabric{cfg: cfg, sessions: sessions, registry: registry, selfExe: exe}
}

// LayerStatus is the per-layer status payload.
type LayerStatus struct {
	Source  Source `json:"source"`
	Running bool   `json:"running"`
	State   string `json:"state,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Backend string `json:"backend,omitempty"`
	LogPath string `json:"log_path,omitempty"`
}

// ActionResult reports the outcome of a layer start or stop.
type ActionResult struct {
	Status  string `json:"status"`
	Source  Source `json:"source"`
	PID     int    `json:"pid,omitempty"`
	Backend string `json:"backend,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Status inspects a layer's sidecar files.
func (f *Fabric) Status(dir string, src Source) LayerStatus {
	st := LayerStatus{Source: src, LogPath: LogPath(dir, src)}
	if dir == "" {
		return st
	}
	if data, err := os.ReadFile(StatePath(dir, src)); err == nil {
		st.State = strings.TrimSpace(string(data))
	}
	if src == SourceClient {
		st.Running = st.State == "on"
		return st
	}
	if pid, ok := fsutil.ReadPID(PidPath(dir, src)); ok && procutil.PidRunning(pid) {
		st.Running = true
		st.PID = pid
	}
	if src == SourceWindows {
		if data, err := os.ReadFile(BackendPath(dir)); err == nil {
			st.Backend = strings.TrimSpace(string(data))
		}
	}
	return st
}

// StatusAll returns every layer's status.
func (f *Fabric) StatusAll(dir string) []LayerStatus {
	out := make([]LayerStatus, 0, len(Sources))
	for _, src := range Sources {
		out = append(out, f.Status(dir, src))
	}
	return out
}

// Start brings a layer up. Already-running layers report
// "already_running"; layers whose backend tooling is missing report
// "backend_unavailable" rather than failing the request.
func (f *Fabric) Start(ctx context.Context, dir string, src Source, req types.TraceStartRequest) (ActionResult, error) {
	result := ActionResult{Source: src}
	st := f.Status(dir, src)
	if st.Running {
		result.Status = "already_running"
		result.PID = st.PID
		result.Backend = st.Backend
		return result, nil
	}

	switch src {
	case SourceClient:
		if err := fsutil.AtomicWriteSmall(StatePath(dir, src), []byte("on")); err != nil {
			return result, err
		}
		result.Status = "started"
		return result, nil

	case SourceCanonical, SourceX11Core:
		if bin := procutil.CheckBinary("xinput"); !bin.Present {
			result.Status = "backend_unavailable"
			result.Detail = "xinput not found"
			return result, nil
		}
		args := []string{"trace", childSubcommand(src), "--session-dir", dir}
		if src == SourceCanonical && req.IncludeRaw {
			args = append(args, "--include-raw")
		}
		if req.MotionSampleMS != nil {
			args = append(args, "--motion-sample-ms", strconv.Itoa(*req.MotionSampleMS))
		}
		return f.spawnChild(ctx, dir, src, args)

	case SourceWindows:
		return f.startWindows(ctx, dir, req)

	case SourceNetwork:
		args := []string{"vncproxy",
			"--session-dir", dir,
			"--listen", fmt.Sprintf(":%d", f.cfg.Trace.NetworkListenPort),
			"--upstream", fmt.Sprintf("127.0.0.1:%d", f.cfg.Discovery.VNCPort),
		}
		if req.MotionSampleMS != nil {
			args = append(args, "--motion-sample-ms", strconv.Itoa(*req.MotionSampleMS))
		}
		return f.spawnChild(ctx, dir, src, args)
	}
	return result, fmt.Errorf("unknown trace source %q", src)
}

func childSubcommand(src Source) string {
	if src == SourceX11Core {
		return "x11-core"
	}
	return "xi2"
}

// spawnChild re-invokes this binary with args and waits for the child to
// publish its pid sidecar.
func (f *Fabric) spawnChild(ctx context.Context, dir string, src Source, args []string) (ActionResult, error) {
	result := ActionResult{Source: src}
	cmd := exec.Command(f.selfExe, args...)
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("spawn %s tracer: %w", src, err)
	}
	f.registry.Manage(cmd)
	log.Info().Str("source", string(src)).Int("pid", cmd.Process.Pid).Msg("tracer spawned")

	err := retry.Do(func() error {
		if pid, ok := fsutil.ReadPID(PidPath(dir, src)); ok && pid == cmd.Process.Pid {
			return nil
		}
		if !procutil.PidRunning(cmd.Process.Pid) {
			return retry.Unrecoverable(errors.New("tracer exited during startup"))
		}
		return errors.New("tracer pid file not yet written")
	},
		retry.Context(ctx),
		retry.Attempts(50),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		result.Status = "backend_unavailable"
		result.Detail = err.Error()
		return result, nil
	}
	f.sessions.AppendLifecycle(dir, "input_trace_started", string(src), "api", nil)
	result.Status = "started"
	result.PID = cmd.Process.Pid
	return result, nil
}

// Stop tears a layer down. Stopping a stopped layer succeeds with
// "already_stopped"; a missing network proxy reports "not_running".
func (f *Fabric) Stop(ctx context.Context, dir string, src Source) (ActionResult, error) {
	result := ActionResult{Source: src}
	if src == SourceClient {
		st := f.Status(dir, src)
		if !st.Running {
			result.Status = "already_stopped"
			return result, nil
		}
		if err := fsutil.AtomicWriteSmall(StatePath(dir, src), []byte("off")); err != nil {
			return result, err
		}
		result.Status = "stopped"
		return result, nil
	}

	pid, ok := fsutil.ReadPID(PidPath(dir, src))
	if !ok || !procutil.PidRunning(pid) {
		f.removeSidecars(dir, src)
		if src == SourceNetwork {
			result.Status = "not_running"
		} else {
			result.Status = "already_stopped"
		}
		return result, nil
	}
	if err := procutil.SignalPid(pid, syscall.SIGTERM); err != nil {
		return result, err
	}
	err := retry.Do(func() error {
		if procutil.PidRunning(pid) {
			return errors.New("tracer still running")
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		log.Warn().Str("source", string(src)).Int("pid", pid).Msg("tracer did not exit, killing")
		_ = procutil.SignalPid(pid, syscall.SIGKILL)
	}
	f.removeSidecars(dir, src)
	f.sessions.AppendLifecycle(dir, "input_trace_stopped", string(src), "api", nil)
	result.Status = "stopped"
	return result, nil
}

func (f *Fabric) removeSidecars(dir string, src Source) {
	_ = os.Remove(PidPath(dir, src))
	_ = os.Remove(StatePath(dir, src))
	if src == SourceWindows {
		_ = os.Remove(BackendPath(dir))
	}
}
