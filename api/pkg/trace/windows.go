package trace

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/types"
)

// Windows-layer tracer scripts shipped in the image. The hook backend is
// a low-level Win32 hook under wine-python; the AHK backend is a plainer
// AutoHotkey tap used when the hook cannot attach.
const (
	windowsHookScript = "/opt/winebot/windows/input_hook.py"
	windowsAHKScript  = "/opt/winebot/windows/input_trace.ahk"

	// windowsLivenessPoll is how long a freshly spawned backend must stay
	// alive before it counts as attached.
	windowsLivenessPoll  = 200 * time.Millisecond
	windowsLivenessTries = 10
)

// startWindows brings up the windows-layer tracer. Backend "auto" tries
// the hook first and falls back to AHK; the chosen backend is recorded in
// the backend sidecar.
func (f *Fabric) startWindows(ctx context.Context, dir string, req types.TraceStartRequest) (ActionResult, error) {
	result := ActionResult{Source: SourceWindows}
	backend := req.Backend
	if backend == "" {
		backend = f.cfg.Trace.WindowsBackend
	}

	debugKeys := req.DebugKeysCSV
	if len(req.DebugKeys) > 0 {
		debugKeys = strings.Join(req.DebugKeys, ",")
	}

	tryHook := backend == "hook" || backend == "auto"
	tryAHK := backend == "ahk" || backend == "auto"

	if tryHook {
		if debugKeys != "" {
			// The hook tap has no key-level debug filter.
			log.Warn().Msg("debug_keys ignored by hook backend")
			result.Detail = "debug_keys ignored by hook backend"
		}
		pid, err := f.spawnWindowsBackend(dir, "hook", "", nil)
		if err == nil {
			result.Status = "started"
			result.Backend = "hook"
			result.PID = pid
			f.sessions.AppendLifecycle(dir, "input_trace_started", "windows/hook", "api", nil)
			return result, nil
		}
		log.Warn().Err(err).Msg("windows hook backend failed to attach")
		if !tryAHK {
			result.Status = "backend_failed"
			result.Detail = err.Error()
			return result, nil
		}
	}

	if tryAHK {
		pid, err := f.spawnWindowsBackend(dir, "ahk", debugKeys, req.DebugSampleMS)
		if err == nil {
			result.Status = "started"
			result.Backend = "ahk"
			result.PID = pid
			f.sessions.AppendLifecycle(dir, "input_trace_started", "windows/ahk", "api", nil)
			return result, nil
		}
		log.Warn().Err(err).Msg("windows ahk backend failed to attach")
		result.Detail = err.Error()
	}

	result.Status = "backend_failed"
	return result, nil
}

// windowsBackendArgv builds the launch command for one backend. Only the
// AHK script takes the debug-key filter; the hook tap logs everything.
func windowsBackendArgv(backend, logPath, debugKeys string, debugSampleMS *int) []string {
	if backend == "hook" {
		return []string{"winpy", windowsHookScript, "--log", logPath}
	}
	argv := []string{"wine", "autohotkey.exe", windowsAHKScript, logPath}
	if debugKeys != "" {
		argv = append(argv, "--debug-keys", debugKeys)
		if debugSampleMS != nil {
			argv = append(argv, "--debug-sample-ms", strconv.Itoa(*debugSampleMS))
		}
	}
	return argv
}

// spawnWindowsBackend launches one backend process and verifies it stays
// alive through the liveness window before publishing the sidecars.
func (f *Fabric) spawnWindowsBackend(dir, backend, debugKeys string, debugSampleMS *int) (int, error) {
	logPath := LogPath(dir, SourceWindows)
	argv := windowsBackendArgv(backend, logPath, debugKeys, debugSampleMS)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"DISPLAY="+f.cfg.Display.Display,
		"WINEPREFIX="+f.cfg.Wine.Prefix,
	)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	f.registry.Manage(cmd)

	// A backend that cannot attach dies within the first poll or two.
	for i := 0; i < windowsLivenessTries; i++ {
		time.Sleep(windowsLivenessPoll)
		if !procutil.PidRunning(cmd.Process.Pid) {
			return 0, &backendExitError{backend: backend}
		}
	}

	pid := cmd.Process.Pid
	if err := fsutil.WritePID(PidPath(dir, SourceWindows), pid); err != nil {
		return 0, err
	}
	if err := fsutil.AtomicWriteSmall(StatePath(dir, SourceWindows), []byte("running")); err != nil {
		return 0, err
	}
	if err := fsutil.AtomicWriteSmall(BackendPath(dir), []byte(backend)); err != nil {
		return 0, err
	}
	return pid, nil
}

type backendExitError struct {
	backend string
}

func (e *backendExitError) Error() string {
	return "windows " + e.backend + " backend exited during startup"
}
