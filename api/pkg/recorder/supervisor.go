package recorder

import (
	"context"
	"encoding/json"
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

// watchdogInterval is how often the disk watchdog re-checks free space
// while a recording is live.
const watchdogInterval = 5 * time.Second

// Supervisor drives recorder child processes from the API process. All
// cross-process coordination goes through the session dir sidecar files
// and POSIX signals, so a restarted API finds and controls recordings it
// did not start.
type Supervisor struct {
	cfg      *config.ServerConfig
	sessions *session.Manager
	registry *procutil.Registry

	// selfExe is the binary re-invoked as the recorder child.
	selfExe string
}

func NewSupervisor(cfg *config.ServerConfig, sessions *session.Manager, registry *procutil.Registry) *Supervisor {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return &Supervisor{
		cfg:      cfg,
		sessions: sessions,
		registry: registry,
		selfExe:  exe,
	}
}

// Status is the recorder view of a session.
type Status struct {
	Enabled    bool                `json:"enabled"`
	State      types.RecorderState `json:"state"`
	Running    bool                `json:"running"`
	Segment    int                 `json:"segment,omitempty"`
	PID        int                 `json:"pid,omitempty"`
	SessionID  string              `json:"session_id,omitempty"`
	SessionDir string              `json:"session_dir,omitempty"`
}

// ActionResult reports the outcome of a start/stop/pause/resume. Actions
// on a terminal state succeed idempotently with an "already_*" status.
type ActionResult struct {
	Status     string `json:"status"`
	Segment    int    `json:"segment,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	SessionDir string `json:"session_dir,omitempty"`
}

// Status inspects the sidecar files of dir.
func (s *Supervisor) Status(dir string) Status {
	st := Status{
		Enabled: s.cfg.Recording.Enabled,
		State:   types.RecorderStateIdle,
	}
	if dir == "" {
		return st
	}
	st.SessionDir = dir
	st.SessionID = session.IDFromDir(dir)
	if data, err := os.ReadFile(session.RecorderStatePath(dir)); err == nil {
		st.State = types.RecorderState(strings.TrimSpace(string(data)))
	}
	if pid, ok := fsutil.ReadPID(session.RecorderPidPath(dir)); ok && procutil.PidRunning(pid) {
		st.Running = true
		st.PID = pid
	}
	if !st.Running {
		st.State = types.RecorderStateIdle
	}
	if data, err := os.ReadFile(session.RecorderSegmentPath(dir)); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			st.Segment = n
		}
	}
	return st
}

// Start begins recording a new segment, creating a session if requested
// or if none is current. Starting while paused resumes; starting while
// recording is an idempotent no-op.
func (s *Supervisor) Start(ctx context.Context, req types.RecordingStartRequest) (ActionResult, error) {
	var dir string
	var err error
	if req.NewSession {
		dir, err = s.sessions.CreateSession(req.SessionLabel)
	} else {
		dir, err = s.sessions.EnsureSession()
	}
	if err != nil {
		return ActionResult{}, err
	}
	result := ActionResult{SessionID: session.IDFromDir(dir), SessionDir: dir}

	st := s.Status(dir)
	if st.Running {
		if st.State == types.RecorderStatePaused {
			if err := procutil.SignalPid(st.PID, syscall.SIGUSR2); err != nil {
				return result, err
			}
			result.Status = "resumed"
			result.Segment = st.Segment
			return result, nil
		}
		result.Status = "already_recording"
		result.Segment = st.Segment
		return result, nil
	}

	if free := fsutil.FreeBytes(dir); free > 0 && free < s.cfg.Recording.MinFreeBytes {
		return result, fmt.Errorf("insufficient disk space: %d bytes free", free)
	}

	segment, err := s.sessions.NextSegmentIndex(dir)
	if err != nil {
		return result, err
	}

	cmd := exec.Command(s.selfExe, "recorder", "start",
		"--session-dir", dir,
		"--segment", strconv.Itoa(segment),
		"--display", s.cfg.Display.Display,
		"--resolution", s.cfg.Display.Screen,
		"--fps", strconv.Itoa(s.cfg.Display.FPS),
	)
	if s.cfg.Recording.IncludeInputEvents {
		cmd.Args = append(cmd.Args,
			"--include-input-events",
			"--max-input-events", strconv.Itoa(s.cfg.Recording.MaxInputEvents))
	}
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("spawn recorder: %w", err)
	}
	s.registry.Manage(cmd)
	log.Info().Int("pid", cmd.Process.Pid).Int("segment", segment).Msg("recorder child spawned")

	// The child is up once it has published its pid file.
	err = retry.Do(func() error {
		if pid, ok := fsutil.ReadPID(session.RecorderPidPath(dir)); ok && pid == cmd.Process.Pid {
			return nil
		}
		return errors.New("recorder pid file not yet written")
	},
		retry.Context(ctx),
		retry.Attempts(50),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return result, fmt.Errorf("recorder did not come up: %w", err)
	}

	s.sessions.AppendLifecycle(dir, "recording_start_requested", fmt.Sprintf("segment %03d", segment), "api", nil)
	result.Status = "started"
	result.Segment = segment
	return result, nil
}

// Pause signals SIGUSR1 to the running recorder.
func (s *Supervisor) Pause(dir string) (ActionResult, error) {
	result := ActionResult{SessionID: session.IDFromDir(dir), SessionDir: dir}
	st := s.Status(dir)
	if !st.Running {
		result.Status = "not_running"
		return result, nil
	}
	if st.State == types.RecorderStatePaused {
		result.Status = "already_paused"
		result.Segment = st.Segment
		return result, nil
	}
	if err := procutil.SignalPid(st.PID, syscall.SIGUSR1); err != nil {
		return result, err
	}
	result.Status = "paused"
	result.Segment = st.Segment
	return result, nil
}

// Resume signals SIGUSR2 to the paused recorder.
func (s *Supervisor) Resume(dir string) (ActionResult, error) {
	result := ActionResult{SessionID: session.IDFromDir(dir), SessionDir: dir}
	st := s.Status(dir)
	if !st.Running {
		result.Status = "not_running"
		return result, nil
	}
	if st.State != types.RecorderStatePaused {
		result.Status = "already_recording"
		result.Segment = st.Segment
		return result, nil
	}
	if err := procutil.SignalPid(st.PID, syscall.SIGUSR2); err != nil {
		return result, err
	}
	result.Status = "resumed"
	result.Segment = st.Segment
	return result, nil
}

// Stop terminates the recorder and waits for finalisation to release the
// pid sidecar. Stopping an idle recorder succeeds idempotently.
func (s *Supervisor) Stop(ctx context.Context, dir string) (ActionResult, error) {
	result := ActionResult{SessionID: session.IDFromDir(dir), SessionDir: dir}
	if dir == "" {
		result.Status = "already_stopped"
		return result, nil
	}
	st := s.Status(dir)
	if !st.Running {
		_ = fsutil.AtomicWriteSmall(session.RecorderStatePath(dir), []byte(types.RecorderStateIdle))
		result.Status = "already_stopped"
		return result, nil
	}
	result.Segment = st.Segment
	if err := procutil.SignalPid(st.PID, syscall.SIGTERM); err != nil {
		return result, err
	}
	err := retry.Do(func() error {
		if procutil.PidRunning(st.PID) {
			return errors.New("recorder still finalising")
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(100),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return result, fmt.Errorf("recorder did not stop: %w", err)
	}
	result.Status = "stopped"
	return result, nil
}

// Annotate appends a user annotation to the live segment's events log.
// The relative timestamp is computed against the segment manifest.
func (s *Supervisor) Annotate(dir, message, kind, level string, pos map[string]int, style map[string]string) (int, error) {
	st := s.Status(dir)
	if !st.Running || st.Segment < 1 {
		return 0, errors.New("recorder not running")
	}
	nowMS := time.Now().UnixMilli()
	rel := int64(0)
	if data, err := os.ReadFile(session.SegmentManifestPath(dir, st.Segment)); err == nil {
		var manifest types.SegmentManifest
		if jsonErr := json.Unmarshal(data, &manifest); jsonErr == nil && manifest.StartTimeEpoch > 0 {
			rel = nowMS - int64(manifest.StartTimeEpoch)
		}
	}
	if rel < 0 {
		rel = 0
	}
	if kind == "" {
		kind = "annotation"
	}
	event := types.RecorderEvent{
		TRelMS:   rel,
		TEpochMS: nowMS,
		Level:    level,
		Kind:     kind,
		Message:  message,
		Pos:      pos,
		Style:    style,
	}
	return st.Segment, AppendEvent(dir, st.Segment, event)
}

// RunWatchdog force-stops a live recording when free disk space falls
// below the configured floor. Runs until ctx is cancelled.
func (s *Supervisor) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkDisk(ctx)
		}
	}
}

func (s *Supervisor) checkDisk(ctx context.Context) {
	dir := s.sessions.CurrentDir()
	if dir == "" {
		return
	}
	st := s.Status(dir)
	if !st.Running {
		return
	}
	free := fsutil.FreeBytes(dir)
	if free == 0 || free >= s.cfg.Recording.MinFreeBytes {
		return
	}
	log.Warn().Uint64("free_bytes", free).Uint64("min_free_bytes", s.cfg.Recording.MinFreeBytes).
		Msg("disk space below floor, stopping recording")
	s.sessions.AppendLifecycle(dir, "recorder_force_stop",
		fmt.Sprintf("free=%d min=%d", free, s.cfg.Recording.MinFreeBytes), "watchdog", nil)
	if _, err := s.Stop(ctx, dir); err != nil {
		log.Error().Err(err).Msg("watchdog stop failed")
	}
}
