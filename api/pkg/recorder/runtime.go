package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/types"
	"github.com/winebot/winebot/api/pkg/version"
)

// RunOptions configures one recorder child process, which owns exactly
// one segment from first part to finalised video.
type RunOptions struct {
	SessionDir         string
	Segment            int
	Display            string
	Resolution         string
	FPS                int
	IncludeInputEvents bool
	MaxInputEvents     int
}

// runtime is the in-process state of the recorder child.
type runtime struct {
	opts         RunOptions
	sessions     *session.Manager
	startEpochMS int64
	encoder      *exec.Cmd
	pauses       []PauseInterval
	pauseStart   int64 // raw t_rel when the current pause began, -1 when live
}

// Run is the entrypoint of the recorder child. It writes its pid and
// segment sidecars, spawns the first part encoder, then serves the signal
// contract: SIGUSR1 pauses, SIGUSR2 resumes, SIGTERM finalises.
func Run(ctx context.Context, sessions *session.Manager, opts RunOptions) error {
	if opts.Segment < 1 {
		return fmt.Errorf("segment index must be >= 1, got %d", opts.Segment)
	}
	r := &runtime{
		opts:       opts,
		sessions:   sessions,
		pauseStart: -1,
	}
	dir := opts.SessionDir

	if err := fsutil.WritePID(session.RecorderPidPath(dir), os.Getpid()); err != nil {
		return fmt.Errorf("write recorder pid: %w", err)
	}
	defer r.removeSidecars()

	if err := fsutil.AtomicWriteSmall(session.RecorderSegmentPath(dir), []byte(strconv.Itoa(opts.Segment))); err != nil {
		return err
	}

	now := time.Now()
	r.startEpochMS = now.UnixMilli()
	if err := r.writeSegmentManifest(now); err != nil {
		return err
	}

	if err := r.startPart(); err != nil {
		_ = writeState(dir, types.RecorderStateIdle)
		return err
	}
	if err := writeState(dir, types.RecorderStateRecording); err != nil {
		return err
	}
	_ = AppendEvent(dir, opts.Segment, types.RecorderEvent{
		TRelMS:  0,
		Kind:    "recorder_start",
		Message: fmt.Sprintf("segment %03d started", opts.Segment),
	})
	sessions.AppendLifecycle(dir, "recording_started", fmt.Sprintf("segment %03d", opts.Segment), "recorder", nil)

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return r.finalize(context.Background())
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				r.pause()
			case syscall.SIGUSR2:
				if err := r.resume(); err != nil {
					log.Error().Err(err).Msg("resume failed, finalising")
					return r.finalize(context.Background())
				}
			case syscall.SIGTERM, syscall.SIGINT:
				return r.finalize(context.Background())
			}
		}
	}
}

func (r *runtime) relNow() int64 {
	return time.Now().UnixMilli() - r.startEpochMS
}

func (r *runtime) writeSegmentManifest(now time.Time) error {
	hostname, _ := os.Hostname()
	manifest := types.SegmentManifest{
		SchemaVersion:  version.ArtifactSchemaVersion,
		SessionID:      session.IDFromDir(r.opts.SessionDir),
		Segment:        r.opts.Segment,
		StartTimeEpoch: float64(now.UnixMilli()),
		StartTimeISO:   types.NowISO(now),
		Hostname:       hostname,
		Display:        r.opts.Display,
		Resolution:     r.opts.Resolution,
		FPS:            r.opts.FPS,
		GitSHA:         os.Getenv("GIT_SHA"),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteSmall(session.SegmentManifestPath(r.opts.SessionDir, r.opts.Segment), data)
}

// startPart allocates the next part index, spawns its encoder and appends
// it to the concat manifest.
func (r *runtime) startPart() error {
	dir := r.opts.SessionDir
	part, err := r.sessions.NextPartIndex(dir, r.opts.Segment)
	if err != nil {
		return fmt.Errorf("allocate part index: %w", err)
	}
	output := session.PartPath(dir, r.opts.Segment, part)
	enc, err := startEncoder(r.opts.Display, r.opts.Resolution, r.opts.FPS, output)
	if err != nil {
		return err
	}
	r.encoder = enc
	if err := fsutil.WritePID(session.FFmpegPidPath(dir), enc.Process.Pid); err != nil {
		return err
	}
	// Concat manifest entries are relative to the session dir, where the
	// manifest itself lives.
	line := fmt.Sprintf("file '%s'", filepath.Base(output))
	return fsutil.AppendLine(session.PartsListPath(dir, r.opts.Segment), []byte(line))
}

func (r *runtime) pause() {
	if r.pauseStart >= 0 {
		return // already paused
	}
	dir := r.opts.SessionDir
	stopEncoder(r.encoder)
	r.encoder = nil
	_ = os.Remove(session.FFmpegPidPath(dir))
	r.pauseStart = r.relNow()
	_ = writeState(dir, types.RecorderStatePaused)
	_ = AppendEvent(dir, r.opts.Segment, types.RecorderEvent{
		TRelMS: r.pauseStart,
		Kind:   "recorder_pause",
	})
	log.Info().Int("segment", r.opts.Segment).Msg("recording paused")
}

func (r *runtime) resume() error {
	if r.pauseStart < 0 {
		return nil // not paused
	}
	if err := r.startPart(); err != nil {
		return err
	}
	now := r.relNow()
	r.pauses = append(r.pauses, PauseInterval{StartMS: r.pauseStart, EndMS: now})
	r.pauseStart = -1
	dir := r.opts.SessionDir
	_ = writeState(dir, types.RecorderStateRecording)
	_ = AppendEvent(dir, r.opts.Segment, types.RecorderEvent{
		TRelMS: now,
		Kind:   "recorder_resume",
	})
	log.Info().Int("segment", r.opts.Segment).Msg("recording resumed")
	return nil
}

// finalize stops the encoder, renders the subtitle tracks, concatenates
// the parts into video_NNN.mkv and muxes everything together. The pid
// sidecars are always released, even when finalisation fails.
func (r *runtime) finalize(ctx context.Context) error {
	dir := r.opts.SessionDir
	segment := r.opts.Segment
	_ = writeState(dir, types.RecorderStateStopping)

	// A stop while paused closes the open pause interval.
	if r.pauseStart >= 0 {
		r.pauses = append(r.pauses, PauseInterval{StartMS: r.pauseStart, EndMS: r.relNow()})
		r.pauseStart = -1
	}
	_ = AppendEvent(dir, segment, types.RecorderEvent{
		TRelMS: r.relNow(),
		Kind:   "recorder_stop",
	})

	stopEncoder(r.encoder)
	r.encoder = nil
	_ = os.Remove(session.FFmpegPidPath(dir))

	err := r.assemble(ctx)
	if err != nil {
		log.Error().Err(err).Int("segment", segment).Msg("segment finalisation failed")
		r.sessions.AppendLifecycle(dir, "recorder_finalise_failed", err.Error(), "recorder", map[string]any{"segment": segment})
	} else {
		r.sessions.AppendLifecycle(dir, "recording_stopped", fmt.Sprintf("segment %03d", segment), "recorder", nil)
	}
	_ = writeState(dir, types.RecorderStateIdle)
	return err
}

func (r *runtime) assemble(ctx context.Context) error {
	dir := r.opts.SessionDir
	segment := r.opts.Segment

	events, err := LoadEvents(dir, segment)
	if err != nil {
		log.Warn().Err(err).Msg("loading segment events")
	}
	if r.opts.IncludeInputEvents {
		traces := loadTraceEvents(filepath.Join(session.LogsDir(dir), "input_events.jsonl"))
		events = append(events, FoldInputEvents(traces, r.startEpochMS, r.opts.MaxInputEvents)...)
	}
	rebased := RebaseEvents(events, r.pauses)

	vttPath := session.VTTPath(dir, segment)
	assPath := session.ASSPath(dir, segment)
	if err := fsutil.AtomicWriteSmall(vttPath, []byte(RenderVTT(rebased))); err != nil {
		return err
	}
	width, height := parseResolution(r.opts.Resolution)
	if err := fsutil.AtomicWriteSmall(assPath, []byte(RenderASS(rebased, width, height))); err != nil {
		return err
	}

	video := session.VideoPath(dir, segment)
	if err := concatParts(ctx, session.PartsListPath(dir, segment), video); err != nil {
		return err
	}

	manifest, _ := r.sessions.ReadManifest(dir)
	metadata := map[string]string{
		"WINEBOT_SESSION_ID":     manifest.SessionID,
		"WINEBOT_SEGMENT":        session.SegmentSuffix(segment),
		"WINEBOT_SCHEMA_VERSION": version.ArtifactSchemaVersion,
		"WINEBOT_GIT_SHA":        manifest.GitSHA,
	}
	if err := muxSubtitles(ctx, video, assPath, vttPath, metadata); err != nil {
		return err
	}

	// Parts are redundant once the concatenated video exists.
	r.removeParts()
	return nil
}

func (r *runtime) removeParts() {
	dir := r.opts.SessionDir
	data, err := os.ReadFile(session.PartsListPath(dir, r.opts.Segment))
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file '") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		_ = os.Remove(filepath.Join(dir, name))
	}
}

func (r *runtime) removeSidecars() {
	dir := r.opts.SessionDir
	_ = os.Remove(session.RecorderPidPath(dir))
	_ = os.Remove(session.RecorderSegmentPath(dir))
	_ = os.Remove(session.FFmpegPidPath(dir))
}

func writeState(dir string, state types.RecorderState) error {
	return fsutil.AtomicWriteSmall(session.RecorderStatePath(dir), []byte(state))
}

func parseResolution(res string) (int, int) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) == 2 {
		w, werr := strconv.Atoi(parts[0])
		h, herr := strconv.Atoi(parts[1])
		if werr == nil && herr == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return 1920, 1080
}

// loadTraceEvents reads an input trace log, dropping unparsable lines.
func loadTraceEvents(path string) []types.TraceEvent {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []types.TraceEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev types.TraceEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
