// Package recorder implements segment-based screen capture: an API-side
// supervisor that drives a child recorder process over POSIX signals, and
// the child runtime that owns the encoder, the parts list and the
// finaliser.
package recorder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// encoderStopTimeout is how long a part encoder gets to exit after
// SIGTERM before it is killed.
const encoderStopTimeout = 5 * time.Second

// startEncoder spawns one ffmpeg x11grab encoder writing a single part.
func startEncoder(display, resolution string, fps int, output string) (*exec.Cmd, error) {
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "x11grab",
		"-draw_mouse", "1",
		"-r", fmt.Sprintf("%d", fps),
		"-s", resolution,
		"-i", display,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		output,
	)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn encoder: %w", err)
	}
	log.Info().Int("pid", cmd.Process.Pid).Str("output", output).Msg("encoder started")
	return cmd, nil
}

// stopEncoder terminates the part encoder, escalating to SIGKILL after
// the stop timeout.
func stopEncoder(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Wait()
		return
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(encoderStopTimeout):
		log.Warn().Int("pid", cmd.Process.Pid).Msg("encoder did not stop, killing")
		_ = cmd.Process.Kill()
		<-done
	}
}

// concatParts stream-copies the parts listed in partsList into output.
func concatParts(ctx context.Context, partsList, output string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", partsList,
		"-c", "copy",
		output,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("concat parts: %w: %s", err, string(out))
	}
	return nil
}

// muxSubtitles embeds the ASS and VTT tracks into the MKV and stamps the
// container metadata. The muxed file replaces the input in place.
func muxSubtitles(ctx context.Context, video, assFile, vttFile string, metadata map[string]string) error {
	tmp := video + ".muxed.mkv"
	args := []string{
		"-y",
		"-i", video,
		"-i", assFile,
		"-i", vttFile,
		"-map", "0:v",
		"-map", "1:s",
		"-map", "2:s",
		"-c", "copy",
		"-metadata:s:s:0", "title=Overlays (ASS)",
		"-metadata:s:s:1", "title=Events (VTT)",
		"-disposition:s:0", "default",
	}
	for key, value := range metadata {
		if value != "" {
			args = append(args, "-metadata", key+"="+value)
		}
	}
	args = append(args, tmp)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("mux subtitles: %w: %s", err, string(out))
	}
	return os.Rename(tmp, video)
}
