// Package session owns the on-disk session contract: directory layout,
// manifests, state files, the current-session pointer and the segment
// counter.
package session

import (
	"fmt"
	"path/filepath"
)

// Artifact layout inside a session directory.

func ManifestPath(dir string) string  { return filepath.Join(dir, "session.json") }
func StatePath(dir string) string     { return filepath.Join(dir, "session.state") }
func LogsDir(dir string) string       { return filepath.Join(dir, "logs") }
func UserDir(dir string) string       { return filepath.Join(dir, "user") }
func ScriptsDir(dir string) string    { return filepath.Join(dir, "scripts") }
func ScreenshotsDir(dir string) string { return filepath.Join(dir, "screenshots") }

func LifecycleLogPath(dir string) string {
	return filepath.Join(dir, "logs", "lifecycle.jsonl")
}

// SegmentSuffix formats a segment index the way every artifact name does.
func SegmentSuffix(segment int) string { return fmt.Sprintf("%03d", segment) }

func SegmentManifestPath(dir string, segment int) string {
	return filepath.Join(dir, "segment_"+SegmentSuffix(segment)+".json")
}

func VideoPath(dir string, segment int) string {
	return filepath.Join(dir, "video_"+SegmentSuffix(segment)+".mkv")
}

func PartPath(dir string, segment, part int) string {
	return filepath.Join(dir, fmt.Sprintf("video_%03d_part%03d.mkv", segment, part))
}

func PartsListPath(dir string, segment int) string {
	return filepath.Join(dir, "parts_"+SegmentSuffix(segment)+".txt")
}

func PartIndexPath(dir string, segment int) string {
	return filepath.Join(dir, "part_index_"+SegmentSuffix(segment)+".txt")
}

func EventsPath(dir string, segment int) string {
	return filepath.Join(dir, "events_"+SegmentSuffix(segment)+".jsonl")
}

func VTTPath(dir string, segment int) string {
	return filepath.Join(dir, "events_"+SegmentSuffix(segment)+".vtt")
}

func ASSPath(dir string, segment int) string {
	return filepath.Join(dir, "events_"+SegmentSuffix(segment)+".ass")
}

func SegmentIndexPath(dir string) string { return filepath.Join(dir, "segment_index.txt") }
func SegmentLockPath(dir string) string  { return filepath.Join(dir, "segment_index.lock") }

// Recorder sidecars.

func RecorderPidPath(dir string) string   { return filepath.Join(dir, "recorder.pid") }
func RecorderStatePath(dir string) string { return filepath.Join(dir, "recorder.state") }
func FFmpegPidPath(dir string) string     { return filepath.Join(dir, "ffmpeg.pid") }

// RecorderSegmentPath points at the segment the running recorder owns.
func RecorderSegmentPath(dir string) string { return filepath.Join(dir, "recorder.segment") }

// IDFromDir derives the session id from its directory name.
func IDFromDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(dir))
}
