package recorder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/winebot/winebot/api/pkg/types"
)

// maxCueMS caps every subtitle window so a quiet stretch never leaves a
// stale cue on screen.
const maxCueMS = 3000

// PauseInterval is one paused stretch of a segment, in raw milliseconds
// relative to the segment start.
type PauseInterval struct {
	StartMS int64
	EndMS   int64
}

// pausedBefore sums the paused time that elapsed before raw instant t, so
// subtitle timestamps line up with the concatenated video in which paused
// wall time does not exist.
func pausedBefore(pauses []PauseInterval, t int64) int64 {
	var total int64
	for _, p := range pauses {
		if t <= p.StartMS {
			break
		}
		end := p.EndMS
		if t < end {
			end = t
		}
		total += end - p.StartMS
	}
	return total
}

// RebaseEvents shifts raw event times onto the concatenated-video
// timeline. Times never go negative.
func RebaseEvents(events []types.RecorderEvent, pauses []PauseInterval) []types.RecorderEvent {
	out := make([]types.RecorderEvent, len(events))
	for i, ev := range events {
		rebased := ev.TRelMS - pausedBefore(pauses, ev.TRelMS)
		if rebased < 0 {
			rebased = 0
		}
		ev.TRelMS = rebased
		out[i] = ev
	}
	return out
}

// cue is one subtitle window computed from consecutive events.
type cue struct {
	start int64
	end   int64
	event types.RecorderEvent
}

// buildCues sorts events and assigns each a display window ending at the
// next event's start, capped at maxCueMS. The last event always shows for
// the full cap.
func buildCues(events []types.RecorderEvent) []cue {
	sorted := make([]types.RecorderEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TRelMS < sorted[j].TRelMS
	})

	cues := make([]cue, 0, len(sorted))
	for i, ev := range sorted {
		end := ev.TRelMS + maxCueMS
		if i+1 < len(sorted) && sorted[i+1].TRelMS < end {
			end = sorted[i+1].TRelMS
		}
		if end <= ev.TRelMS {
			end = ev.TRelMS + 1
		}
		cues = append(cues, cue{start: ev.TRelMS, end: end, event: ev})
	}
	return cues
}

func vttTimestamp(ms int64) string {
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

func assTimestamp(ms int64) string {
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, (ms%1000)/10)
}

// RenderVTT projects events to a WebVTT track. Cue text is
// "[KIND] message".
func RenderVTT(events []types.RecorderEvent) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range buildCues(events) {
		fmt.Fprintf(&b, "%s --> %s\n", vttTimestamp(c.start), vttTimestamp(c.end))
		kind := strings.ToUpper(c.event.Kind)
		if kind == "" {
			kind = "EVENT"
		}
		fmt.Fprintf(&b, "[%s] %s\n\n", kind, sanitizeCueText(c.event.Message))
	}
	return b.String()
}

// assHeader carries two styles: Default for the bottom event feed and
// Overlay for positioned annotations.
func assHeader(width, height int) string {
	return fmt.Sprintf(`[Script Info]
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
WrapStyle: 0

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,28,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,2,20,20,24,1
Style: Overlay,Arial,24,&H0000FFFF,&H000000FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,2,0,7,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`, width, height)
}

// RenderASS projects events to an ASS overlay track sized to the capture
// resolution. Annotations carrying a position render at that point via
// the Overlay style.
func RenderASS(events []types.RecorderEvent, width, height int) string {
	var b strings.Builder
	b.WriteString(assHeader(width, height))
	for _, c := range buildCues(events) {
		style := "Default"
		text := sanitizeCueText(c.event.Message)
		if c.event.Kind == "annotation" && c.event.Pos != nil {
			style = "Overlay"
			text = fmt.Sprintf(`{\pos(%d,%d)}%s`, c.event.Pos["x"], c.event.Pos["y"], text)
		} else {
			kind := strings.ToUpper(c.event.Kind)
			if kind != "" {
				text = "[" + kind + "] " + text
			}
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,%s,,0,0,0,,%s\n",
			assTimestamp(c.start), assTimestamp(c.end), style, text)
	}
	return b.String()
}

// sanitizeCueText strips line breaks that would corrupt the cue framing.
func sanitizeCueText(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// FoldInputEvents converts traced input events that fall inside the
// segment into recorder events, keeping only the most recent maxEvents so
// a busy trace cannot blow up the subtitle track.
func FoldInputEvents(traces []types.TraceEvent, segmentStartEpochMS int64, maxEvents int) []types.RecorderEvent {
	var out []types.RecorderEvent
	for _, tr := range traces {
		if tr.TimestampEpochMS < segmentStartEpochMS {
			continue
		}
		out = append(out, types.RecorderEvent{
			SchemaVersion: tr.SchemaVersion,
			SessionID:     tr.SessionID,
			TRelMS:        tr.TimestampEpochMS - segmentStartEpochMS,
			TEpochMS:      tr.TimestampEpochMS,
			Level:         "debug",
			Kind:          "input",
			Message:       summarizeInput(tr),
			Source:        tr.Source,
		})
	}
	if maxEvents > 0 && len(out) > maxEvents {
		out = out[len(out)-maxEvents:]
	}
	return out
}

func summarizeInput(tr types.TraceEvent) string {
	var b strings.Builder
	b.WriteString(tr.Event)
	if tr.X != nil && tr.Y != nil {
		fmt.Fprintf(&b, " (%d,%d)", *tr.X, *tr.Y)
	}
	if tr.Button != nil {
		fmt.Fprintf(&b, " button=%d", *tr.Button)
	}
	if tr.Keycode != nil {
		fmt.Fprintf(&b, " keycode=%d", *tr.Keycode)
	}
	return b.String()
}
