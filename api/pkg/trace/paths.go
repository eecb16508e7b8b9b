// Package trace implements the multi-layer input trace fabric: one
// canonical XI2 tracer plus X11-core, client, windows and network layers,
// all appending JSONL to per-layer logs under the session directory.
package trace

import "path/filepath"

// Source names a trace layer. The canonical layer is the XI2 root tracer;
// the rest corroborate it from different vantage points.
type Source string

const (
	SourceCanonical Source = "canonical"
	SourceX11Core   Source = "x11_core"
	SourceClient    Source = "client"
	SourceWindows   Source = "windows"
	SourceNetwork   Source = "network"
)

// Sources lists every layer in a stable order.
var Sources = []Source{SourceCanonical, SourceX11Core, SourceClient, SourceWindows, SourceNetwork}

func sidecarBase(src Source) string {
	if src == SourceCanonical {
		return "input_trace"
	}
	return "input_trace_" + string(src)
}

// PidPath locates a tracer's pid sidecar. The client layer has no child
// process and therefore no pid file.
func PidPath(dir string, src Source) string {
	return filepath.Join(dir, sidecarBase(src)+".pid")
}

func StatePath(dir string, src Source) string {
	return filepath.Join(dir, sidecarBase(src)+".state")
}

// BackendPath records which windows-layer backend actually attached.
func BackendPath(dir string) string {
	return filepath.Join(dir, "input_trace_windows.backend")
}

// LogPath locates a layer's JSONL event log under logs/.
func LogPath(dir string, src Source) string {
	name := "input_events.jsonl"
	if src != SourceCanonical {
		name = "input_events_" + string(src) + ".jsonl"
	}
	return filepath.Join(dir, "logs", name)
}
