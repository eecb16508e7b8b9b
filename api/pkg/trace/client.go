package trace

import (
	"sync"

	"github.com/winebot/winebot/api/pkg/types"
)

// sharedWriters keeps one writer per (dir, layer) so sequence numbers
// stay monotonic across requests that write from the API process.
var (
	sharedWritersMu sync.Mutex
	sharedWriters   = map[string]*Writer{}
)

// SharedWriter returns the process-wide writer for a layer's log.
func SharedWriter(dir string, src Source) *Writer {
	key := dir + "\x00" + string(src)
	sharedWritersMu.Lock()
	defer sharedWritersMu.Unlock()
	w, ok := sharedWriters[key]
	if !ok {
		w = NewWriter(dir, src)
		sharedWriters[key] = w
	}
	return w
}

// RecordClientEvent ingests one browser-reported input event. Events are
// normalised onto the shared envelope: missing source defaults to the
// noVNC client, the layer is forced, unattributed events are user origin.
// Returns the outcome status: recorded, ignored, or
// client_trace_disabled.
func (f *Fabric) RecordClientEvent(dir string, ev types.TraceEvent) (string, error) {
	st := f.Status(dir, SourceClient)
	if !st.Running {
		return "client_trace_disabled", nil
	}
	if ev.Event == "" {
		return "ignored", nil
	}
	if ev.Source == "" {
		ev.Source = "novnc_client"
	}
	ev.Layer = "client"
	if ev.Origin == "" {
		ev.Origin = "user"
	}
	if err := SharedWriter(dir, SourceClient).Append(ev); err != nil {
		return "", err
	}
	return "recorded", nil
}
