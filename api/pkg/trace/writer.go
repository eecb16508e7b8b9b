package trace

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/types"
	"github.com/winebot/winebot/api/pkg/version"
)

// Writer appends events to one layer's JSONL log, stamping the envelope
// fields every line carries. The per-writer sequence number lets readers
// detect drops within a tracer run.
type Writer struct {
	dir string
	src Source
	seq atomic.Int64
}

func NewWriter(dir string, src Source) *Writer {
	return &Writer{dir: dir, src: src}
}

// Append stamps and writes one event. Caller-set envelope fields are kept.
func (w *Writer) Append(ev types.TraceEvent) error {
	now := time.Now()
	if ev.SchemaVersion == "" {
		ev.SchemaVersion = version.EventSchemaVersion
	}
	if ev.TimestampEpochMS == 0 {
		ev.TimestampEpochMS = now.UnixMilli()
	}
	if ev.TimestampUTC == "" {
		ev.TimestampUTC = types.NowISO(now)
	}
	if ev.SessionID == "" {
		ev.SessionID = session.IDFromDir(w.dir)
	}
	if ev.Seq == nil {
		seq := w.seq.Add(1)
		ev.Seq = &seq
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return fsutil.AppendLine(LogPath(w.dir, w.src), data)
}
