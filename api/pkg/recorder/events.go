package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/types"
	"github.com/winebot/winebot/api/pkg/version"
)

// AppendEvent appends one annotation to the segment's events log. The
// caller supplies t_rel_ms relative to the segment start, unadjusted for
// pauses; the finaliser rebases when it renders subtitles.
func AppendEvent(dir string, segment int, event types.RecorderEvent) error {
	if event.SchemaVersion == "" {
		event.SchemaVersion = version.EventSchemaVersion
	}
	if event.SessionID == "" {
		event.SessionID = session.IDFromDir(dir)
	}
	if event.TEpochMS == 0 {
		event.TEpochMS = time.Now().UnixMilli()
	}
	if event.Level == "" {
		event.Level = "info"
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return fsutil.AppendLine(session.EventsPath(dir, segment), data)
}

// LoadEvents reads a segment's events log. Lines that fail to parse are
// dropped so one corrupt append never poisons finalisation.
func LoadEvents(dir string, segment int) ([]types.RecorderEvent, error) {
	f, err := os.Open(session.EventsPath(dir, segment))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []types.RecorderEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event types.RecorderEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
