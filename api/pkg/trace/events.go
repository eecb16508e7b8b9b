package trace

import (
	"encoding/json"
	"errors"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/types"
)

// ErrBadQuery marks malformed event queries.
var ErrBadQuery = errors.New("bad_request")

// filterScanDepth bounds how far back a filtered query reads. Unfiltered
// queries tail exactly limit lines.
const filterScanDepth = 10000

// Query selects events from one layer's log.
type Query struct {
	Source       Source
	Limit        int
	SinceEpochMS int64
	Origin       string
}

// QueryEvents tails a layer's log and returns up to Limit parsed events,
// newest last. Unparsable lines are dropped: a torn append or stray
// garbage never fails the query.
func QueryEvents(dir string, q Query) ([]types.TraceEvent, error) {
	if q.Limit < 1 {
		return nil, errors.Join(ErrBadQuery, errors.New("limit must be >= 1"))
	}
	src := q.Source
	if src == "" {
		src = SourceCanonical
	}
	depth := q.Limit
	if q.SinceEpochMS > 0 || q.Origin != "" {
		depth = filterScanDepth
	}
	lines, err := fsutil.TailLines(LogPath(dir, src), depth)
	if err != nil {
		return nil, nil // no log yet means no events
	}
	events := make([]types.TraceEvent, 0, q.Limit)
	for _, line := range lines {
		if line == "" {
			continue
		}
		var ev types.TraceEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if q.SinceEpochMS > 0 && ev.TimestampEpochMS < q.SinceEpochMS {
			continue
		}
		if q.Origin != "" && ev.Origin != q.Origin {
			continue
		}
		events = append(events, ev)
	}
	if len(events) > q.Limit {
		events = events[len(events)-q.Limit:]
	}
	return events, nil
}
