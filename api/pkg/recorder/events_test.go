package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/types"
)

func TestAppendAndLoadEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AppendEvent(dir, 1, types.RecorderEvent{TRelMS: 100, Kind: "click", Message: "first"}))
	require.NoError(t, AppendEvent(dir, 1, types.RecorderEvent{TRelMS: 200, Kind: "key", Message: "second"}))

	events, err := LoadEvents(dir, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "click", events[0].Kind)
	assert.NotEmpty(t, events[0].SchemaVersion)
	assert.NotZero(t, events[0].TEpochMS)
}

func TestLoadEventsDropsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := session.EventsPath(dir, 2)
	content := `{"t_rel_ms":100,"kind":"click","message":"ok"}
not json at all
{"t_rel_ms":300,"kind":"key","message":"also ok"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := LoadEvents(dir, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(300), events[1].TRelMS)
}

func TestLoadEventsMissingFileIsEmpty(t *testing.T) {
	events, err := LoadEvents(t.TempDir(), 7)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLoadEventsSegmentIsolation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AppendEvent(dir, 1, types.RecorderEvent{Kind: "a"}))
	require.NoError(t, AppendEvent(dir, 2, types.RecorderEvent{Kind: "b"}))

	first, err := LoadEvents(dir, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].Kind)

	// Each segment owns its own log file.
	assert.NotEqual(t, session.EventsPath(dir, 1), session.EventsPath(dir, 2))
	_, err = os.Stat(filepath.Join(dir, "events_002.jsonl"))
	assert.NoError(t, err)
}
