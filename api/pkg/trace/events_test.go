package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/winebot/api/pkg/types"
)

func writeLog(t *testing.T, dir string, src Source, lines string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(LogPath(dir, src), []byte(lines), 0o644))
}

func TestQueryEventsTailsNewestLast(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, SourceCanonical, `{"timestamp_epoch_ms":1,"event":"motion"}
{"timestamp_epoch_ms":2,"event":"button_press"}
{"timestamp_epoch_ms":3,"event":"button_release"}
`)
	events, err := QueryEvents(dir, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "button_press", events[0].Event)
	assert.Equal(t, "button_release", events[1].Event)
}

func TestQueryEventsDropsGarbageLines(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, SourceCanonical, `{"timestamp_epoch_ms":1,"event":"motion"}
%%% torn write %%%
{"timestamp_epoch_ms":2,"event":"key_press"}
`)
	events, err := QueryEvents(dir, Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "key_press", events[1].Event)
}

func TestQueryEventsSinceFilter(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, SourceCanonical, `{"timestamp_epoch_ms":100,"event":"old"}
{"timestamp_epoch_ms":200,"event":"new"}
`)
	events, err := QueryEvents(dir, Query{Limit: 10, SinceEpochMS: 150})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Event)
}

func TestQueryEventsOriginFilter(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, SourceNetwork, `{"timestamp_epoch_ms":1,"event":"vnc_key","origin":"user"}
{"timestamp_epoch_ms":2,"event":"vnc_key","origin":"agent"}
`)
	events, err := QueryEvents(dir, Query{Source: SourceNetwork, Limit: 10, Origin: "agent"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "agent", events[0].Origin)
}

func TestQueryEventsRejectsBadLimit(t *testing.T) {
	_, err := QueryEvents(t.TempDir(), Query{Limit: 0})
	assert.ErrorIs(t, err, ErrBadQuery)
}

func TestQueryEventsMissingLogIsEmpty(t *testing.T) {
	events, err := QueryEvents(t.TempDir(), Query{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWriterStampsEnvelope(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	w := NewWriter(dir, SourceCanonical)
	require.NoError(t, w.Append(types.TraceEvent{Event: "motion"}))
	require.NoError(t, w.Append(types.TraceEvent{Event: "motion"}))

	events, err := QueryEvents(dir, Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].SchemaVersion)
	assert.NotZero(t, events[0].TimestampEpochMS)
	assert.NotEmpty(t, events[0].TimestampUTC)
	require.NotNil(t, events[0].Seq)
	require.NotNil(t, events[1].Seq)
	assert.Equal(t, *events[0].Seq+1, *events[1].Seq)
}
