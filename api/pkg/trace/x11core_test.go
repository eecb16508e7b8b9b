package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoreLine(t *testing.T) {
	ev, ok := parseCoreLine("motion a[0]=632.00 a[1]=243.00")
	require.True(t, ok)
	assert.Equal(t, "motion", ev.Event)
	require.NotNil(t, ev.X)
	assert.Equal(t, 632, *ev.X)
	require.NotNil(t, ev.Y)
	assert.Equal(t, 243, *ev.Y)

	ev, ok = parseCoreLine("button press   1")
	require.True(t, ok)
	assert.Equal(t, "button_press", ev.Event)
	require.NotNil(t, ev.Button)
	assert.Equal(t, 1, *ev.Button)

	ev, ok = parseCoreLine("key release 38")
	require.True(t, ok)
	assert.Equal(t, "key_release", ev.Event)
	require.NotNil(t, ev.Keycode)
	assert.Equal(t, 38, *ev.Keycode)

	_, ok = parseCoreLine("key held 38")
	assert.False(t, ok)
	_, ok = parseCoreLine("garbage")
	assert.False(t, ok)
}

func TestReadCoreStreamSamplesMotion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	writer := NewWriter(dir, SourceX11Core)

	stream := strings.NewReader(strings.Join([]string{
		"motion a[0]=1.00 a[1]=1.00",
		"motion a[0]=2.00 a[1]=2.00",
		"motion a[0]=3.00 a[1]=3.00",
		"button press 1",
	}, "\n"))
	readCoreStream(writer, "pointer", coreDevice{id: 2, name: "Virtual core pointer"}, stream, time.Hour)

	events, err := QueryEvents(dir, Query{Source: SourceX11Core, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "motion", events[0].Event)
	assert.Equal(t, "x11_core", events[0].Source)
	assert.Equal(t, "x11_core", events[0].Layer)
	require.NotNil(t, events[0].Device)
	assert.Equal(t, "pointer", events[0].Device.Spec)
	assert.Equal(t, "button_press", events[1].Event)
}

func TestReadCoreStreamUnsampledKeepsAllMotion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	writer := NewWriter(dir, SourceX11Core)

	stream := strings.NewReader("motion a[0]=1.00 a[1]=1.00\nmotion a[0]=2.00 a[1]=2.00")
	readCoreStream(writer, "pointer", coreDevice{id: 2, name: "Virtual core pointer"}, stream, 0)

	events, err := QueryEvents(dir, Query{Source: SourceX11Core, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
