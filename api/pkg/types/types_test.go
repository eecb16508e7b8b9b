package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceEventExtraFlattening(t *testing.T) {
	x := 10
	event := TraceEvent{
		SchemaVersion: "1",
		Event:         "motion",
		X:             &x,
		Extra: map[string]any{
			"raw":   "block",
			"event": "shadowed", // typed field must win
		},
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "motion", out["event"])
	assert.Equal(t, "block", out["raw"])
	assert.Equal(t, float64(10), out["x"])
	_, hasExtra := out["Extra"]
	assert.False(t, hasExtra)
}

func TestTraceEventOmitsUnsetOptionals(t *testing.T) {
	data, err := json.Marshal(TraceEvent{SchemaVersion: "1", Event: "vnc_pointer"})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	for _, key := range []string{"x", "y", "button", "keycode", "key", "seq", "device"} {
		_, present := out[key]
		assert.False(t, present, key)
	}
}

// Viewer events carry free-form fields; decoding must keep them so the
// appended line matches what was posted.
func TestTraceEventDecodeKeepsUnknownFields(t *testing.T) {
	payload := []byte(`{"event":"viewer_click","x":5,"target":"button#ok","modifiers":["shift"]}`)
	var event TraceEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "viewer_click", event.Event)
	require.NotNil(t, event.X)
	assert.Equal(t, 5, *event.X)
	assert.Equal(t, "button#ok", event.Extra["target"])

	data, err := json.Marshal(event)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "button#ok", out["target"])
	assert.Equal(t, []any{"shift"}, out["modifiers"])
}

func TestUserIntentValid(t *testing.T) {
	assert.True(t, UserIntentWait.Valid())
	assert.True(t, UserIntentSafeInterrupt.Valid())
	assert.True(t, UserIntentStopNow.Valid())
	assert.False(t, UserIntent("PANIC").Valid())
	assert.False(t, UserIntent("").Valid())
}

func TestNowISOIsUTC(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	ts := NowISO(time.Date(2026, 3, 1, 13, 0, 0, 0, loc))
	assert.Equal(t, "2026-03-01T12:00:00Z", ts)
}
