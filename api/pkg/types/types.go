// Package types holds the shared data model: control state enums, the
// session and segment manifests, and the JSONL event shapes.
package types

import (
	"encoding/json"
	"time"
)

// ControlMode says who currently drives input: the human viewer or the agent.
type ControlMode string

const (
	ControlModeUser  ControlMode = "USER"
	ControlModeAgent ControlMode = "AGENT"
)

// UserIntent is the user's declared disposition toward the agent.
type UserIntent string

const (
	UserIntentWait          UserIntent = "WAIT"
	UserIntentSafeInterrupt UserIntent = "SAFE_INTERRUPT"
	UserIntentStopNow       UserIntent = "STOP_NOW"
)

// Valid reports whether the intent is one of the three known values.
func (i UserIntent) Valid() bool {
	switch i {
	case UserIntentWait, UserIntentSafeInterrupt, UserIntentStopNow:
		return true
	}
	return false
}

// AgentStatus tracks the agent's execution phase as seen by the broker.
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "IDLE"
	AgentStatusRunning  AgentStatus = "RUNNING"
	AgentStatusPaused   AgentStatus = "PAUSED"
	AgentStatusStopping AgentStatus = "STOPPING"
	AgentStatusStopped  AgentStatus = "STOPPED"
)

// RecorderState is the value of the recorder.state sidecar file.
type RecorderState string

const (
	RecorderStateIdle      RecorderState = "idle"
	RecorderStateRecording RecorderState = "recording"
	RecorderStatePaused    RecorderState = "paused"
	RecorderStateStopping  RecorderState = "stopping"
)

// ControlState is the broker's single in-memory state instance.
type ControlState struct {
	SessionID   string      `json:"session_id"`
	Interactive bool        `json:"interactive"`
	ControlMode ControlMode `json:"control_mode"`
	LeaseExpiry *float64    `json:"lease_expiry,omitempty"`
	UserIntent  UserIntent  `json:"user_intent"`
	AgentStatus AgentStatus `json:"agent_status"`
}

// SessionManifest is written once to session.json when a session is created.
type SessionManifest struct {
	SchemaVersion  string  `json:"schema_version"`
	SessionID      string  `json:"session_id"`
	StartTimeEpoch float64 `json:"start_time_epoch"`
	StartTimeISO   string  `json:"start_time_iso"`
	Hostname       string  `json:"hostname"`
	Display        string  `json:"display"`
	Resolution     string  `json:"resolution"`
	FPS            int     `json:"fps"`
	GitSHA         string  `json:"git_sha,omitempty"`
}

// SegmentManifest is written once per recording segment to segment_NNN.json.
type SegmentManifest struct {
	SchemaVersion  string  `json:"schema_version"`
	SessionID      string  `json:"session_id"`
	Segment        int     `json:"segment"`
	StartTimeEpoch float64 `json:"start_time_epoch"`
	StartTimeISO   string  `json:"start_time_iso"`
	Hostname       string  `json:"hostname"`
	Display        string  `json:"display"`
	Resolution     string  `json:"resolution"`
	FPS            int     `json:"fps"`
	GitSHA         string  `json:"git_sha,omitempty"`
}

// DeviceInfo identifies the X input device that produced an event.
type DeviceInfo struct {
	ID   *int   `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Spec string `json:"spec,omitempty"`
}

// TraceEvent is one line of an input trace log. Known fields are typed;
// anything else rides in Extra and is flattened into the emitted object.
type TraceEvent struct {
	SchemaVersion    string      `json:"schema_version"`
	TimestampEpochMS int64       `json:"timestamp_epoch_ms"`
	TimestampUTC     string      `json:"timestamp_utc"`
	SessionID        string      `json:"session_id,omitempty"`
	Source           string      `json:"source,omitempty"`
	Layer            string      `json:"layer,omitempty"`
	Event            string      `json:"event,omitempty"`
	Origin           string      `json:"origin,omitempty"`
	Tool             string      `json:"tool,omitempty"`
	Seq              *int64      `json:"seq,omitempty"`
	X                *int        `json:"x,omitempty"`
	Y                *int        `json:"y,omitempty"`
	Button           *int        `json:"button,omitempty"`
	Keycode          *int        `json:"keycode,omitempty"`
	Key              *uint32     `json:"key,omitempty"`
	TraceID          string      `json:"trace_id,omitempty"`
	Phase            string      `json:"phase,omitempty"`
	Device           *DeviceInfo `json:"device,omitempty"`

	Extra map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object. Typed fields win
// over Extra keys of the same name.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	type alias TraceEvent
	base, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]any, len(e.Extra)+16)
	for k, v := range e.Extra {
		merged[k] = v
	}
	var typed map[string]any
	if err := json.Unmarshal(base, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// traceEventKeys lists the typed field names of TraceEvent; anything
// outside this set lands in Extra on decode.
var traceEventKeys = map[string]struct{}{
	"schema_version": {}, "timestamp_epoch_ms": {}, "timestamp_utc": {},
	"session_id": {}, "source": {}, "layer": {}, "event": {},
	"origin": {}, "tool": {}, "seq": {}, "x": {}, "y": {},
	"button": {}, "keycode": {}, "key": {}, "trace_id": {},
	"phase": {}, "device": {},
}

// UnmarshalJSON is the inverse of MarshalJSON: unknown keys are captured
// into Extra instead of being dropped.
func (e *TraceEvent) UnmarshalJSON(data []byte) error {
	type alias TraceEvent
	var typed alias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if _, known := traceEventKeys[k]; known {
			delete(raw, k)
		}
	}
	*e = TraceEvent(typed)
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

// LifecycleEvent is one line of logs/lifecycle.jsonl.
type LifecycleEvent struct {
	SchemaVersion    string         `json:"schema_version"`
	TimestampEpochMS int64          `json:"timestamp_epoch_ms"`
	TimestampUTC     string         `json:"timestamp_utc"`
	SessionID        string         `json:"session_id,omitempty"`
	Kind             string         `json:"kind"`
	Message          string         `json:"message"`
	Source           string         `json:"source"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// RecorderEvent is one line of a segment's events_NNN.jsonl, later
// projected to subtitles.
type RecorderEvent struct {
	SchemaVersion string            `json:"schema_version"`
	SessionID     string            `json:"session_id"`
	TRelMS        int64             `json:"t_rel_ms"`
	TEpochMS      int64             `json:"t_epoch_ms"`
	Level         string            `json:"level"`
	Kind          string            `json:"kind"`
	Message       string            `json:"message"`
	Pos           map[string]int    `json:"pos,omitempty"`
	Style         map[string]string `json:"style,omitempty"`
	Source        string            `json:"source,omitempty"`
	Extra         map[string]any    `json:"extra,omitempty"`
}

// NowISO is the UTC timestamp format used across every emitted artifact.
func NowISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
