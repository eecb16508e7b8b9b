package types

// Request bodies for the HTTP control surface. Body-less POSTs decode to
// the zero value and rely on the documented defaults.

type GrantControlRequest struct {
	LeaseSeconds int `json:"lease_seconds"`
}

type UserIntentRequest struct {
	Intent UserIntent `json:"intent"`
}

type ClickRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type AppRunRequest struct {
	Path   string `json:"path"`
	Args   string `json:"args,omitempty"`
	Detach bool   `json:"detach,omitempty"`
}

type ScriptRequest struct {
	Script     string `json:"script"`
	FocusTitle string `json:"focus_title,omitempty"`
}

type InspectWindowRequest struct {
	Title           string `json:"title,omitempty"`
	Text            string `json:"text,omitempty"`
	Handle          string `json:"handle,omitempty"`
	IncludeControls bool   `json:"include_controls,omitempty"`
	MaxControls     int    `json:"max_controls,omitempty"`
	ListOnly        bool   `json:"list_only,omitempty"`
	IncludeEmpty    bool   `json:"include_empty,omitempty"`
}

type FocusRequest struct {
	WindowID string `json:"window_id"`
}

type RecordingStartRequest struct {
	SessionLabel string `json:"session_label,omitempty"`
	SessionRoot  string `json:"session_root,omitempty"`
	Display      string `json:"display,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	FPS          int    `json:"fps,omitempty"`
	NewSession   bool   `json:"new_session,omitempty"`
}

// SessionRef selects a session by id or explicit directory. Embedded by
// every request that can target a non-current session.
type SessionRef struct {
	SessionID   string `json:"session_id,omitempty"`
	SessionDir  string `json:"session_dir,omitempty"`
	SessionRoot string `json:"session_root,omitempty"`
}

type SessionSuspendRequest struct {
	SessionRef
	ShutdownWine  *bool `json:"shutdown_wine,omitempty"`
	StopRecording *bool `json:"stop_recording,omitempty"`
}

type SessionResumeRequest struct {
	SessionRef
	RestartWine   *bool `json:"restart_wine,omitempty"`
	StopRecording *bool `json:"stop_recording,omitempty"`
}

type TraceStartRequest struct {
	SessionRef
	IncludeRaw     bool     `json:"include_raw,omitempty"`
	MotionSampleMS *int     `json:"motion_sample_ms,omitempty"`
	Backend        string   `json:"backend,omitempty"`
	DebugKeys      []string `json:"debug_keys,omitempty"`
	DebugKeysCSV   string   `json:"debug_keys_csv,omitempty"`
	DebugSampleMS  *int     `json:"debug_sample_ms,omitempty"`
}

type TraceStopRequest struct {
	SessionRef
}
