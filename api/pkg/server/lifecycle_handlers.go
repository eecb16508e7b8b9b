package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/lifecycle"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/recorder"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/trace"
	"github.com/winebot/winebot/api/pkg/types"
)

type lifecycleStatus struct {
	SessionID    string              `json:"session_id"`
	SessionDir   string              `json:"session_dir"`
	SessionState string              `json:"session_state"`
	Control      types.ControlState  `json:"control"`
	Recorder     recorder.Status     `json:"recorder"`
	TraceLayers  []trace.LayerStatus `json:"trace_layers"`
}

func (s *WineBotAPIServer) lifecycleStatus(res http.ResponseWriter, req *http.Request) (lifecycleStatus, *system.HTTPError) {
	dir := s.Sessions.CurrentDir()
	return lifecycleStatus{
		SessionID:    session.IDFromDir(dir),
		SessionDir:   dir,
		SessionState: s.Sessions.ReadState(dir),
		Control:      s.Broker.State(),
		Recorder:     s.Recorder.Status(dir),
		TraceLayers:  s.Trace.StatusAll(dir),
	}, nil
}

type lifecycleEventsResponse struct {
	Events []types.LifecycleEvent `json:"events"`
	Count  int                    `json:"count"`
}

func (s *WineBotAPIServer) lifecycleEvents(res http.ResponseWriter, req *http.Request) (lifecycleEventsResponse, *system.HTTPError) {
	limit, herr := queryInt(req, "limit", 100)
	if herr != nil {
		return lifecycleEventsResponse{}, herr
	}
	if limit < 1 {
		return lifecycleEventsResponse{}, system.NewHTTPError400("limit must be >= 1")
	}
	dir := s.Sessions.CurrentDir()
	if dir == "" {
		return lifecycleEventsResponse{Events: []types.LifecycleEvent{}}, nil
	}
	lines, err := fsutil.TailLines(session.LifecycleLogPath(dir), limit)
	if err != nil {
		return lifecycleEventsResponse{Events: []types.LifecycleEvent{}}, nil
	}
	events := make([]types.LifecycleEvent, 0, len(lines))
	for _, line := range lines {
		var ev types.LifecycleEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return lifecycleEventsResponse{Events: events, Count: len(events)}, nil
}

type shutdownResponse struct {
	Status       string `json:"status"`
	DelaySeconds int    `json:"delay_seconds"`
	PowerOff     bool   `json:"power_off"`
}

// shutdown acknowledges first, then tears the container down in the
// background; the HTTP response must get out before PID 1 goes away.
func (s *WineBotAPIServer) shutdown(res http.ResponseWriter, req *http.Request) (shutdownResponse, *system.HTTPError) {
	delaySeconds, herr := queryInt(req, "delay", 1)
	if herr != nil {
		return shutdownResponse{}, herr
	}
	if delaySeconds < 0 {
		return shutdownResponse{}, system.NewHTTPError400("delay must be >= 0")
	}
	powerOff := queryBool(req, "power_off", false)

	// Detached from the request context: the teardown outlives the response.
	go s.Lifecycle.Shutdown(context.Background(), time.Duration(delaySeconds)*time.Second, powerOff)
	return shutdownResponse{
		Status:       "shutting_down",
		DelaySeconds: delaySeconds,
		PowerOff:     powerOff,
	}, nil
}

func (s *WineBotAPIServer) resetWorkspace(res http.ResponseWriter, req *http.Request) (lifecycle.ResetResult, *system.HTTPError) {
	return s.Lifecycle.ResetWorkspace(req.Context()), nil
}

func (s *WineBotAPIServer) openboxReconfigure(res http.ResponseWriter, req *http.Request) (procutil.CommandResult, *system.HTTPError) {
	return s.Lifecycle.OpenboxReconfigure(req.Context()), nil
}

func (s *WineBotAPIServer) openboxRestart(res http.ResponseWriter, req *http.Request) (procutil.CommandResult, *system.HTTPError) {
	return s.Lifecycle.OpenboxRestart(req.Context()), nil
}
