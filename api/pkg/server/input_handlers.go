package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/trace"
	"github.com/winebot/winebot/api/pkg/types"
)

const policyDenialDetail = "agent_control_denied_by_policy"

// traceLayerNames maps the URL layer segment onto trace sources.
var traceLayerNames = map[string]trace.Source{
	"canonical": trace.SourceCanonical,
	"x11core":   trace.SourceX11Core,
	"client":    trace.SourceClient,
	"windows":   trace.SourceWindows,
	"network":   trace.SourceNetwork,
}

func layerFromRequest(req *http.Request) (trace.Source, *system.HTTPError) {
	name := mux.Vars(req)["layer"]
	src, ok := traceLayerNames[name]
	if !ok {
		return "", system.NewHTTPError400("unknown trace layer: " + name)
	}
	return src, nil
}

type clickResponse struct {
	Status  string `json:"status"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	TraceID string `json:"trace_id"`
}

// mouseClick performs an agent click. The broker gates it; the request
// and completion are traced on the canonical log, and the click is
// mirrored onto the windows layer so cross-layer analysis can correlate.
func (s *WineBotAPIServer) mouseClick(res http.ResponseWriter, req *http.Request) (clickResponse, *system.HTTPError) {
	var body types.ClickRequest
	if herr := decodeBody(req, &body); herr != nil {
		return clickResponse{}, herr
	}
	if !s.Broker.CheckAccess() {
		return clickResponse{}, system.NewHTTPError423(policyDenialDetail)
	}
	dir, err := s.Sessions.EnsureSession()
	if err != nil {
		return clickResponse{}, system.NewHTTPError500(err.Error())
	}

	traceID := uuid.NewString()
	x, y := body.X, body.Y
	requestEvent := types.TraceEvent{
		Source:  "api",
		Layer:   "canonical",
		Event:   "agent_click",
		Origin:  "agent",
		Tool:    "xdotool",
		X:       &x,
		Y:       &y,
		TraceID: traceID,
		Phase:   "request",
	}
	_ = trace.SharedWriter(dir, trace.SourceCanonical).Append(requestEvent)

	result := procutil.SafeCommand(req.Context(), 0,
		"xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y), "click", "1")

	completeEvent := requestEvent
	completeEvent.Phase = "complete"
	if !result.OK {
		completeEvent.Extra = map[string]any{"error": result.Error, "stderr": result.Stderr}
	}
	_ = trace.SharedWriter(dir, trace.SourceCanonical).Append(completeEvent)

	// Mirror onto the windows layer for correlation with in-guest hooks.
	mirror := completeEvent
	mirror.Layer = "windows"
	_ = trace.SharedWriter(dir, trace.SourceWindows).Append(mirror)

	if !result.OK {
		detail := result.Error
		if detail == "" {
			detail = fmt.Sprintf("xdotool exited with %d", result.ExitCode)
		}
		return clickResponse{}, system.NewHTTPError500(detail)
	}
	return clickResponse{Status: "clicked", X: x, Y: y, TraceID: traceID}, nil
}

type clientEventResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// clientEvent ingests one viewer-reported input event. Real user input
// always preempts a live agent lease, whether or not the client layer is
// recording.
func (s *WineBotAPIServer) clientEvent(res http.ResponseWriter, req *http.Request) (clientEventResponse, *system.HTTPError) {
	var body types.TraceEvent
	if herr := decodeBody(req, &body); herr != nil {
		return clientEventResponse{}, herr
	}
	s.Broker.ReportUserActivity()

	dir := s.Sessions.CurrentDir()
	if dir == "" {
		return clientEventResponse{Status: "ignored", Reason: "no_session"}, nil
	}
	status, err := s.Trace.RecordClientEvent(dir, body)
	if err != nil {
		return clientEventResponse{}, system.NewHTTPError500(err.Error())
	}
	if status == "client_trace_disabled" {
		return clientEventResponse{Status: "ignored", Reason: "client_trace_disabled"}, nil
	}
	if status == "ignored" {
		return clientEventResponse{Status: "ignored", Reason: "missing_event"}, nil
	}
	return clientEventResponse{Status: status}, nil
}

func (s *WineBotAPIServer) traceStatus(res http.ResponseWriter, req *http.Request) (trace.LayerStatus, *system.HTTPError) {
	src, herr := layerFromRequest(req)
	if herr != nil {
		return trace.LayerStatus{}, herr
	}
	dir := s.Sessions.CurrentDir()
	return s.Trace.Status(dir, src), nil
}

func (s *WineBotAPIServer) traceStart(res http.ResponseWriter, req *http.Request) (trace.ActionResult, *system.HTTPError) {
	src, herr := layerFromRequest(req)
	if herr != nil {
		return trace.ActionResult{}, herr
	}
	var body types.TraceStartRequest
	if herr := decodeBody(req, &body); herr != nil {
		return trace.ActionResult{}, herr
	}
	dir, herr := s.targetSessionDir(body.SessionID, body.SessionDir, body.SessionRoot)
	if herr != nil {
		// Trace start on a fresh host bootstraps the session.
		var err error
		dir, err = s.Sessions.EnsureSession()
		if err != nil {
			return trace.ActionResult{}, system.NewHTTPError500(err.Error())
		}
	}
	result, err := s.Trace.Start(req.Context(), dir, src, body)
	if err != nil {
		return result, system.NewHTTPError500(err.Error())
	}
	return result, nil
}

func (s *WineBotAPIServer) traceStop(res http.ResponseWriter, req *http.Request) (trace.ActionResult, *system.HTTPError) {
	src, herr := layerFromRequest(req)
	if herr != nil {
		return trace.ActionResult{}, herr
	}
	var body types.TraceStopRequest
	if herr := decodeBody(req, &body); herr != nil {
		return trace.ActionResult{}, herr
	}
	dir, herr := s.targetSessionDir(body.SessionID, body.SessionDir, body.SessionRoot)
	if herr != nil {
		return trace.ActionResult{}, herr
	}
	result, err := s.Trace.Stop(req.Context(), dir, src)
	if err != nil {
		return result, system.NewHTTPError500(err.Error())
	}
	return result, nil
}

type inputEventsResponse struct {
	Events []types.TraceEvent `json:"events"`
	Count  int                `json:"count"`
}

func (s *WineBotAPIServer) inputEvents(res http.ResponseWriter, req *http.Request) (inputEventsResponse, *system.HTTPError) {
	limit, herr := queryInt(req, "limit", 100)
	if herr != nil {
		return inputEventsResponse{}, herr
	}
	since, herr := queryInt(req, "since_epoch_ms", 0)
	if herr != nil {
		return inputEventsResponse{}, herr
	}
	query := trace.Query{
		Limit:        limit,
		SinceEpochMS: int64(since),
		Origin:       req.URL.Query().Get("origin"),
	}
	if sourceName := req.URL.Query().Get("source"); sourceName != "" {
		src, ok := traceLayerNames[sourceName]
		if !ok {
			return inputEventsResponse{}, system.NewHTTPError400("unknown source: " + sourceName)
		}
		query.Source = src
	}
	q := req.URL.Query()
	dir, herr := s.targetSessionDir(q.Get("session_id"), q.Get("session_dir"), q.Get("session_root"))
	if herr != nil {
		return inputEventsResponse{}, herr
	}
	events, err := trace.QueryEvents(dir, query)
	if err != nil {
		return inputEventsResponse{}, system.NewHTTPError400(err.Error())
	}
	if events == nil {
		events = []types.TraceEvent{}
	}
	return inputEventsResponse{Events: events, Count: len(events)}, nil
}
