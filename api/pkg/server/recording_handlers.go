package server

import (
	"net/http"

	"github.com/winebot/winebot/api/pkg/recorder"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/types"
)

// requireRecording gates every mutating recording endpoint on the
// record-enabled flag.
func (s *WineBotAPIServer) requireRecording() *system.HTTPError {
	if !s.Cfg.Recording.Enabled {
		return system.NewHTTPError400("recording disabled")
	}
	return nil
}

func (s *WineBotAPIServer) startRecording(res http.ResponseWriter, req *http.Request) (recorder.ActionResult, *system.HTTPError) {
	if herr := s.requireRecording(); herr != nil {
		return recorder.ActionResult{}, herr
	}
	var body types.RecordingStartRequest
	if herr := decodeBody(req, &body); herr != nil {
		return recorder.ActionResult{}, herr
	}
	result, err := s.Recorder.Start(req.Context(), body)
	if err != nil {
		return result, system.NewHTTPError500(err.Error())
	}
	return result, nil
}

func (s *WineBotAPIServer) stopRecording(res http.ResponseWriter, req *http.Request) (recorder.ActionResult, *system.HTTPError) {
	if herr := s.requireRecording(); herr != nil {
		return recorder.ActionResult{}, herr
	}
	result, err := s.Recorder.Stop(req.Context(), s.Sessions.CurrentDir())
	if err != nil {
		return result, system.NewHTTPError500(err.Error())
	}
	return result, nil
}

func (s *WineBotAPIServer) pauseRecording(res http.ResponseWriter, req *http.Request) (recorder.ActionResult, *system.HTTPError) {
	if herr := s.requireRecording(); herr != nil {
		return recorder.ActionResult{}, herr
	}
	result, err := s.Recorder.Pause(s.Sessions.CurrentDir())
	if err != nil {
		return result, system.NewHTTPError500(err.Error())
	}
	return result, nil
}

func (s *WineBotAPIServer) resumeRecording(res http.ResponseWriter, req *http.Request) (recorder.ActionResult, *system.HTTPError) {
	if herr := s.requireRecording(); herr != nil {
		return recorder.ActionResult{}, herr
	}
	result, err := s.Recorder.Resume(s.Sessions.CurrentDir())
	if err != nil {
		return result, system.NewHTTPError500(err.Error())
	}
	return result, nil
}

func (s *WineBotAPIServer) recordingStatus(res http.ResponseWriter, req *http.Request) (recorder.Status, *system.HTTPError) {
	return s.Recorder.Status(s.Sessions.CurrentDir()), nil
}

type annotateRequest struct {
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
	Level   string            `json:"level,omitempty"`
	Pos     map[string]int    `json:"pos,omitempty"`
	Style   map[string]string `json:"style,omitempty"`
}

type annotateResponse struct {
	Status  string `json:"status"`
	Segment int    `json:"segment"`
}

func (s *WineBotAPIServer) annotateRecording(res http.ResponseWriter, req *http.Request) (annotateResponse, *system.HTTPError) {
	if herr := s.requireRecording(); herr != nil {
		return annotateResponse{}, herr
	}
	var body annotateRequest
	if herr := decodeBody(req, &body); herr != nil {
		return annotateResponse{}, herr
	}
	if body.Message == "" {
		return annotateResponse{}, system.NewHTTPError400("message required")
	}
	segment, err := s.Recorder.Annotate(s.Sessions.CurrentDir(), body.Message, body.Kind, body.Level, body.Pos, body.Style)
	if err != nil {
		return annotateResponse{}, system.NewHTTPError400(err.Error())
	}
	return annotateResponse{Status: "annotated", Segment: segment}, nil
}
