package server

import (
	"net/http"

	"github.com/winebot/winebot/api/pkg/lifecycle"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/types"
)

const defaultSessionListLimit = 50

type sessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

func (s *WineBotAPIServer) listSessions(res http.ResponseWriter, req *http.Request) (sessionListResponse, *system.HTTPError) {
	limit, herr := queryInt(req, "limit", defaultSessionListLimit)
	if herr != nil {
		return sessionListResponse{}, herr
	}
	if limit < 1 {
		return sessionListResponse{}, system.NewHTTPError400("limit must be >= 1")
	}
	sessions, err := s.Sessions.List(req.URL.Query().Get("root"), limit)
	if err != nil {
		return sessionListResponse{}, system.NewHTTPError500(err.Error())
	}
	if sessions == nil {
		sessions = []session.Info{}
	}
	return sessionListResponse{Sessions: sessions, Count: len(sessions)}, nil
}

func (s *WineBotAPIServer) suspendSession(res http.ResponseWriter, req *http.Request) (lifecycle.SuspendResult, *system.HTTPError) {
	var body types.SessionSuspendRequest
	if herr := decodeBody(req, &body); herr != nil {
		return lifecycle.SuspendResult{}, herr
	}
	if body.SessionID == "" && body.SessionDir == "" {
		body.SessionDir = s.Sessions.CurrentDir()
		if body.SessionDir == "" {
			return lifecycle.SuspendResult{}, system.NewHTTPError404("no current session")
		}
	}
	result, err := s.Lifecycle.SuspendSession(req.Context(), body)
	if err != nil {
		return result, sessionErr(err)
	}
	return result, nil
}

func (s *WineBotAPIServer) resumeSession(res http.ResponseWriter, req *http.Request) (lifecycle.ResumeResult, *system.HTTPError) {
	var body types.SessionResumeRequest
	if herr := decodeBody(req, &body); herr != nil {
		return lifecycle.ResumeResult{}, herr
	}
	if body.SessionID == "" && body.SessionDir == "" {
		return lifecycle.ResumeResult{}, system.NewHTTPError400("session_id or session_dir required")
	}
	result, err := s.Lifecycle.ResumeSession(req.Context(), body)
	if err != nil {
		return result, sessionErr(err)
	}
	return result, nil
}
