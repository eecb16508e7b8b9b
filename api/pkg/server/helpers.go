package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/system"
)

// decodeBody parses a JSON request body into target. Mutating POSTs
// accept an empty body and fall back to the zero value.
func decodeBody(req *http.Request, target any) *system.HTTPError {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return system.NewHTTPError400("unreadable body")
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return system.NewHTTPError400("invalid JSON body: " + err.Error())
	}
	return nil
}

// sessionErr maps session and path errors onto the HTTP taxonomy.
func sessionErr(err error) *system.HTTPError {
	switch {
	case errors.Is(err, session.ErrBadRequest), errors.Is(err, fsutil.ErrInvalidPath):
		return system.NewHTTPError400(err.Error())
	case errors.Is(err, session.ErrNotFound):
		return system.NewHTTPError404(err.Error())
	default:
		return system.NewHTTPError500(err.Error())
	}
}

// targetSessionDir resolves the session a request addresses: an explicit
// reference wins, otherwise the current session.
func (s *WineBotAPIServer) targetSessionDir(id, dir, root string) (string, *system.HTTPError) {
	if id != "" || dir != "" {
		resolved, err := s.Sessions.ResolveSession(id, dir, root)
		if err != nil {
			return "", sessionErr(err)
		}
		return resolved, nil
	}
	current := s.Sessions.CurrentDir()
	if current == "" {
		return "", system.NewHTTPError404("no current session")
	}
	return current, nil
}

// queryInt parses an integer query parameter with a default.
func queryInt(req *http.Request, name string, fallback int) (int, *system.HTTPError) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, system.NewHTTPError400("invalid " + name)
	}
	return v, nil
}

func queryBool(req *http.Request, name string, fallback bool) bool {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	return raw == "1" || raw == "true" || raw == "yes"
}
