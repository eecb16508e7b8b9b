package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/types"
)

const scriptTimeout = 60 * time.Second

type appRunResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	PID    int    `json:"pid,omitempty"`
	procutil.CommandResult
}

// runApp launches a windows executable under wine. The path must resolve
// inside the allowed prefixes; agent access is gated by the broker.
func (s *WineBotAPIServer) runApp(res http.ResponseWriter, req *http.Request) (appRunResponse, *system.HTTPError) {
	var body types.AppRunRequest
	if herr := decodeBody(req, &body); herr != nil {
		return appRunResponse{}, herr
	}
	if body.Path == "" {
		return appRunResponse{}, system.NewHTTPError400("path required")
	}
	if !s.Broker.CheckAccess() {
		return appRunResponse{}, system.NewHTTPError423(policyDenialDetail)
	}
	path, err := fsutil.ValidatePath(body.Path)
	if err != nil {
		return appRunResponse{}, system.NewHTTPError400(
			fmt.Sprintf("path outside allowed prefixes %s: %s",
				strings.Join(fsutil.AllowedPrefixes, ","), body.Path))
	}

	argv := []string{"wine", path}
	if body.Args != "" {
		argv = append(argv, strings.Fields(body.Args)...)
	}

	dir := s.Sessions.CurrentDir()
	if body.Detach {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Env = append(os.Environ(), "WINEPREFIX="+s.Cfg.Wine.Prefix)
		if s.Cfg.Wine.Arch != "" {
			cmd.Env = append(cmd.Env, "WINEARCH="+s.Cfg.Wine.Arch)
		}
		if err := cmd.Start(); err != nil {
			return appRunResponse{}, system.NewHTTPError500(err.Error())
		}
		s.Registry.Manage(cmd)
		s.Sessions.AppendLifecycle(dir, "app_started", path, "api", map[string]any{"pid": cmd.Process.Pid})
		return appRunResponse{Status: "started", Path: path, PID: cmd.Process.Pid}, nil
	}

	result := procutil.SafeCommand(req.Context(), scriptTimeout, argv...)
	s.Sessions.AppendLifecycle(dir, "app_run", path, "api", map[string]any{"ok": result.OK})
	status := "completed"
	if !result.OK {
		status = "failed"
	}
	return appRunResponse{Status: status, Path: path, CommandResult: result}, nil
}

type scriptResponse struct {
	Status     string `json:"status"`
	ScriptPath string `json:"script_path"`
	procutil.CommandResult
}

// scriptRunners maps a script kind to its file extension and interpreter
// argv prefix. The script path is appended.
var scriptRunners = map[string]struct {
	ext  string
	argv []string
}{
	"ahk":    {".ahk", []string{"wine", "autohotkey.exe"}},
	"autoit": {".au3", []string{"wine", "autoit3.exe"}},
	"python": {".py", []string{"winpy"}},
}

func (s *WineBotAPIServer) runAHK(res http.ResponseWriter, req *http.Request) (scriptResponse, *system.HTTPError) {
	return s.runScript(req, "ahk")
}

func (s *WineBotAPIServer) runAutoIt(res http.ResponseWriter, req *http.Request) (scriptResponse, *system.HTTPError) {
	return s.runScript(req, "autoit")
}

func (s *WineBotAPIServer) runPython(res http.ResponseWriter, req *http.Request) (scriptResponse, *system.HTTPError) {
	return s.runScript(req, "python")
}

// runScript persists the script under the session's scripts dir, then
// executes it with the kind's interpreter. Scripts are agent actions and
// go through the broker.
func (s *WineBotAPIServer) runScript(req *http.Request, kind string) (scriptResponse, *system.HTTPError) {
	runner := scriptRunners[kind]
	var body types.ScriptRequest
	if herr := decodeBody(req, &body); herr != nil {
		return scriptResponse{}, herr
	}
	if body.Script == "" {
		return scriptResponse{}, system.NewHTTPError400("script required")
	}
	if !s.Broker.CheckAccess() {
		return scriptResponse{}, system.NewHTTPError423(policyDenialDetail)
	}
	dir, err := s.Sessions.EnsureSession()
	if err != nil {
		return scriptResponse{}, system.NewHTTPError500(err.Error())
	}

	name := fmt.Sprintf("script_%d%s", time.Now().UnixMilli(), runner.ext)
	scriptPath := filepath.Join(session.ScriptsDir(dir), name)
	if err := os.WriteFile(scriptPath, []byte(body.Script), 0o644); err != nil {
		return scriptResponse{}, system.NewHTTPError500(err.Error())
	}

	if body.FocusTitle != "" {
		focus := procutil.SafeCommand(req.Context(), 0, "wmctrl", "-a", body.FocusTitle)
		if !focus.OK {
			log.Debug().Str("title", body.FocusTitle).Msg("focus before script failed")
		}
	}

	argv := append(append([]string{}, runner.argv...), scriptPath)
	result := procutil.SafeCommand(req.Context(), scriptTimeout, argv...)
	s.Sessions.AppendLifecycle(dir, "script_run", name, "api", map[string]any{"kind": kind, "ok": result.OK})
	status := "completed"
	if !result.OK {
		status = "failed"
	}
	return scriptResponse{Status: status, ScriptPath: scriptPath, CommandResult: result}, nil
}

type inspectResponse struct {
	OK     bool            `json:"ok"`
	Window json.RawMessage `json:"window,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// inspectWindow shells out to the in-guest inspector and relays its JSON
// verdict. Inspection is read-only and not broker-gated.
func (s *WineBotAPIServer) inspectWindow(res http.ResponseWriter, req *http.Request) (inspectResponse, *system.HTTPError) {
	var body types.InspectWindowRequest
	if herr := decodeBody(req, &body); herr != nil {
		return inspectResponse{}, herr
	}
	spec, err := json.Marshal(body)
	if err != nil {
		return inspectResponse{}, system.NewHTTPError500(err.Error())
	}
	result := procutil.SafeCommand(req.Context(), scriptTimeout,
		"winpy", "/opt/winebot/windows/inspect.py", "--spec", string(spec))
	if !result.OK {
		detail := result.Error
		if detail == "" {
			detail = result.Stderr
		}
		return inspectResponse{OK: false, Error: detail}, nil
	}
	if !json.Valid([]byte(result.Stdout)) {
		return inspectResponse{OK: false, Error: "inspector returned invalid JSON"}, nil
	}
	return inspectResponse{OK: true, Window: json.RawMessage(result.Stdout)}, nil
}

// screenshot captures the display into the session's screenshots dir and
// streams the PNG back. Plain handler: the response is an image, not
// JSON.
func (s *WineBotAPIServer) screenshot(res http.ResponseWriter, req *http.Request) {
	dir, err := s.Sessions.EnsureSession()
	if err != nil {
		system.WriteDetail(res, http.StatusInternalServerError, err.Error())
		return
	}
	name := fmt.Sprintf("screenshot_%d.png", time.Now().UnixMilli())
	path := filepath.Join(session.ScreenshotsDir(dir), name)
	result := procutil.SafeCommand(req.Context(), 0, "import", "-window", "root", path)
	if !result.OK {
		detail := result.Error
		if detail == "" {
			detail = result.Stderr
		}
		system.WriteDetail(res, http.StatusInternalServerError, "screenshot failed: "+detail)
		return
	}
	res.Header().Set("Content-Type", "image/png")
	http.ServeFile(res, req, path)
}

type windowInfo struct {
	ID      string `json:"id"`
	Desktop string `json:"desktop"`
	Title   string `json:"title"`
}

type windowListResponse struct {
	Windows []windowInfo `json:"windows"`
	Count   int          `json:"count"`
}

// listWindows parses `wmctrl -l` output: id, desktop, host, title.
func (s *WineBotAPIServer) listWindows(res http.ResponseWriter, req *http.Request) (windowListResponse, *system.HTTPError) {
	result := procutil.SafeCommand(req.Context(), 0, "wmctrl", "-l")
	if !result.OK {
		return windowListResponse{}, system.NewHTTPError500("wmctrl failed: " + result.Error)
	}
	windows := []windowInfo{}
	for _, line := range strings.Split(result.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		windows = append(windows, windowInfo{
			ID:      fields[0],
			Desktop: fields[1],
			Title:   strings.Join(fields[3:], " "),
		})
	}
	return windowListResponse{Windows: windows, Count: len(windows)}, nil
}

type focusResponse struct {
	Status   string `json:"status"`
	WindowID string `json:"window_id"`
}

func (s *WineBotAPIServer) focusWindow(res http.ResponseWriter, req *http.Request) (focusResponse, *system.HTTPError) {
	var body types.FocusRequest
	if herr := decodeBody(req, &body); herr != nil {
		return focusResponse{}, herr
	}
	if body.WindowID == "" {
		return focusResponse{}, system.NewHTTPError400("window_id required")
	}
	result := procutil.SafeCommand(req.Context(), 0, "wmctrl", "-i", "-a", body.WindowID)
	if !result.OK {
		return focusResponse{}, system.NewHTTPError500("focus failed: " + result.Error)
	}
	return focusResponse{Status: "focused", WindowID: body.WindowID}, nil
}
