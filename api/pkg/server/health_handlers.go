package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/recorder"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/version"
)

// requiredTools is the helper toolchain the control plane shells out to.
var requiredTools = []string{
	"ffmpeg", "xdotool", "xinput", "wmctrl", "xdpyinfo", "wine", "wineboot", "import",
}

type healthRollup struct {
	Status    string `json:"status"`
	X11       bool   `json:"x11"`
	Wine      bool   `json:"wine"`
	Tools     bool   `json:"tools"`
	Storage   bool   `json:"storage"`
	Recording string `json:"recording"`
	SessionID string `json:"session_id,omitempty"`
}

// health is the cheap roll-up probes use. Degraded subsystems flip the
// top-level status but the endpoint itself always answers 200.
func (s *WineBotAPIServer) health(res http.ResponseWriter, req *http.Request) (healthRollup, *system.HTTPError) {
	dir := s.Sessions.CurrentDir()
	x11 := procutil.SafeCommand(req.Context(), 0, "xdpyinfo", "-display", s.Cfg.Display.Display).OK
	wine := procutil.CheckBinary("wine").Present
	tools := true
	for _, tool := range requiredTools {
		if !procutil.CheckBinary(tool).Present {
			tools = false
			break
		}
	}
	storage := fsutil.StatvfsInfo(s.Cfg.Sessions.Root).OK

	rollup := healthRollup{
		X11:       x11,
		Wine:      wine,
		Tools:     tools,
		Storage:   storage,
		Recording: string(s.Recorder.Status(dir).State),
		SessionID: s.Broker.State().SessionID,
	}
	rollup.Status = "ok"
	if !x11 || !wine || !tools || !storage {
		rollup.Status = "degraded"
	}
	return rollup, nil
}

type environmentHealth struct {
	Status          string `json:"status"`
	X11Reachable    bool   `json:"x11_reachable"`
	WineLoads       bool   `json:"wine_loads"`
	WindowManagerUp bool   `json:"window_manager_up"`
	ShellUp         bool   `json:"shell_up"`
}

// healthEnvironment is the deep check: it actually exercises the display
// and the compatibility layer instead of just looking for binaries.
func (s *WineBotAPIServer) healthEnvironment(res http.ResponseWriter, req *http.Request) (environmentHealth, *system.HTTPError) {
	h := environmentHealth{
		X11Reachable:    procutil.SafeCommand(req.Context(), 0, "xdpyinfo", "-display", s.Cfg.Display.Display).OK,
		WineLoads:       procutil.SafeCommand(req.Context(), 10*time.Second, "wine", "cmd", "/c", "exit").OK,
		WindowManagerUp: len(procutil.FindProcesses("openbox", true)) > 0,
		ShellUp:         len(procutil.FindProcesses("explorer.exe", true)) > 0,
	}
	h.Status = "ok"
	if !h.X11Reachable || !h.WineLoads || !h.WindowManagerUp || !h.ShellUp {
		h.Status = "degraded"
	}
	return h, nil
}

type systemHealth struct {
	Hostname      string  `json:"hostname"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	Load1         float64 `json:"load1"`
	MemTotal      uint64  `json:"mem_total_bytes"`
	MemAvailable  uint64  `json:"mem_available_bytes"`
	MemUsedPct    float64 `json:"mem_used_percent"`
}

func (s *WineBotAPIServer) healthSystem(res http.ResponseWriter, req *http.Request) (systemHealth, *system.HTTPError) {
	h := systemHealth{}
	if info, err := host.Info(); err == nil {
		h.Hostname = info.Hostname
		h.UptimeSeconds = info.Uptime
	}
	if avg, err := load.Avg(); err == nil {
		h.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemTotal = vm.Total
		h.MemAvailable = vm.Available
		h.MemUsedPct = vm.UsedPercent
	}
	return h, nil
}

func (s *WineBotAPIServer) healthX11(res http.ResponseWriter, req *http.Request) (procutil.CommandResult, *system.HTTPError) {
	return procutil.SafeCommand(req.Context(), 0, "xdpyinfo", "-display", s.Cfg.Display.Display), nil
}

type windowsHealth struct {
	Processes []string `json:"processes"`
	Count     int      `json:"count"`
}

func (s *WineBotAPIServer) healthWindows(res http.ResponseWriter, req *http.Request) (windowsHealth, *system.HTTPError) {
	names := procutil.ListExeProcesses()
	if names == nil {
		names = []string{}
	}
	return windowsHealth{Processes: names, Count: len(names)}, nil
}

type wineHealth struct {
	Version          string `json:"version,omitempty"`
	OK               bool   `json:"ok"`
	WineserverActive bool   `json:"wineserver_active"`
	DisplayDriverOK  bool   `json:"display_driver_ok"`
	Prefix           string `json:"prefix"`
}

func (s *WineBotAPIServer) healthWine(res http.ResponseWriter, req *http.Request) (wineHealth, *system.HTTPError) {
	result := procutil.SafeCommand(req.Context(), 0, "wine", "--version")
	// nodrv_CreateWindow on stderr means wine is up but cannot reach the
	// display, which every windowed app will hit.
	probe := procutil.SafeCommand(req.Context(), 10*time.Second, "wine", "cmd", "/c", "exit")
	return wineHealth{
		Version:          result.Stdout,
		OK:               result.OK,
		WineserverActive: len(procutil.FindProcesses("wineserver", true)) > 0,
		DisplayDriverOK:  probe.OK && !strings.Contains(probe.Stderr, "nodrv_CreateWindow"),
		Prefix:           s.Cfg.Wine.Prefix,
	}, nil
}

func (s *WineBotAPIServer) healthTools(res http.ResponseWriter, req *http.Request) (map[string]procutil.BinaryInfo, *system.HTTPError) {
	tools := make(map[string]procutil.BinaryInfo, len(requiredTools))
	for _, tool := range requiredTools {
		tools[tool] = procutil.CheckBinary(tool)
	}
	return tools, nil
}

func (s *WineBotAPIServer) healthStorage(res http.ResponseWriter, req *http.Request) (fsutil.DiskInfo, *system.HTTPError) {
	return fsutil.StatvfsInfo(s.Cfg.Sessions.Root), nil
}

func (s *WineBotAPIServer) healthRecording(res http.ResponseWriter, req *http.Request) (recorder.Status, *system.HTTPError) {
	return s.Recorder.Status(s.Sessions.CurrentDir()), nil
}

type versionResponse struct {
	APIVersion            string `json:"api_version"`
	BuildVersion          string `json:"build_version"`
	ArtifactSchemaVersion string `json:"artifact_schema_version"`
	EventSchemaVersion    string `json:"event_schema_version"`
}

func (s *WineBotAPIServer) getVersion(res http.ResponseWriter, req *http.Request) (versionResponse, *system.HTTPError) {
	return versionResponse{
		APIVersion:            version.APIVersion,
		BuildVersion:          version.BuildVersion(),
		ArtifactSchemaVersion: version.ArtifactSchemaVersion,
		EventSchemaVersion:    version.EventSchemaVersion,
	}, nil
}
