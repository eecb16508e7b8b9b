// Package config loads the control-plane configuration from the
// environment.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	API       API
	Sessions  Sessions
	Recording Recording
	Trace     Trace
	Display   Display
	Wine      Wine
	Discovery Discovery
}

type API struct {
	Host string `envconfig:"API_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"API_PORT" default:"8000"`
	// Token, when set, is required on every request outside /ui.
	Token string `envconfig:"API_TOKEN"`
	// Mode "interactive" means a human viewer shares the desktop and the
	// broker gates agent access; anything else runs in implicit-agent mode.
	Mode string `envconfig:"MODE" default:"headless"`
}

type Sessions struct {
	Root        string `envconfig:"WINEBOT_SESSION_ROOT" default:"/artifacts/sessions"`
	PointerPath string `envconfig:"WINEBOT_SESSION_POINTER" default:"/tmp/winebot_current_session"`
}

type Recording struct {
	Enabled bool `envconfig:"WINEBOT_RECORD" default:"false"`
	// IncludeInputEvents folds input trace events into the subtitle
	// projection, bounded by MaxInputEvents.
	IncludeInputEvents bool `envconfig:"WINEBOT_INPUT_TRACE_RECORD" default:"false"`
	MaxInputEvents     int  `envconfig:"WINEBOT_RECORD_INPUT_MAX_EVENTS" default:"5000"`
	// MinFreeBytes is the disk-space floor under the session directory;
	// the watchdog force-stops recording below it.
	MinFreeBytes uint64 `envconfig:"WINEBOT_RECORD_MIN_FREE_BYTES" default:"314572800"`
}

type Trace struct {
	WindowsBackend string `envconfig:"WINEBOT_INPUT_TRACE_WINDOWS_BACKEND" default:"auto"`
	NetworkEnabled bool   `envconfig:"WINEBOT_INPUT_TRACE_NETWORK" default:"false"`
	// NetworkListenPort is where the RFB tap proxy listens; it forwards to
	// the real VNC server on Discovery.VNCPort.
	NetworkListenPort int `envconfig:"WINEBOT_INPUT_TRACE_NETWORK_PORT" default:"5902"`
}

type Display struct {
	Display string `envconfig:"DISPLAY" default:":99"`
	Screen  string `envconfig:"SCREEN" default:"1920x1080"`
	FPS     int    `envconfig:"WINEBOT_RECORD_FPS" default:"30"`
}

type Wine struct {
	Prefix string `envconfig:"WINEPREFIX" default:"/wineprefix"`
	Arch   string `envconfig:"WINEARCH"`
}

type Discovery struct {
	Enabled       bool `envconfig:"WINEBOT_DISCOVERY" default:"true"`
	AllowMultiple bool `envconfig:"ALLOW_MULTIPLE_SESSIONS" default:"true"`
	VNCPort       int  `envconfig:"VNC_PORT" default:"5900"`
	NoVNCPort     int  `envconfig:"NOVNC_PORT" default:"6080"`
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Interactive reports whether the broker should gate agent access.
func (c ServerConfig) Interactive() bool {
	return c.API.Mode == "interactive"
}
