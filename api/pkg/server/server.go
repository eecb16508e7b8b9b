// Package server is the HTTP control surface: routing, auth and version
// middleware, and the handlers that map requests onto the broker, the
// session manager, the recorder and the trace fabric.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/broker"
	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/discovery"
	"github.com/winebot/winebot/api/pkg/lifecycle"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/recorder"
	"github.com/winebot/winebot/api/pkg/session"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/trace"
	"github.com/winebot/winebot/api/pkg/types"
	"github.com/winebot/winebot/api/pkg/version"
)

// WineBotAPIServer wires every subsystem behind one router.
type WineBotAPIServer struct {
	Cfg        *config.ServerConfig
	Sessions   *session.Manager
	Broker     *broker.Broker
	Recorder   *recorder.Supervisor
	Trace      *trace.Fabric
	Lifecycle  *lifecycle.Supervisor
	Advertiser *discovery.Advertiser
	Registry   *procutil.Registry

	router *mux.Router
}

func NewServer(cfg *config.ServerConfig) *WineBotAPIServer {
	sessions := session.NewManager(
		cfg.Sessions.Root,
		cfg.Sessions.PointerPath,
		cfg.Wine.Prefix,
		cfg.Display.Display,
		cfg.Display.Screen,
		cfg.Display.FPS,
	)
	registry := procutil.NewRegistry()
	b := broker.New()
	rec := recorder.NewSupervisor(cfg, sessions, registry)
	fabric := trace.NewFabric(cfg, sessions, registry)
	lc := lifecycle.NewSupervisor(cfg, sessions, b, rec)

	s := &WineBotAPIServer{
		Cfg:        cfg,
		Sessions:   sessions,
		Broker:     b,
		Recorder:   rec,
		Trace:      fabric,
		Lifecycle:  lc,
		Advertiser: discovery.NewAdvertiser(cfg),
		Registry:   registry,
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *WineBotAPIServer) Router() http.Handler {
	return s.router
}

func (s *WineBotAPIServer) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.versionHeaders)
	r.Use(s.authenticate)

	// Health & system.
	r.HandleFunc("/health", system.Wrapper(s.health)).Methods(http.MethodGet)
	r.HandleFunc("/health/environment", system.Wrapper(s.healthEnvironment)).Methods(http.MethodGet)
	r.HandleFunc("/health/system", system.Wrapper(s.healthSystem)).Methods(http.MethodGet)
	r.HandleFunc("/health/x11", system.Wrapper(s.healthX11)).Methods(http.MethodGet)
	r.HandleFunc("/health/windows", system.Wrapper(s.healthWindows)).Methods(http.MethodGet)
	r.HandleFunc("/health/wine", system.Wrapper(s.healthWine)).Methods(http.MethodGet)
	r.HandleFunc("/health/tools", system.Wrapper(s.healthTools)).Methods(http.MethodGet)
	r.HandleFunc("/health/storage", system.Wrapper(s.healthStorage)).Methods(http.MethodGet)
	r.HandleFunc("/health/recording", system.Wrapper(s.healthRecording)).Methods(http.MethodGet)
	r.HandleFunc("/version", system.Wrapper(s.getVersion)).Methods(http.MethodGet)

	// Sessions.
	r.HandleFunc("/sessions", system.Wrapper(s.listSessions)).Methods(http.MethodGet)
	r.HandleFunc("/sessions/suspend", system.Wrapper(s.suspendSession)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/resume", system.Wrapper(s.resumeSession)).Methods(http.MethodPost)

	// Control broker.
	r.HandleFunc("/sessions/{id}/control", system.Wrapper(s.getControlState)).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/control/grant", system.Wrapper(s.grantControl)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/control/renew", system.Wrapper(s.renewControl)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/user_intent", system.Wrapper(s.setUserIntent)).Methods(http.MethodPost)

	// Recording.
	r.HandleFunc("/recording/start", system.Wrapper(s.startRecording)).Methods(http.MethodPost)
	r.HandleFunc("/recording/stop", system.Wrapper(s.stopRecording)).Methods(http.MethodPost)
	r.HandleFunc("/recording/pause", system.Wrapper(s.pauseRecording)).Methods(http.MethodPost)
	r.HandleFunc("/recording/resume", system.Wrapper(s.resumeRecording)).Methods(http.MethodPost)
	r.HandleFunc("/recording/status", system.Wrapper(s.recordingStatus)).Methods(http.MethodGet)
	r.HandleFunc("/recording/annotate", system.Wrapper(s.annotateRecording)).Methods(http.MethodPost)

	// Input.
	r.HandleFunc("/input/mouse/click", system.Wrapper(s.mouseClick)).Methods(http.MethodPost)
	r.HandleFunc("/input/client/event", system.Wrapper(s.clientEvent)).Methods(http.MethodPost)
	r.HandleFunc("/input/trace/{layer}/status", system.Wrapper(s.traceStatus)).Methods(http.MethodGet)
	r.HandleFunc("/input/trace/{layer}/start", system.Wrapper(s.traceStart)).Methods(http.MethodPost)
	r.HandleFunc("/input/trace/{layer}/stop", system.Wrapper(s.traceStop)).Methods(http.MethodPost)
	r.HandleFunc("/input/events", system.Wrapper(s.inputEvents)).Methods(http.MethodGet)

	// Automation.
	r.HandleFunc("/apps/run", system.Wrapper(s.runApp)).Methods(http.MethodPost)
	r.HandleFunc("/run/ahk", system.Wrapper(s.runAHK)).Methods(http.MethodPost)
	r.HandleFunc("/run/autoit", system.Wrapper(s.runAutoIt)).Methods(http.MethodPost)
	r.HandleFunc("/run/python", system.Wrapper(s.runPython)).Methods(http.MethodPost)
	r.HandleFunc("/inspect/window", system.Wrapper(s.inspectWindow)).Methods(http.MethodPost)
	r.HandleFunc("/screenshot", s.screenshot).Methods(http.MethodGet)
	r.HandleFunc("/windows", system.Wrapper(s.listWindows)).Methods(http.MethodGet)
	r.HandleFunc("/windows/focus", system.Wrapper(s.focusWindow)).Methods(http.MethodPost)

	// Lifecycle.
	r.HandleFunc("/lifecycle/status", system.Wrapper(s.lifecycleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/lifecycle/events", system.Wrapper(s.lifecycleEvents)).Methods(http.MethodGet)
	r.HandleFunc("/lifecycle/shutdown", system.Wrapper(s.shutdown)).Methods(http.MethodPost)
	r.HandleFunc("/lifecycle/reset_workspace", system.Wrapper(s.resetWorkspace)).Methods(http.MethodPost)
	r.HandleFunc("/openbox/reconfigure", system.Wrapper(s.openboxReconfigure)).Methods(http.MethodPost)
	r.HandleFunc("/openbox/restart", system.Wrapper(s.openboxRestart)).Methods(http.MethodPost)

	return r
}

// versionHeaders stamps every response with the four version headers.
func (s *WineBotAPIServer) versionHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		h := res.Header()
		h.Set("X-WineBot-API-Version", version.APIVersion)
		h.Set("X-WineBot-Build-Version", version.BuildVersion())
		h.Set("X-WineBot-Artifact-Schema-Version", version.ArtifactSchemaVersion)
		h.Set("X-WineBot-Event-Schema-Version", version.EventSchemaVersion)
		next.ServeHTTP(res, req)
	})
}

// authenticate enforces the bearer token on every path outside /ui.
func (s *WineBotAPIServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if s.Cfg.API.Token == "" || strings.HasPrefix(req.URL.Path, "/ui") {
			next.ServeHTTP(res, req)
			return
		}
		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if token != s.Cfg.API.Token {
			system.WriteDetail(res, http.StatusForbidden, "auth_required")
			return
		}
		next.ServeHTTP(res, req)
	})
}

// ListenAndServe runs the API until ctx is cancelled, with the child
// reaper and the recorder disk watchdog alongside.
func (s *WineBotAPIServer) ListenAndServe(ctx context.Context) error {
	dir, err := s.Sessions.EnsureSession()
	if err != nil {
		return fmt.Errorf("bootstrap session: %w", err)
	}
	if err := s.Sessions.LinkUserDir(session.UserDir(dir)); err != nil {
		log.Warn().Err(err).Msg("linking wine user dir failed")
	}
	s.Broker.UpdateSession(session.IDFromDir(dir), s.Cfg.Interactive())
	s.Sessions.AppendLifecycle(dir, "api_started", "control plane up", "api", nil)

	go s.Registry.RunReaper(ctx, 5*time.Second)
	go s.Recorder.RunWatchdog(ctx)

	if s.Cfg.Trace.NetworkEnabled {
		if _, err := s.Trace.Start(ctx, dir, trace.SourceNetwork, types.TraceStartRequest{}); err != nil {
			log.Warn().Err(err).Msg("network input tracer failed to start")
		}
	}

	if err := s.Advertiser.Announce(discovery.Announcement{
		SessionID:  session.IDFromDir(dir),
		APIPort:    s.Cfg.API.Port,
		VNCPort:    s.Cfg.Discovery.VNCPort,
		NoVNCPort:  s.Cfg.Discovery.NoVNCPort,
		ActiveApps: procutil.ListExeProcesses(),
	}); err != nil {
		log.Warn().Err(err).Msg("mdns announcement failed")
	}
	defer s.Advertiser.Shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.Cfg.API.Host, s.Cfg.API.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("control plane listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	s.Sessions.AppendLifecycle(s.Sessions.CurrentDir(), "api_stopped", "control plane down", "api", nil)
	return nil
}
