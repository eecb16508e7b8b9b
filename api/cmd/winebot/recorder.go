package winebot

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/recorder"
	"github.com/winebot/winebot/api/pkg/session"
)

func newSessionManager(cfg *config.ServerConfig) *session.Manager {
	return session.NewManager(
		cfg.Sessions.Root,
		cfg.Sessions.PointerPath,
		cfg.Wine.Prefix,
		cfg.Display.Display,
		cfg.Display.Screen,
		cfg.Display.FPS,
	)
}

func newRecorderCmd() *cobra.Command {
	recorderCmd := &cobra.Command{
		Use:   "recorder",
		Short: "Segment recorder child process and helpers.",
	}
	recorderCmd.AddCommand(newRecorderStartCmd())
	recorderCmd.AddCommand(newRecorderStopCmd())
	recorderCmd.AddCommand(newRecorderAnnotateCmd())
	return recorderCmd
}

// newRecorderStartCmd is the child-process entrypoint the API spawns; it
// blocks until SIGTERM finalises the segment.
func newRecorderStartCmd() *cobra.Command {
	var opts recorder.RunOptions
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run one recording segment until stopped.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.SessionDir == "" {
				return errors.New("--session-dir is required")
			}
			cfg, err := newServeConfig()
			if err != nil {
				return err
			}
			if opts.Display == "" {
				opts.Display = cfg.Display.Display
			}
			if opts.Resolution == "" {
				opts.Resolution = cfg.Display.Screen
			}
			if opts.FPS == 0 {
				opts.FPS = cfg.Display.FPS
			}
			return recorder.Run(cmd.Context(), newSessionManager(cfg), opts)
		},
	}
	cmd.Flags().StringVar(&opts.SessionDir, "session-dir", "", "session directory")
	cmd.Flags().IntVar(&opts.Segment, "segment", 0, "segment index")
	cmd.Flags().StringVar(&opts.Display, "display", "", "X display to capture")
	cmd.Flags().StringVar(&opts.Resolution, "resolution", "", "capture resolution WxH")
	cmd.Flags().IntVar(&opts.FPS, "fps", 0, "capture frame rate")
	cmd.Flags().BoolVar(&opts.IncludeInputEvents, "include-input-events", false, "fold traced input into subtitles")
	cmd.Flags().IntVar(&opts.MaxInputEvents, "max-input-events", 5000, "bound on folded input events")
	return cmd
}

func newRecorderStopCmd() *cobra.Command {
	var sessionDir string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal the running recorder to finalise.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := newServeConfig()
			if err != nil {
				return err
			}
			if sessionDir == "" {
				sessionDir = newSessionManager(cfg).CurrentDir()
			}
			if sessionDir == "" {
				return errors.New("no current session")
			}
			pid, ok := fsutil.ReadPID(session.RecorderPidPath(sessionDir))
			if !ok || !procutil.PidRunning(pid) {
				fmt.Println("already_stopped")
				return nil
			}
			if err := procutil.SignalPid(pid, syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Println("stopping")
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session-dir", "", "session directory (defaults to current)")
	return cmd
}

func newRecorderAnnotateCmd() *cobra.Command {
	var (
		sessionDir string
		message    string
		kind       string
		level      string
	)
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Append an annotation to the live segment.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if message == "" {
				return errors.New("--message is required")
			}
			cfg, err := newServeConfig()
			if err != nil {
				return err
			}
			sessions := newSessionManager(cfg)
			if sessionDir == "" {
				sessionDir = sessions.CurrentDir()
			}
			if sessionDir == "" {
				return errors.New("no current session")
			}
			sup := recorder.NewSupervisor(cfg, sessions, procutil.NewRegistry())
			segment, err := sup.Annotate(sessionDir, message, kind, level, nil, nil)
			if err != nil {
				return err
			}
			fmt.Printf("annotated segment %03d\n", segment)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session-dir", "", "session directory (defaults to current)")
	cmd.Flags().StringVar(&message, "message", "", "annotation text")
	cmd.Flags().StringVar(&kind, "kind", "annotation", "event kind")
	cmd.Flags().StringVar(&level, "level", "info", "event level")
	return cmd
}
