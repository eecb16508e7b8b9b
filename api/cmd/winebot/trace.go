package winebot

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/winebot/winebot/api/pkg/trace"
)

func newTraceCmd() *cobra.Command {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Input tracer child processes.",
	}
	traceCmd.AddCommand(newTraceXI2Cmd())
	traceCmd.AddCommand(newTraceX11CoreCmd())
	return traceCmd
}

func newTraceXI2Cmd() *cobra.Command {
	var opts trace.XI2Options
	cmd := &cobra.Command{
		Use:   "xi2",
		Short: "Run the canonical XI2 root tracer until stopped.",
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
			return trace.RunXI2(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.SessionDir, "session-dir", "", "session directory")
	cmd.Flags().StringVar(&opts.Display, "display", "", "X display to attach to")
	cmd.Flags().BoolVar(&opts.IncludeRaw, "include-raw", false, "carry raw xinput blocks in events")
	cmd.Flags().IntVar(&opts.MotionSampleMS, "motion-sample-ms", 50, "minimum gap between motion events")
	return cmd
}

func newTraceX11CoreCmd() *cobra.Command {
	var opts trace.X11CoreOptions
	cmd := &cobra.Command{
		Use:   "x11-core",
		Short: "Run the core-protocol tracer until stopped.",
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
			return trace.RunX11Core(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.SessionDir, "session-dir", "", "session directory")
	cmd.Flags().StringVar(&opts.Display, "display", "", "X display to attach to")
	cmd.Flags().IntVar(&opts.MotionSampleMS, "motion-sample-ms", 50, "minimum gap between motion events")
	return cmd
}
