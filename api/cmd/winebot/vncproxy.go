package winebot

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winebot/winebot/api/pkg/trace"
)

func newVNCProxyCmd() *cobra.Command {
	var opts trace.ProxyOptions
	cmd := &cobra.Command{
		Use:   "vncproxy",
		Short: "Run the RFB tap proxy until stopped.",
		Long:  "Transparent TCP proxy in front of the VNC server that logs client input messages.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.SessionDir == "" {
				return errors.New("--session-dir is required")
			}
			cfg, err := newServeConfig()
			if err != nil {
				return err
			}
			if opts.Listen == "" {
				opts.Listen = fmt.Sprintf(":%d", cfg.Trace.NetworkListenPort)
			}
			if opts.Upstream == "" {
				opts.Upstream = fmt.Sprintf("127.0.0.1:%d", cfg.Discovery.VNCPort)
			}
			return trace.RunProxy(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.SessionDir, "session-dir", "", "session directory")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address")
	cmd.Flags().StringVar(&opts.Upstream, "upstream", "", "VNC server address")
	cmd.Flags().IntVar(&opts.MotionSampleMS, "motion-sample-ms", 10, "minimum gap between pointer moves")
	return cmd
}
