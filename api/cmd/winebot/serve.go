package winebot

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/server"
)

func newServeConfig() (*config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %v", err)
	}
	return &cfg, nil
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the winebot api server.",
		Long:    "Start the winebot api server.",
		Example: "API_TOKEN=secret winebot serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := newServeConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			s := server.NewServer(cfg)
			log.Info().
				Str("host", cfg.API.Host).
				Int("port", cfg.API.Port).
				Bool("interactive", cfg.Interactive()).
				Msg("starting control plane")
			return s.ListenAndServe(ctx)
		},
	}
	return serveCmd
}
