package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"lnprox-router/internal/provider"
	providerfactory "lnprox-router/internal/provider/factory"
	"lnprox-router/internal/router"
	"lnprox-router/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var overridePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OpenAI and Anthropic compatible HTTP proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("port") {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}

			orch, err := providerfactory.NewOrchestrator(cfg)
			if err != nil {
				return err
			}

			registry := provider.NewRegistry()
			if err := providerfactory.RegisterConfiguredProviders(cmd.Context(), cfg, orch, registry); err != nil {
				return err
			}

			srv, err := server.New(cfg, router.New(registry))
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&overridePort, "port", 0, "override server port from configuration")

	return cmd
}
