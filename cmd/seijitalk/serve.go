package main

import (
	"github.com/spf13/cobra"

	"github.com/comigor/seijitalk-go/internal/server"
	"github.com/comigor/seijitalk-go/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, r, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		reg, err := session.NewRegistry(r, cfg.Sessions.Max)
		if err != nil {
			return err
		}
		defer reg.Close()

		return server.New(reg).ListenAndServe(ctx, cfg.Server.Addr())
	},
}
