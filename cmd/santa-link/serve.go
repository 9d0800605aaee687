package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaz8081/santa-link/internal/ble"
	"github.com/chaz8081/santa-link/internal/bridge"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the robot to the block editor over a websocket",
		Long: `Serve the websocket bridge at ws://<addr>/ws. The editor sends
connect, disconnect, send_text, call_tool, list_tools and state requests and
receives state, tools, text, tool_result and notice events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Bridge.Addr
			}
			ctx := cmd.Context()

			rt, err := a.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := bridge.NewServer(rt.manager, rt.dispatcher, rt.registry, a.cfg.Bridge.AllowedOrigins, slog.Default())
			rt.manager.AddListener(srv)

			go func() {
				outcome := rt.manager.Resume(ctx)
				slog.Info("session resume", "outcome", outcome.String())
				if outcome != ble.ResumeReconnected {
					slog.Info("waiting for the editor to connect")
				}
			}()

			return srv.Start(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config bridge.addr)")

	return cmd
}
