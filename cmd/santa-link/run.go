package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/santa-link/internal/ble"
	"github.com/chaz8081/santa-link/internal/program"
)

func newRunCmd(a *app) *cobra.Command {
	var waitTools time.Duration

	cmd := &cobra.Command{
		Use:   "run <program.yaml>",
		Short: "Run a program on the robot",
		Long: `Connect to the robot and run a YAML program step by step. The program
stops if the robot disconnects.`,
		Example: `  santa-link run examples/wave.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := program.Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := a.openRuntime(newConsoleListener(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			defer rt.Close()

			connectOrResume(ctx, rt.manager)
			if rt.manager.State() != ble.StateConnected {
				return ble.ErrNotConnected
			}
			waitForFreshTools(ctx, rt, waitTools)

			if err := rt.runner.Run(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Program %q finished.\n", p.Name)
			return nil
		},
	}

	cmd.Flags().DurationVar(&waitTools, "wait-tools", 3*time.Second, "how long to wait for the robot's tool list before starting")

	return cmd
}

// waitForFreshTools waits until the robot has sent its tool list, so call
// steps get current defaults. It gives up silently after d.
func waitForFreshTools(ctx context.Context, rt *runtime, d time.Duration) {
	if d <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for rt.registry.Len() == 0 || rt.registry.Cached() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
