package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/santa-link/internal/ble"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		timeout    time.Duration
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for Santa-Bot robots",
		Long:  `Scan for BLE peripherals advertising the configured robot name and list them.`,
		Example: `  santa-link scan
  santa-link scan --timeout 5s --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := ble.NewAdapter()
			if err != nil {
				return err
			}

			filter := ble.SantaFilter(ble.OptionsFromConfig(a.cfg.BLE))
			if all {
				filter = ble.ScanFilter{}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", timeout)
			devices, err := ble.ScanForDevices(cmd.Context(), adapter, filter, timeout)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No devices found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tRSSI")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%d\n", d.Name, d.ID, d.RSSI)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to scan")
	cmd.Flags().BoolVar(&all, "all", false, "list every peripheral, not only Santa-Bots")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print devices as JSON")

	return cmd
}
