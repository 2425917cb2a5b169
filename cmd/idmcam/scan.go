package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idmcam/internal/config"
	"github.com/teslashibe/go-idmcam/internal/log"
	"github.com/teslashibe/go-idmcam/pkg/link"
	"github.com/teslashibe/go-idmcam/pkg/link/ble"
)

func scanCmd() *cobra.Command {
	var name string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List advertising panels",
		RunE: func(cmd *cobra.Command, args []string) error {
			central, err := ble.Open(log.Component("ble"))
			if err != nil {
				return err
			}
			l, err := link.New(central, link.WithLogger(log.Component("link")))
			if err != nil {
				return err
			}

			fmt.Printf("🔍 Scanning %s for %q...\n", timeout, name)
			found, err := l.Discover(cmd.Context(), name, timeout)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("No panels found.")
				return nil
			}
			for _, adv := range found {
				fmt.Printf("  %-20s %-18s %4d dBm\n", adv.Name, adv.Address, adv.RSSI)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", config.DeviceName(), "Advertised name substring")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Scan duration")
	return cmd
}
