// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stagelink/pkg/controller"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the link by waiting for a valid telemetry frame",
	Long: `Wait for a valid telemetry frame on the connection until timeout.

This command opens the link and waits for the controller's first telemetry
frame that passes its CRC check. Stale bytes are discarded while the stream
is aligned. Nothing is sent to the controller.

Useful for testing connectivity to the controller or a WebSocket serial bridge.
The command fails if no valid frame arrives before the timeout.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	frames := make(chan controller.State, 1)

	eng, connInfo, err := OpenEngine(nil)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer eng.Close()

	eng.SetCallback(func(s controller.State) {
		select {
		case frames <- s:
		default:
		}
	})

	fmt.Printf("Stagelink - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid telemetry frame...\n\n")

	start := time.Now()
	select {
	case s := <-frames:
		stats := eng.Stats()
		if stats.BytesDiscarded > 0 {
			fmt.Printf("(skipped %d stale bytes before alignment)\n", stats.BytesDiscarded)
		}
		fmt.Printf("SUCCESS: Received valid telemetry after %s\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  Ack: %d (%s)\n", s.AckID, octolink.FormatStatus(s.ExecStatus))
		fmt.Printf("  Position: x=%d y=%d z=%d theta=%d\n", s.Positions.X, s.Positions.Y, s.Positions.Z, s.Positions.Theta)
		fmt.Printf("  Joystick: %v  Switch: %v\n", s.ButtonPressed, s.SwitchOn)
		return nil

	case <-eng.Done():
		return fmt.Errorf("link closed before a valid frame: %w", eng.Err())

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		return fmt.Errorf("TIMEOUT: no valid telemetry received within %d seconds", probeTimeout)
	}
}
