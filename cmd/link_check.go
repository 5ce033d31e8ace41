// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stagelink/pkg/controller"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

var (
	showAll       bool
	statsInterval int
)

var linkCheckCmd = &cobra.Command{
	Use:   "link-check",
	Short: "Detect and analyze corrupt or anomalous telemetry",
	Long: `Passively validate the telemetry stream and report link statistics.

This command validates each telemetry frame and detects:
  - CRC errors
  - Invalid execution status values
  - Unknown bits in the button byte
  - Byte slips (stale bytes discarded to realign the stream)

By default, only anomalies are displayed. Use --show-all to display valid frames too.

Statistics (frame rate, rejected frames, resends, ack latency) are printed at
the configured interval and once more on exit.`,
	RunE: runLinkCheck,
}

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just anomalies)")
	linkCheckCmd.Flags().IntVar(&statsInterval, "interval", 10, "Statistics update interval (seconds)")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	eng, connInfo, err := OpenEngine(func(c *controller.Config) {
		c.FrameObserver = checkFrame
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Printf("Stagelink - Link Check\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics every %ds. Press Ctrl+C to exit\n\n", statsInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	var linkErr error
	for linkErr == nil {
		select {
		case <-ctx.Done():
			printStatistics(eng)
			return nil
		case <-statsTicker.C:
			printStatistics(eng)
		case <-eng.Done():
			linkErr = waitFatal(eng)
			if linkErr == nil {
				printStatistics(eng)
				return nil
			}
		}
	}

	printStatistics(eng)
	fmt.Printf("[%s] \033[1;31mLINK FAILED:\033[0m %v\n", time.Now().Format("15:04:05.000"), linkErr)
	return linkErr
}

// checkFrame validates one aligned telemetry frame and prints anomalies
func checkFrame(frame []byte, at time.Time) {
	anomalies := octolink.ValidateTelemetry(frame)
	if len(anomalies) == 0 {
		if showAll {
			t, _ := octolink.DecodeTelemetry(frame)
			fmt.Print(octolink.FormatTelemetry(t, at))
		}
		return
	}
	printAnomalies(frame, at, anomalies)
}

func printAnomalies(frame []byte, at time.Time, anomalies []octolink.ValidationError) {
	timestamp := at.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m % X\n", timestamp, frame)

	for i, a := range anomalies {
		switch a.Type {
		case octolink.AnomalyCRCError:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)

		case octolink.AnomalyInvalidStatus:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)

		case octolink.AnomalyUnknownButtons:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
			if b, ok := a.Details["buttons"].(byte); ok {
				fmt.Printf("    buttons=0b%08b\n", b)
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, a.Message)
		}
	}

	if t, err := octolink.DecodeTelemetry(frame); err == nil {
		fmt.Printf("  ack=%d status=%s x=%d y=%d z=%d\n", t.AckID, octolink.FormatStatus(t.Status), t.X, t.Y, t.Z)
	}
	if !octolink.TelemetryChecksumValid(frame) && !stageConfig.Link.PermissiveTelemetry {
		fmt.Printf("  >>> FRAME REJECTED <<<\n")
	}
	fmt.Println()
}

func printStatistics(eng *controller.Engine) {
	stats := eng.Stats()
	fmt.Print("\n" + stats.String() + "\n")
}
