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
	captureFile string
	changesOnly bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw-log",
	Short: "Display telemetry frames in human-readable format",
	Long: `Continuously decode and display controller telemetry frames as they arrive.

Each frame is shown with its timestamp, acknowledged command id, execution
status, axis positions and button state. Frames failing their CRC are reported
inline. With --changes-only, frames identical to the previous one are skipped.

With --capture, every received frame (and every command sent by the link
layer) is appended to a CBOR capture file that --replay can play back.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&captureFile, "capture", "", "Append frames to a CBOR capture file")
	rawLogCmd.Flags().BoolVar(&changesOnly, "changes-only", false, "Only print frames that differ from the previous one")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	capture, closeCapture, err := openCapture(captureFile)
	if err != nil {
		return err
	}
	defer closeCapture()

	var last []byte
	observer := func(frame []byte, at time.Time) {
		if changesOnly && string(frame) == string(last) {
			return
		}
		last = append(last[:0], frame...)
		printRawFrame(frame, at)
	}

	eng, connInfo, err := OpenEngine(func(c *controller.Config) {
		c.Capture = capture
		c.FrameObserver = observer
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Printf("Stagelink - Raw Telemetry Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if captureFile != "" {
		fmt.Printf("Capture: %s\n", captureFile)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	select {
	case <-ctx.Done():
		return nil
	case <-eng.Done():
		if err := waitFatal(eng); err != nil {
			return err
		}
		fmt.Println("Replay finished")
		return nil
	}
}

func printRawFrame(frame []byte, at time.Time) {
	t, err := octolink.DecodeTelemetry(frame)
	if err != nil {
		fmt.Printf("[%s] [ERROR] %v\n", at.Format("15:04:05.000"), err)
		return
	}
	fmt.Print(octolink.FormatTelemetry(t, at))
	if !octolink.TelemetryChecksumValid(frame) {
		fmt.Printf("  [ERROR] CRC mismatch: computed 0x%02X, frame 0x%02X\n",
			octolink.CalculateCRC(frame[:octolink.MsgLength-1]), frame[octolink.MsgLength-1])
	}
}
