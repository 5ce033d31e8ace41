// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stagelink/pkg/controller"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and jogging the stage",
	Long: `Monitor and drive the stage via an interactive terminal UI.

Features:
  - Real-time axis positions, busy flag and command acknowledgments
  - Joystick button and switch state, with joystick press events
  - Link statistics (frame rate, CRC rejections, resends, ack latency)
  - Event logging
  - Jogging with a configurable step size

Keys:
  arrows        jog X/Y by the step size
  pgup/pgdown   jog Z by the step size
  tab           edit the step size (enter or tab to finish)
  h             home XY
  0             zero X, Y and Z
  l             toggle illumination
  r             reset statistics
  q             quit

A fatal link error is shown in the event log and disables further commands.
Logs go to --log-file when set, and are discarded otherwise.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// stateRelay keeps the latest engine state between TUI batches
type stateRelay struct {
	mu     sync.Mutex
	latest controller.State
	frames int
}

func (r *stateRelay) put(s controller.State) {
	r.mu.Lock()
	r.latest = s
	r.frames++
	r.mu.Unlock()
}

func (r *stateRelay) take() (controller.State, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.frames
	r.frames = 0
	return r.latest, n
}

func runMonitor(cmd *cobra.Command, args []string) error {
	quietLogging()

	eng, connInfo, err := OpenEngine(nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	relay := &stateRelay{}
	eng.SetCallback(relay.put)

	stage := controller.NewStage(eng, stageConfig)
	m := initialMonitorModel(stage, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)

	// Batch sender goroutine - sends the latest state to the TUI at a fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-eng.Done():
				p.Send(linkFailedMsg{err: eng.Err()})
				return
			case <-ticker.C:
				if state, n := relay.take(); n > 0 {
					p.Send(stateBatchMsg{state: state, frames: n})
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
