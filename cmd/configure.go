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

var (
	skipReset bool
	homeAfter bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Reset the controller and load the actuator configuration",
	Long: `Reset the controller, initialize the stepper drivers and send the per-axis
actuator configuration: lead screw pitch, driver microstepping and current,
velocity and acceleration limits, limit switch polarity, homing safety margin,
and the PID setup of axes with encoders.

Every command is acknowledged before the next is sent. Use --home to home XY
and Z once the configuration is loaded.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
	configureCmd.Flags().BoolVar(&skipReset, "no-reset", false, "Skip the reset and driver initialization")
	configureCmd.Flags().BoolVar(&homeAfter, "home", false, "Home the stage after configuring")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	eng, connInfo, err := OpenEngine(nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Printf("Stagelink - Configure\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	stage := controller.NewStage(eng, stageConfig)
	start := time.Now()

	steps := []struct {
		name string
		run  func() error
		skip bool
	}{
		{"reset", stage.Reset, skipReset},
		{"initialize drivers", stage.InitializeDrivers, skipReset},
		{"configure actuators", stage.ConfigureActuators, false},
		{"home XY", stage.HomeXY, !homeAfter},
		{"home Z", func() error { return stage.Home(octolink.AxisZ) }, !homeAfter},
	}

	for _, s := range steps {
		if s.skip {
			continue
		}
		fmt.Printf("  %-20s ", s.name+"...")
		if err := s.run(); err != nil {
			fmt.Printf("\033[1;31mFAILED\033[0m\n")
			return fmt.Errorf("%s: %w", s.name, err)
		}
		fmt.Printf("\033[1;32mOK\033[0m\n")
	}

	stats := eng.Stats()
	fmt.Printf("\nConfigured in %s (%d commands, %d resends)\n",
		time.Since(start).Round(time.Millisecond), stats.CommandsSent, stats.Resends())
	return nil
}
