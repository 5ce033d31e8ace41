// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stagelink/pkg/link"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and detected controllers",
	Long: `List the serial ports on this machine with their USB identifiers.

Ports recognised as a stage controller board are marked. These are the ports
--port auto chooses from; use --serial-number when more than one is present.`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := link.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Printf("%-3s %-22s %-9s %-16s %-14s %s\n", "", "PORT", "VID:PID", "SERIAL", "BOARD", "PRODUCT")
	for _, p := range ports {
		mark := ""
		if p.Board != "" {
			mark = "*"
		}
		ids := "-"
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		fmt.Printf("%-3s %-22s %-9s %-16s %-14s %s\n", mark, p.Name, ids, orDash(p.SerialNumber), orDash(p.Board), p.Product)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
