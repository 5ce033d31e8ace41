// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Stagelink - Microscope stage controller link
//
// A CLI tool for driving, monitoring and diagnosing a microscope stage and
// illumination controller over its serial command protocol.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/stagelink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
