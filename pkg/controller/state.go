// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"time"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// Positions are axis positions in microsteps (or encoder ticks on
// closed-loop axes) as last reported by the controller.
type Positions struct {
	X     int32
	Y     int32
	Z     int32
	Theta int32
}

// Axis returns the position of a single axis
func (p Positions) Axis(a octolink.Axis) int32 {
	switch a {
	case octolink.AxisX:
		return p.X
	case octolink.AxisY:
		return p.Y
	case octolink.AxisZ:
		return p.Z
	case octolink.AxisTheta:
		return p.Theta
	}
	return 0
}

// State is a snapshot of the device as seen by the receiver loop.
type State struct {
	Positions Positions

	// Busy is set when a command is sent and cleared only when a telemetry
	// frame acknowledges it.
	Busy bool

	ButtonPressed bool
	SwitchOn      bool

	// JoystickPressEvent is set once per not-pressed to pressed transition of
	// the joystick button and stays set until ConsumeJoystickPress.
	JoystickPressEvent bool

	CommandID  uint8 // last id sent
	AckID      uint8
	ExecStatus octolink.ExecStatus
	Updated    time.Time
}
