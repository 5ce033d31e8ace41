// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package octolink

import (
	"fmt"
	"strings"
	"time"
)

var opcodeNames = map[Opcode]string{
	OpMoveX:                          "MOVE_X",
	OpMoveY:                          "MOVE_Y",
	OpMoveZ:                          "MOVE_Z",
	OpMoveTheta:                      "MOVE_THETA",
	OpHomeOrZero:                     "HOME_OR_ZERO",
	OpMoveToX:                        "MOVETO_X",
	OpMoveToY:                        "MOVETO_Y",
	OpMoveToZ:                        "MOVETO_Z",
	OpSetLim:                         "SET_LIM",
	OpTurnOnIllumination:             "TURN_ON_ILLUMINATION",
	OpTurnOffIllumination:            "TURN_OFF_ILLUMINATION",
	OpSetIllumination:                "SET_ILLUMINATION",
	OpSetIlluminationLEDMatrix:       "SET_ILLUMINATION_LED_MATRIX",
	OpAckJoystickButtonPressed:       "ACK_JOYSTICK_BUTTON_PRESSED",
	OpAnalogWriteOnboardDAC:          "ANALOG_WRITE_ONBOARD_DAC",
	OpSetDAC80508RefDivGain:          "SET_DAC80508_REFDIV_GAIN",
	OpSetIlluminationIntensityFactor: "SET_ILLUMINATION_INTENSITY_FACTOR",
	OpSetLimSwitchPolarity:           "SET_LIM_SWITCH_POLARITY",
	OpConfigureStepperDriver:         "CONFIGURE_STEPPER_DRIVER",
	OpSetMaxVelocityAcceleration:     "SET_MAX_VELOCITY_ACCELERATION",
	OpSetLeadScrewPitch:              "SET_LEAD_SCREW_PITCH",
	OpSetOffsetVelocity:              "SET_OFFSET_VELOCITY",
	OpConfigureStagePID:              "CONFIGURE_STAGE_PID",
	OpEnableStagePID:                 "ENABLE_STAGE_PID",
	OpDisableStagePID:                "DISABLE_STAGE_PID",
	OpSetHomeSafetyMargin:            "SET_HOME_SAFETY_MARGIN",
	OpSetPIDArguments:                "SET_PID_ARGUMENTS",
	OpSendHardwareTrigger:            "SEND_HARDWARE_TRIGGER",
	OpSetStrobeDelay:                 "SET_STROBE_DELAY",
	OpSetPinLevel:                    "SET_PIN_LEVEL",
	OpInitFilterWheel:                "INITFILTERWHEEL",
	OpInitialize:                     "INITIALIZE",
	OpReset:                          "RESET",
}

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op Opcode) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// KnownOpcode reports whether op is part of the command set
func KnownOpcode(op Opcode) bool {
	_, ok := opcodeNames[op]
	return ok
}

// FormatStatus returns the human-readable name for an execution status
func FormatStatus(s ExecStatus) string {
	switch s {
	case StatusCompleted:
		return "COMPLETED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCmdChecksumError:
		return "CMD_CHECKSUM_ERROR"
	case StatusCmdInvalid:
		return "CMD_INVALID"
	case StatusCmdExecutionError:
		return "CMD_EXECUTION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// FormatAxis returns the axis letter
func FormatAxis(a Axis) string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	case AxisTheta:
		return "THETA"
	case AxisXY:
		return "XY"
	default:
		return fmt.Sprintf("AXIS%d", a)
	}
}

// ParseAxis accepts an axis letter in either case
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	case "t", "theta":
		return AxisTheta, nil
	case "xy":
		return AxisXY, nil
	}
	return 0, fmt.Errorf("axis %q: %w", s, ErrUnsupportedAxis)
}

// FormatTelemetry formats a telemetry frame into a human-readable string
func FormatTelemetry(t Telemetry, at time.Time) string {
	joy := "-"
	if t.JoystickPressed() {
		joy = "PRESSED"
	}
	sw := "off"
	if t.SwitchOn() {
		sw = "on"
	}
	return fmt.Sprintf("[%s] ack=%3d %-19s x=%11d y=%11d z=%11d theta=%11d joystick=%s switch=%s\n",
		at.Format("15:04:05.000"), t.AckID, FormatStatus(t.Status), t.X, t.Y, t.Z, t.Theta, joy, sw)
}

// FormatCommandFrame formats an outgoing command frame with a decoded payload
func FormatCommandFrame(f CommandFrame, at time.Time) string {
	crc := "ok"
	if !f.Valid() {
		crc = "BAD"
	}
	return fmt.Sprintf("[%s] id=%3d %s (0x%02X) crc=%s\n  %s\n",
		at.Format("15:04:05.000"), f.ID(), FormatOpcode(f.Opcode()), byte(f.Opcode()), crc, FormatPayload(f.Opcode(), f.Payload()))
}

// FormatPayload decodes a command payload according to its opcode
func FormatPayload(op Opcode, p []byte) string {
	if len(p) < MaxPayload {
		return fmt.Sprintf("payload: % X", p)
	}
	switch op {
	case OpMoveX, OpMoveY, OpMoveZ, OpMoveTheta:
		return fmt.Sprintf("Delta: %d usteps", Signed(p[0:4]))
	case OpMoveToX, OpMoveToY, OpMoveToZ:
		return fmt.Sprintf("Target: %d usteps", Signed(p[0:4]))
	case OpHomeOrZero:
		axis := Axis(p[0])
		if p[1] == HomeZero {
			return fmt.Sprintf("Zero axis %s", FormatAxis(axis))
		}
		if axis == AxisXY {
			return fmt.Sprintf("Home XY, directions %d/%d", p[1], p[2])
		}
		return fmt.Sprintf("Home axis %s, direction %d", FormatAxis(axis), p[1])
	case OpSetLim:
		return fmt.Sprintf("Limit code %d: %d usteps", p[0], Signed(p[1:5]))
	case OpSetIllumination:
		return fmt.Sprintf("Source: %d, Intensity: %.1f%%", p[0], float64(Unsigned(p[1:3]))*100/0xFFFF)
	case OpSetIlluminationLEDMatrix:
		return fmt.Sprintf("Source: %d, R: %d, G: %d, B: %d", p[0], p[2], p[1], p[3])
	case OpSendHardwareTrigger:
		return fmt.Sprintf("Channel: %d, Control illumination: %t, On time: %d us", p[0]&0x7F, p[0]&0x80 != 0, Unsigned(p[1:5]))
	case OpSetStrobeDelay:
		return fmt.Sprintf("Channel: %d, Delay: %d us", p[0], Unsigned(p[1:5]))
	case OpSetPinLevel:
		return fmt.Sprintf("Pin: %d, Level: %d", p[0], p[1])
	case OpConfigureStepperDriver:
		return fmt.Sprintf("Axis: %s, Microstepping: %d, Current: %d mA, Hold: %d/255",
			FormatAxis(Axis(p[0])), p[1], Unsigned(p[2:4]), p[4])
	case OpSetMaxVelocityAcceleration:
		return fmt.Sprintf("Axis: %s, Velocity: %.2f mm/s, Acceleration: %.1f mm/s2",
			FormatAxis(Axis(p[0])), float64(Unsigned(p[1:3]))/100, float64(Unsigned(p[3:5]))/10)
	case OpSetLeadScrewPitch:
		return fmt.Sprintf("Axis: %s, Pitch: %.3f mm", FormatAxis(Axis(p[0])), float64(Unsigned(p[1:3]))/1000)
	case OpSetHomeSafetyMargin:
		return fmt.Sprintf("Axis: %s, Margin: %d um", FormatAxis(Axis(p[0])), Unsigned(p[1:3]))
	case OpSetLimSwitchPolarity:
		return fmt.Sprintf("Axis: %s, Polarity: %d", FormatAxis(Axis(p[0])), p[1])
	case OpConfigureStagePID:
		return fmt.Sprintf("Axis: %s, Flip: %d, Transitions/rev: %d", FormatAxis(Axis(p[0])), p[1], Unsigned(p[2:4]))
	case OpSetPIDArguments:
		return fmt.Sprintf("Axis: %s, P: %d, I: %d, D: %d", FormatAxis(Axis(p[0])), Unsigned(p[1:3]), p[3], p[4])
	case OpTurnOnIllumination, OpTurnOffIllumination, OpAckJoystickButtonPressed,
		OpInitFilterWheel, OpInitialize, OpReset:
		return "(no payload)"
	default:
		return fmt.Sprintf("payload: % X", p)
	}
}
