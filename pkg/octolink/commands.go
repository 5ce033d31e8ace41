// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package octolink

import (
	"errors"
	"fmt"
	"math"
)

// Command builder functions create Command values ready for encoding. The
// engine assigns the id when the command is sent.

// ErrUnsupportedAxis is returned by builders for an axis the opcode cannot address.
var ErrUnsupportedAxis = errors.New("unsupported axis")

// Command is an opcode with its payload fields, not yet bound to an id.
type Command struct {
	Opcode Opcode
	Fields []Field
}

// Encode binds the command to id and produces its wire frame
func (c Command) Encode(id uint8) (CommandFrame, error) {
	return EncodeCommand(id, c.Opcode, c.Fields...)
}

// String returns the opcode name and payload fields
func (c Command) String() string {
	s := FormatOpcode(c.Opcode)
	for _, f := range c.Fields {
		s += fmt.Sprintf(" %d", f.Value)
	}
	return s
}

func newCommand(op Opcode, fields ...Field) Command {
	return Command{Opcode: op, Fields: fields}
}

//////////////////////////////////////////////////////////////
// Motion
//////////////////////////////////////////////////////////////

// MoveRelative creates a MOVE_X/Y/Z/THETA command for a signed microstep
// delta. Deltas larger than an int32 must be split by the caller.
func MoveRelative(axis Axis, usteps int32) (Command, error) {
	switch axis {
	case AxisX:
		return newCommand(OpMoveX, I32(usteps)), nil
	case AxisY:
		return newCommand(OpMoveY, I32(usteps)), nil
	case AxisZ:
		return newCommand(OpMoveZ, I32(usteps)), nil
	case AxisTheta:
		return newCommand(OpMoveTheta, I32(usteps)), nil
	}
	return Command{}, fmt.Errorf("relative move on axis %d: %w", axis, ErrUnsupportedAxis)
}

// MoveAbsolute creates a MOVETO_X/Y/Z command.
// The controller has no absolute move for theta.
func MoveAbsolute(axis Axis, usteps int32) (Command, error) {
	switch axis {
	case AxisX:
		return newCommand(OpMoveToX, I32(usteps)), nil
	case AxisY:
		return newCommand(OpMoveToY, I32(usteps)), nil
	case AxisZ:
		return newCommand(OpMoveToZ, I32(usteps)), nil
	}
	return Command{}, fmt.Errorf("absolute move on axis %d: %w", axis, ErrUnsupportedAxis)
}

// Home creates a HOME_OR_ZERO command that drives one axis to its home
// switch. dir is HomePositive or HomeNegative.
func Home(axis Axis, dir uint8) Command {
	return newCommand(OpHomeOrZero, U8(uint8(axis)), U8(dir))
}

// HomeXY homes X and Y together.
func HomeXY(dirX, dirY uint8) Command {
	return newCommand(OpHomeOrZero, U8(uint8(AxisXY)), U8(dirX), U8(dirY))
}

// Zero creates a HOME_OR_ZERO command that declares the current position of
// an axis to be zero.
func Zero(axis Axis) Command {
	return newCommand(OpHomeOrZero, U8(uint8(axis)), U8(HomeZero))
}

// SetLimit creates a SET_LIM command. code is one of the Limit* constants.
func SetLimit(code uint8, usteps int32) Command {
	return newCommand(OpSetLim, U8(code), I32(usteps))
}

//////////////////////////////////////////////////////////////
// Illumination
//////////////////////////////////////////////////////////////

// TurnOnIllumination creates a TURN_ON_ILLUMINATION command
func TurnOnIllumination() Command {
	return newCommand(OpTurnOnIllumination)
}

// TurnOffIllumination creates a TURN_OFF_ILLUMINATION command
func TurnOffIllumination() Command {
	return newCommand(OpTurnOffIllumination)
}

// SetIllumination selects a source and its intensity in percent.
// The percentage is scaled to the full uint16 range.
func SetIllumination(source uint8, intensityPct float64) Command {
	return newCommand(OpSetIllumination, U8(source), U16(scaleU16(intensityPct/100)))
}

// SetIlluminationLEDMatrix sets the colour of an LED matrix pattern. Channel
// values are fractions in [0, 1]; the controller expects them in g, r, b order.
func SetIlluminationLEDMatrix(source uint8, r, g, b float64) Command {
	return newCommand(OpSetIlluminationLEDMatrix, U8(source), U8(scaleU8(g)), U8(scaleU8(r)), U8(scaleU8(b)))
}

// SetIlluminationIntensityFactor scales the illumination DAC output.
// The factor is clamped to [0.01, 1] and sent as a whole percentage.
func SetIlluminationIntensityFactor(factor float64) Command {
	if factor > 1 {
		factor = 1
	}
	if factor < 0 {
		factor = 0.01
	}
	pct := math.Round(factor * 100)
	return newCommand(OpSetIlluminationIntensityFactor, U8(uint8(pct)))
}

//////////////////////////////////////////////////////////////
// Triggering and I/O
//////////////////////////////////////////////////////////////

// SendHardwareTrigger pulses a camera trigger output. When controlIllumination
// is set the controller also gates the illumination for illumOnTimeUS.
func SendHardwareTrigger(channel uint8, illumOnTimeUS uint32, controlIllumination bool) Command {
	b := channel & 0x7F
	if controlIllumination {
		b |= 0x80
	}
	return newCommand(OpSendHardwareTrigger, U8(b), U32(illumOnTimeUS))
}

// SetStrobeDelay sets the strobe delay of a camera channel in microseconds
func SetStrobeDelay(channel uint8, delayUS uint32) Command {
	return newCommand(OpSetStrobeDelay, U8(channel), U32(delayUS))
}

// SetPinLevel drives a controller GPIO
func SetPinLevel(pin uint8, level uint8) Command {
	return newCommand(OpSetPinLevel, U8(pin), U8(level))
}

// AnalogWriteDAC writes a raw value to one of the onboard DAC channels
func AnalogWriteDAC(dac uint8, value uint16) Command {
	return newCommand(OpAnalogWriteOnboardDAC, U8(dac), U16(value))
}

// SetDACRefDivGain configures the DAC80508 reference divider and gains
func SetDACRefDivGain(div uint8, gains uint8) Command {
	return newCommand(OpSetDAC80508RefDivGain, U8(div), U8(gains))
}

//////////////////////////////////////////////////////////////
// Axis configuration
//////////////////////////////////////////////////////////////

// SetLimSwitchPolarity creates a SET_LIM_SWITCH_POLARITY command
func SetLimSwitchPolarity(axis Axis, polarity uint8) Command {
	return newCommand(OpSetLimSwitchPolarity, U8(uint8(axis)), U8(polarity))
}

// ConfigureStepperDriver sets microstepping, RMS current (mA) and hold
// current (fraction of RMS) of an axis driver. Microstepping 1 is sent as 0
// and 256 as 255; the firmware maps them back.
func ConfigureStepperDriver(axis Axis, microstepping int, currentRMS uint16, holdFraction float64) Command {
	var ms uint8
	switch {
	case microstepping <= 1:
		ms = 0
	case microstepping >= 256:
		ms = 255
	default:
		ms = uint8(microstepping)
	}
	return newCommand(OpConfigureStepperDriver, U8(uint8(axis)), U8(ms), U16(currentRMS), U8(scaleU8(holdFraction)))
}

// SetMaxVelocityAcceleration sets the motion profile of an axis in mm/s and
// mm/s². Velocity is sent in units of 0.01 mm/s and acceleration in 0.1 mm/s².
func SetMaxVelocityAcceleration(axis Axis, velocity, acceleration float64) Command {
	return newCommand(OpSetMaxVelocityAcceleration, U8(uint8(axis)),
		U16(clampU16(velocity*100)), U16(clampU16(acceleration*10)))
}

// SetLeadScrewPitch sets the leadscrew pitch of an axis in mm, sent in µm.
func SetLeadScrewPitch(axis Axis, pitchMM float64) Command {
	return newCommand(OpSetLeadScrewPitch, U8(uint8(axis)), U16(clampU16(pitchMM*1000)))
}

// SetOffsetVelocity sets a constant velocity offset in mm/s, sent in nm/s.
func SetOffsetVelocity(axis Axis, velocity float64) Command {
	v := math.Round(velocity * 1e6)
	v = math.Max(math.Min(v, math.MaxInt32), math.MinInt32)
	return newCommand(OpSetOffsetVelocity, U8(uint8(axis)), I32(int32(v)))
}

// SetHomeSafetyMargin sets how far an axis backs off its home switch, in µm.
// The magnitude is clamped to 0xFFFF.
func SetHomeSafetyMargin(axis Axis, marginUM int) Command {
	if marginUM < 0 {
		marginUM = -marginUM
	}
	if marginUM > 0xFFFF {
		marginUM = 0xFFFF
	}
	return newCommand(OpSetHomeSafetyMargin, U8(uint8(axis)), U16(uint16(marginUM)))
}

//////////////////////////////////////////////////////////////
// Stage PID
//////////////////////////////////////////////////////////////

// ConfigureStagePID sets up closed-loop control of an axis from its encoder
func ConfigureStagePID(axis Axis, transitionsPerRev uint16, flipDirection bool) Command {
	var flip uint8
	if flipDirection {
		flip = 1
	}
	return newCommand(OpConfigureStagePID, U8(uint8(axis)), U8(flip), U16(transitionsPerRev))
}

// EnableStagePID creates an ENABLE_STAGE_PID command
func EnableStagePID(axis Axis) Command {
	return newCommand(OpEnableStagePID, U8(uint8(axis)))
}

// DisableStagePID creates a DISABLE_STAGE_PID command
func DisableStagePID(axis Axis) Command {
	return newCommand(OpDisableStagePID, U8(uint8(axis)))
}

// SetPIDArguments sets the PID gains of an axis
func SetPIDArguments(axis Axis, p uint16, i, d uint8) Command {
	return newCommand(OpSetPIDArguments, U8(uint8(axis)), U16(p), U8(i), U8(d))
}

//////////////////////////////////////////////////////////////
// Device control
//////////////////////////////////////////////////////////////

// AckJoystickButtonPressed tells the controller a joystick press was seen
func AckJoystickButtonPressed() Command {
	return newCommand(OpAckJoystickButtonPressed)
}

// InitFilterWheel creates an INITFILTERWHEEL command
func InitFilterWheel() Command {
	return newCommand(OpInitFilterWheel)
}

// Initialize creates an INITIALIZE command (motor drivers)
func Initialize() Command {
	return newCommand(OpInitialize)
}

// Reset creates a RESET command
func Reset() Command {
	return newCommand(OpReset)
}

func scaleU16(frac float64) uint16 {
	return clampU16(frac * 0xFFFF)
}

func scaleU8(frac float64) uint8 {
	v := frac * 255
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
