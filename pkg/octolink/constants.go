// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package octolink implements the fixed-length serial protocol spoken by the
// stage and illumination microcontroller.
//
// The host sends CmdLength-byte command frames and the controller streams
// MsgLength-byte telemetry frames back-to-back. There are no delimiters or
// escaping: frame boundaries are recovered from the fixed sizes alone, and each
// frame ends with a CRC-8 (CCITT, polynomial 0x07) over the preceding bytes.
// Multi-byte integers are big-endian; signed values are two's complement.
package octolink

// Frame sizes
const (
	CmdLength = 8
	MsgLength = 24

	// MaxPayload is the number of payload bytes between the opcode and the CRC.
	MaxPayload = CmdLength - 3
)

// CRC-8-CCITT configuration
const (
	crcPolynomial = 0x07
	crcInitial    = 0x00
)

// Telemetry frame layout
const (
	offsetAckID      = 0
	offsetExecStatus = 1
	offsetX          = 2
	offsetY          = 6
	offsetZ          = 10
	offsetTheta      = 14
	offsetButtons    = 18
	offsetReserved   = 19
	offsetCRC        = MsgLength - 1
)

// Button and switch bits in the telemetry buttons byte
const (
	BitJoystickButton = 0
	BitSwitch         = 1
)

// Opcode selects the action a command frame requests.
type Opcode uint8

// Motion
const (
	OpMoveX      Opcode = 0
	OpMoveY      Opcode = 1
	OpMoveZ      Opcode = 2
	OpMoveTheta  Opcode = 3
	OpHomeOrZero Opcode = 5
	OpMoveToX    Opcode = 6
	OpMoveToY    Opcode = 7
	OpMoveToZ    Opcode = 8
	OpSetLim     Opcode = 9
)

// Illumination and I/O
const (
	OpTurnOnIllumination             Opcode = 10
	OpTurnOffIllumination            Opcode = 11
	OpSetIllumination                Opcode = 12
	OpSetIlluminationLEDMatrix       Opcode = 13
	OpAckJoystickButtonPressed       Opcode = 14
	OpAnalogWriteOnboardDAC          Opcode = 15
	OpSetDAC80508RefDivGain          Opcode = 16
	OpSetIlluminationIntensityFactor Opcode = 17
	OpSendHardwareTrigger            Opcode = 30
	OpSetStrobeDelay                 Opcode = 31
	OpSetPinLevel                    Opcode = 41
)

// Axis configuration
const (
	OpSetLimSwitchPolarity       Opcode = 20
	OpConfigureStepperDriver     Opcode = 21
	OpSetMaxVelocityAcceleration Opcode = 22
	OpSetLeadScrewPitch          Opcode = 23
	OpSetOffsetVelocity          Opcode = 24
	OpConfigureStagePID          Opcode = 25
	OpEnableStagePID             Opcode = 26
	OpDisableStagePID            Opcode = 27
	OpSetHomeSafetyMargin        Opcode = 28
	OpSetPIDArguments            Opcode = 29
)

// Device control
const (
	OpInitFilterWheel Opcode = 253
	OpInitialize      Opcode = 254
	OpReset           Opcode = 255
)

// ExecStatus is the controller's report on the command named by the ack id.
type ExecStatus uint8

const (
	StatusCompleted         ExecStatus = 0
	StatusInProgress        ExecStatus = 1
	StatusCmdChecksumError  ExecStatus = 2
	StatusCmdInvalid        ExecStatus = 3
	StatusCmdExecutionError ExecStatus = 4
)

// Axis identifiers used in command payloads
type Axis uint8

const (
	AxisX     Axis = 0
	AxisY     Axis = 1
	AxisZ     Axis = 2
	AxisTheta Axis = 3
	AxisXY    Axis = 4
)

// Home-or-zero direction codes
const (
	HomePositive = 0
	HomeNegative = 1
	HomeZero     = 2
)

// Software limit codes for OpSetLim
const (
	LimitXPositive = 0
	LimitXNegative = 1
	LimitYPositive = 2
	LimitYNegative = 3
	LimitZPositive = 4
	LimitZNegative = 5
)

// Limit switch polarity
const (
	PolarityActiveLow  = 0
	PolarityActiveHigh = 1
	PolarityDisabled   = 2
)

// Illumination sources
const (
	SourceLEDArrayFull        = 0
	SourceLEDArrayLeftHalf    = 1
	SourceLEDArrayRightHalf   = 2
	SourceLEDArrayLeftBRightR = 3
	SourceLEDArrayLowNA       = 4
	SourceLEDArrayLeftDot     = 5
	SourceLEDArrayRightDot    = 6
	Source405nm               = 11
	Source488nm               = 12
	Source638nm               = 13
	Source561nm               = 14
	Source730nm               = 15
	SourceLEDExternalFET      = 20
)

// Controller pins addressable with OpSetPinLevel
const (
	PinAFLaser = 15
)

// DefaultBaudRate is the controller's USB serial rate.
const DefaultBaudRate = 2000000
