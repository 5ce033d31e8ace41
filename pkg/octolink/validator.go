// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package octolink

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyCRCError
	AnomalyInvalidStatus
	AnomalyUnknownButtons
	AnomalyUnknownOpcode
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateTelemetry checks a raw telemetry frame for anomalies.
// Returns a slice of validation errors (empty if the frame is valid)
func ValidateTelemetry(data []byte) []ValidationError {
	if len(data) != MsgLength {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("telemetry frame is %d bytes (expected %d)", len(data), MsgLength),
			Details: map[string]interface{}{"length": len(data), "expected": MsgLength},
		}}
	}

	errors := []ValidationError{}

	computed := CalculateCRC(data[:offsetCRC])
	if computed != data[offsetCRC] {
		errors = append(errors, ValidationError{
			Type:    AnomalyCRCError,
			Message: fmt.Sprintf("CRC mismatch: computed 0x%02X, frame 0x%02X", computed, data[offsetCRC]),
			Details: map[string]interface{}{"computed": computed, "received": data[offsetCRC]},
		})
	}

	status := ExecStatus(data[offsetExecStatus])
	if status > StatusCmdExecutionError {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidStatus,
			Message: fmt.Sprintf("Invalid exec status=%d (max %d)", status, StatusCmdExecutionError),
			Details: map[string]interface{}{"status": status},
		})
	}

	known := byte(1<<BitJoystickButton | 1<<BitSwitch)
	if extra := data[offsetButtons] &^ known; extra != 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownButtons,
			Message: fmt.Sprintf("Unknown button bits set: 0x%02X", extra),
			Details: map[string]interface{}{"buttons": data[offsetButtons]},
		})
	}

	return errors
}

// ValidateCommand checks an outgoing command frame
func ValidateCommand(f CommandFrame) []ValidationError {
	errors := []ValidationError{}

	if !f.Valid() {
		errors = append(errors, ValidationError{
			Type:    AnomalyCRCError,
			Message: fmt.Sprintf("CRC mismatch on command id=%d", f.ID()),
			Details: map[string]interface{}{"id": f.ID(), "received": f.Checksum()},
		})
	}
	if !KnownOpcode(f.Opcode()) {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownOpcode,
			Message: fmt.Sprintf("Unknown opcode %d", f.Opcode()),
			Details: map[string]interface{}{"opcode": f.Opcode()},
		})
	}

	return errors
}
