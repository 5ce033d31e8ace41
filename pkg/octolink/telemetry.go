// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package octolink

import (
	"encoding/binary"
	"fmt"
)

// Telemetry is one decoded controller-to-host frame.
type Telemetry struct {
	AckID    uint8
	Status   ExecStatus
	X        int32
	Y        int32
	Z        int32
	Theta    int32
	Buttons  uint8
	Reserved [4]byte
	Checksum byte
}

// DecodeTelemetry extracts the fields of a telemetry frame by position.
// It fails with ErrMalformedFrame only when data is not MsgLength bytes; the
// trailing checksum is carried through but not verified here (see
// TelemetryChecksumValid).
func DecodeTelemetry(data []byte) (Telemetry, error) {
	if len(data) != MsgLength {
		return Telemetry{}, fmt.Errorf("telemetry frame is %d bytes, want %d: %w", len(data), MsgLength, ErrMalformedFrame)
	}

	t := Telemetry{
		AckID:    data[offsetAckID],
		Status:   ExecStatus(data[offsetExecStatus]),
		X:        int32(Signed(data[offsetX : offsetX+4])),
		Y:        int32(Signed(data[offsetY : offsetY+4])),
		Z:        int32(Signed(data[offsetZ : offsetZ+4])),
		Theta:    int32(Signed(data[offsetTheta : offsetTheta+4])),
		Buttons:  data[offsetButtons],
		Checksum: data[offsetCRC],
	}
	copy(t.Reserved[:], data[offsetReserved:offsetCRC])
	return t, nil
}

// TelemetryChecksumValid reports whether the trailing CRC of a raw telemetry
// frame matches its contents.
func TelemetryChecksumValid(data []byte) bool {
	if len(data) != MsgLength {
		return false
	}
	return CalculateCRC(data[:offsetCRC]) == data[offsetCRC]
}

// Encode serializes the telemetry frame and recomputes its CRC. The Checksum
// field is ignored.
func (t Telemetry) Encode() [MsgLength]byte {
	var b [MsgLength]byte
	b[offsetAckID] = t.AckID
	b[offsetExecStatus] = byte(t.Status)
	binary.BigEndian.PutUint32(b[offsetX:], uint32(t.X))
	binary.BigEndian.PutUint32(b[offsetY:], uint32(t.Y))
	binary.BigEndian.PutUint32(b[offsetZ:], uint32(t.Z))
	binary.BigEndian.PutUint32(b[offsetTheta:], uint32(t.Theta))
	b[offsetButtons] = t.Buttons
	copy(b[offsetReserved:offsetCRC], t.Reserved[:])
	b[offsetCRC] = CalculateCRC(b[:offsetCRC])
	return b
}

// JoystickPressed reports the joystick button bit
func (t Telemetry) JoystickPressed() bool {
	return t.Buttons&(1<<BitJoystickButton) != 0
}

// SwitchOn reports the external switch bit
func (t Telemetry) SwitchOn() bool {
	return t.Buttons&(1<<BitSwitch) != 0
}

// Position returns the reported position of a single axis
func (t Telemetry) Position(axis Axis) int32 {
	switch axis {
	case AxisX:
		return t.X
	case AxisY:
		return t.Y
	case AxisZ:
		return t.Z
	case AxisTheta:
		return t.Theta
	}
	return 0
}
