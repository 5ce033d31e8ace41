// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package octolink

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when a buffer handed to a decoder is not
	// exactly one frame long.
	ErrMalformedFrame = errors.New("malformed frame")

	ErrPayloadOverflow = errors.New("payload exceeds command frame")
	ErrFieldWidth      = errors.New("invalid payload field")
)

// Field is one big-endian integer in a command payload.
type Field struct {
	Value int64
	Width int // bytes: 1, 2 or 4
}

// U8 returns a one-byte unsigned field
func U8(v uint8) Field { return Field{Value: int64(v), Width: 1} }

// U16 returns a two-byte unsigned field
func U16(v uint16) Field { return Field{Value: int64(v), Width: 2} }

// U32 returns a four-byte unsigned field
func U32(v uint32) Field { return Field{Value: int64(v), Width: 4} }

// I16 returns a two-byte two's complement field
func I16(v int16) Field { return Field{Value: int64(v), Width: 2} }

// I32 returns a four-byte two's complement field
func I32(v int32) Field { return Field{Value: int64(v), Width: 4} }

// CommandFrame is a complete host-to-controller frame: id, opcode, payload
// and trailing CRC.
type CommandFrame [CmdLength]byte

// ID returns the command id
func (f CommandFrame) ID() uint8 { return f[0] }

// Opcode returns the command opcode
func (f CommandFrame) Opcode() Opcode { return Opcode(f[1]) }

// Payload returns the bytes between the opcode and the CRC
func (f CommandFrame) Payload() []byte { return f[2 : CmdLength-1] }

// Checksum returns the trailing CRC byte
func (f CommandFrame) Checksum() byte { return f[CmdLength-1] }

// Valid reports whether the trailing CRC matches the frame contents
func (f CommandFrame) Valid() bool {
	return CalculateCRC(f[:CmdLength-1]) == f[CmdLength-1]
}

// EncodeCommand builds a command frame. The buffer is zero-filled, id and
// opcode are placed first, each field is written big-endian in its declared
// width, and the CRC over the first CmdLength-1 bytes is appended.
func EncodeCommand(id uint8, op Opcode, fields ...Field) (CommandFrame, error) {
	var f CommandFrame
	f[0] = id
	f[1] = byte(op)

	pos := 2
	for i, field := range fields {
		if field.Width != 1 && field.Width != 2 && field.Width != 4 {
			return f, fmt.Errorf("field %d: width %d: %w", i, field.Width, ErrFieldWidth)
		}
		if pos+field.Width > CmdLength-1 {
			return f, fmt.Errorf("field %d ends at byte %d: %w", i, pos+field.Width, ErrPayloadOverflow)
		}
		if err := PutSigned(f[pos:pos+field.Width], field.Value); err != nil {
			return f, fmt.Errorf("field %d: %w", i, err)
		}
		pos += field.Width
	}

	f[CmdLength-1] = CalculateCRC(f[:CmdLength-1])
	return f, nil
}

// MustEncodeCommand is like EncodeCommand but panics on error
func MustEncodeCommand(id uint8, op Opcode, fields ...Field) CommandFrame {
	f, err := EncodeCommand(id, op, fields...)
	if err != nil {
		panic(err)
	}
	return f
}

// DecodeCommand copies a raw buffer into a CommandFrame. It does not check the CRC.
func DecodeCommand(data []byte) (CommandFrame, error) {
	var f CommandFrame
	if len(data) != CmdLength {
		return f, fmt.Errorf("command frame is %d bytes, want %d: %w", len(data), CmdLength, ErrMalformedFrame)
	}
	copy(f[:], data)
	return f, nil
}

// PutSigned writes v big-endian into buf, using two's complement for
// negative values. Values outside the range of len(buf) bytes are rejected.
func PutSigned(buf []byte, v int64) error {
	n := len(buf)
	if n < 1 || n > 8 {
		return fmt.Errorf("width %d: %w", n, ErrFieldWidth)
	}
	if n < 8 {
		bits := uint(8 * n)
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<bits - 1
		if v < lo || v > hi {
			return fmt.Errorf("value %d does not fit in %d bytes: %w", v, n, ErrFieldWidth)
		}
	}
	u := uint64(v)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return nil
}

// Signed decodes a big-endian two's complement integer of len(data) bytes.
func Signed(data []byte) int64 {
	var u uint64
	for _, b := range data {
		u = u<<8 | uint64(b)
	}
	n := len(data)
	if n == 0 || n >= 8 {
		return int64(u)
	}
	bits := uint(8 * n)
	if u >= 1<<(bits-1) {
		return int64(u) - int64(1)<<bits
	}
	return int64(u)
}

// Unsigned decodes a big-endian unsigned integer of len(data) bytes.
func Unsigned(data []byte) uint64 {
	var u uint64
	for _, b := range data {
		u = u<<8 | uint64(b)
	}
	return u
}
