// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator models the stage controller firmware behind a byte
// port, so the engine and the CLI can run without hardware.
package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// Port is the controller end of a link
type Port interface {
	ReadExact(n int) ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}

// Options tunes the simulated firmware. Zero fields take defaults.
type Options struct {
	TelemetryInterval time.Duration // default 5ms
	ExecDelay         time.Duration // default 50ms, negative completes commands at once
	Logger            *zerolog.Logger
}

type pending struct {
	frame  octolink.CommandFrame
	doneAt time.Time
}

// Device is a simulated stage controller
type Device struct {
	port Port
	opts Options
	log  zerolog.Logger

	mu             sync.Mutex
	telemetry      octolink.Telemetry
	running        *pending
	joystickHeld   bool
	joystickLatch  bool
	switchOn       bool
	checksumFaults int
	crcFaults      int
	commands       []octolink.CommandFrame
	limits         map[uint8]int32
	illumination   bool
}

// New creates a device on port
func New(port Port, opts Options) *Device {
	if opts.TelemetryInterval == 0 {
		opts.TelemetryInterval = 5 * time.Millisecond
	}
	if opts.ExecDelay == 0 {
		opts.ExecDelay = 50 * time.Millisecond
	}
	if opts.ExecDelay < 0 {
		opts.ExecDelay = 0
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Device{
		port:   port,
		opts:   opts,
		log:    logger.With().Str("component", "simulator").Logger(),
		limits: make(map[uint8]int32),
	}
}

// Run streams telemetry and executes received commands until ctx is done or
// the port fails.
func (d *Device) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- d.readLoop()
		cancel()
	}()

	ticker := time.NewTicker(d.opts.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			select {
			case err := <-readErr:
				return err
			default:
				return ctx.Err()
			}
		case now := <-ticker.C:
			d.advance(now)
			if err := d.sendTelemetry(); err != nil {
				return err
			}
		}
	}
}

// Close hangs up the port
func (d *Device) Close() error {
	return d.port.Close()
}

func (d *Device) readLoop() error {
	for {
		raw, err := d.port.ReadExact(octolink.CmdLength)
		if err != nil {
			return err
		}
		frame, err := octolink.DecodeCommand(raw)
		if err != nil {
			return err
		}
		d.receive(frame, time.Now())
	}
}

func (d *Device) receive(f octolink.CommandFrame, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.commands = append(d.commands, f)

	// A resend of a command that was already accepted is not run twice
	if f.Valid() && d.checksumFaults == 0 && len(d.commands) > 1 &&
		f.ID() == d.telemetry.AckID && d.telemetry.Status != octolink.StatusCmdChecksumError {
		d.log.Debug().Uint8("id", f.ID()).Msg("duplicate command ignored")
		return
	}

	d.telemetry.AckID = f.ID()

	if !f.Valid() || d.checksumFaults > 0 {
		if d.checksumFaults > 0 {
			d.checksumFaults--
		}
		d.telemetry.Status = octolink.StatusCmdChecksumError
		d.log.Debug().Uint8("id", f.ID()).Msg("command checksum error")
		return
	}

	if !octolink.KnownOpcode(f.Opcode()) {
		d.telemetry.Status = octolink.StatusCmdInvalid
		return
	}

	d.telemetry.Status = octolink.StatusInProgress
	d.running = &pending{frame: f, doneAt: now.Add(d.opts.ExecDelay)}
	d.log.Debug().
		Uint8("id", f.ID()).
		Str("opcode", octolink.FormatOpcode(f.Opcode())).
		Msg("command received")

	if d.opts.ExecDelay == 0 {
		d.completeLocked()
	}
}

func (d *Device) advance(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running != nil && !now.Before(d.running.doneAt) {
		d.completeLocked()
	}
}

func (d *Device) completeLocked() {
	f := d.running.frame
	d.running = nil
	d.execute(f)
	d.telemetry.Status = octolink.StatusCompleted
}

func (d *Device) execute(f octolink.CommandFrame) {
	p := f.Payload()
	t := &d.telemetry

	switch f.Opcode() {
	case octolink.OpMoveX:
		t.X += int32(octolink.Signed(p[0:4]))
	case octolink.OpMoveY:
		t.Y += int32(octolink.Signed(p[0:4]))
	case octolink.OpMoveZ:
		t.Z += int32(octolink.Signed(p[0:4]))
	case octolink.OpMoveTheta:
		t.Theta += int32(octolink.Signed(p[0:4]))
	case octolink.OpMoveToX:
		t.X = int32(octolink.Signed(p[0:4]))
	case octolink.OpMoveToY:
		t.Y = int32(octolink.Signed(p[0:4]))
	case octolink.OpMoveToZ:
		t.Z = int32(octolink.Signed(p[0:4]))
	case octolink.OpHomeOrZero:
		// Homing and zeroing both leave the axis at position 0
		switch octolink.Axis(p[0]) {
		case octolink.AxisX:
			t.X = 0
		case octolink.AxisY:
			t.Y = 0
		case octolink.AxisZ:
			t.Z = 0
		case octolink.AxisTheta:
			t.Theta = 0
		case octolink.AxisXY:
			t.X, t.Y = 0, 0
		}
	case octolink.OpSetLim:
		d.limits[p[0]] = int32(octolink.Signed(p[1:5]))
	case octolink.OpTurnOnIllumination:
		d.illumination = true
	case octolink.OpTurnOffIllumination:
		d.illumination = false
	case octolink.OpAckJoystickButtonPressed:
		d.joystickLatch = false
	case octolink.OpReset:
		t.X, t.Y, t.Z, t.Theta = 0, 0, 0, 0
		d.illumination = false
		d.limits = make(map[uint8]int32)
	}
}

func (d *Device) sendTelemetry() error {
	d.mu.Lock()
	t := d.telemetry
	t.Buttons = 0
	if d.joystickHeld || d.joystickLatch {
		t.Buttons |= 1 << octolink.BitJoystickButton
	}
	if d.switchOn {
		t.Buttons |= 1 << octolink.BitSwitch
	}
	frame := t.Encode()
	if d.crcFaults > 0 {
		d.crcFaults--
		frame[octolink.MsgLength-1] ^= 0xFF
	}
	d.mu.Unlock()

	if _, err := d.port.Write(frame[:]); err != nil {
		return err
	}
	return nil
}

// PressJoystick presses the joystick button. The press stays latched until
// the host acknowledges it.
func (d *Device) PressJoystick() {
	d.mu.Lock()
	d.joystickHeld = true
	d.joystickLatch = true
	d.mu.Unlock()
}

// ReleaseJoystick releases the joystick button
func (d *Device) ReleaseJoystick() {
	d.mu.Lock()
	d.joystickHeld = false
	d.mu.Unlock()
}

// SetSwitch sets the state of the external switch input
func (d *Device) SetSwitch(on bool) {
	d.mu.Lock()
	d.switchOn = on
	d.mu.Unlock()
}

// InjectChecksumFaults makes the next n commands report a checksum error
func (d *Device) InjectChecksumFaults(n int) {
	d.mu.Lock()
	d.checksumFaults = n
	d.mu.Unlock()
}

// InjectTelemetryFaults corrupts the CRC of the next n telemetry frames
func (d *Device) InjectTelemetryFaults(n int) {
	d.mu.Lock()
	d.crcFaults = n
	d.mu.Unlock()
}

// SetPosition places an axis at usteps
func (d *Device) SetPosition(axis octolink.Axis, usteps int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch axis {
	case octolink.AxisX:
		d.telemetry.X = usteps
	case octolink.AxisY:
		d.telemetry.Y = usteps
	case octolink.AxisZ:
		d.telemetry.Z = usteps
	case octolink.AxisTheta:
		d.telemetry.Theta = usteps
	default:
		return errors.New("simulator: no position for axis " + octolink.FormatAxis(axis))
	}
	return nil
}

// Position returns the simulated position of an axis
func (d *Device) Position(axis octolink.Axis) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.telemetry.Position(axis)
}

// IlluminationOn reports whether illumination is switched on
func (d *Device) IlluminationOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.illumination
}

// Limit returns a software limit set with SET_LIM
func (d *Device) Limit(code uint8) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.limits[code]
	return v, ok
}

// Commands returns every command frame received so far
func (d *Device) Commands() []octolink.CommandFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]octolink.CommandFrame(nil), d.commands...)
}
