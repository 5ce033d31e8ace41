// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/stagelink/pkg/config"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// maxMoveChunk is the largest relative move a single command can carry
const maxMoveChunk = math.MaxInt32

// Stage issues complete stage and illumination operations through an
// Engine, waiting for each command to be acknowledged before the next.
type Stage struct {
	eng *Engine
	cfg *config.Config
}

// NewStage binds a stage configuration to an engine
func NewStage(eng *Engine, cfg *config.Config) *Stage {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Stage{eng: eng, cfg: cfg}
}

// Engine returns the underlying engine
func (s *Stage) Engine() *Engine {
	return s.eng
}

// Exec waits for the engine to become idle, sends cmd and waits for its
// acknowledgment.
func (s *Stage) Exec(cmd octolink.Command, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := s.eng.WaitUntilIdle(time.Until(deadline)); err != nil {
			return fmt.Errorf("%s: %w", octolink.FormatOpcode(cmd.Opcode), err)
		}
		_, err := s.eng.Send(cmd)
		if errors.Is(err, ErrBusy) {
			// A joystick acknowledgment claimed the slot first
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", octolink.FormatOpcode(cmd.Opcode), err)
		}
		break
	}
	if err := s.eng.WaitUntilIdle(time.Until(deadline)); err != nil {
		return fmt.Errorf("%s: %w", octolink.FormatOpcode(cmd.Opcode), err)
	}
	return nil
}

func (s *Stage) command(cmd octolink.Command) error {
	return s.Exec(cmd, s.cfg.Engine.CommandTimeout())
}

func (s *Stage) motion(cmd octolink.Command) error {
	return s.Exec(cmd, s.cfg.Engine.MotionTimeout())
}

//////////////////////////////////////////////////////////////
// Motion
//////////////////////////////////////////////////////////////

// MoveRelative moves an axis by usteps in stage direction. The configured
// axis sign is applied, and moves beyond the int32 range are sent as several
// consecutive commands.
func (s *Stage) MoveRelative(axis octolink.Axis, usteps int64) error {
	remaining := int64(s.cfg.Axis(axis).Sign) * usteps
	for {
		chunk := remaining
		if chunk > maxMoveChunk {
			chunk = maxMoveChunk
		} else if chunk < -maxMoveChunk {
			chunk = -maxMoveChunk
		}

		cmd, err := octolink.MoveRelative(axis, int32(chunk))
		if err != nil {
			return err
		}
		if err := s.motion(cmd); err != nil {
			return err
		}

		remaining -= chunk
		if remaining == 0 {
			return nil
		}
	}
}

// MoveTo moves an axis to an absolute controller position
func (s *Stage) MoveTo(axis octolink.Axis, usteps int32) error {
	cmd, err := octolink.MoveAbsolute(axis, usteps)
	if err != nil {
		return err
	}
	return s.motion(cmd)
}

// homeDirection backs away from positive travel: a sign of 1 homes towards
// the negative end.
func (s *Stage) homeDirection(axis octolink.Axis) uint8 {
	if s.cfg.Axis(axis).Sign > 0 {
		return octolink.HomeNegative
	}
	return octolink.HomePositive
}

// Home drives an axis to its home switch
func (s *Stage) Home(axis octolink.Axis) error {
	if axis == octolink.AxisXY {
		return s.HomeXY()
	}
	return s.motion(octolink.Home(axis, s.homeDirection(axis)))
}

// HomeXY homes X and Y together
func (s *Stage) HomeXY() error {
	return s.motion(octolink.HomeXY(s.homeDirection(octolink.AxisX), s.homeDirection(octolink.AxisY)))
}

// Zero declares the current position of an axis to be zero
func (s *Stage) Zero(axis octolink.Axis) error {
	return s.command(octolink.Zero(axis))
}

// SetLimit sets a software travel limit
func (s *Stage) SetLimit(code uint8, usteps int32) error {
	return s.command(octolink.SetLimit(code, usteps))
}

// SetOffsetVelocity sets a constant velocity offset on an axis in mm/s
func (s *Stage) SetOffsetVelocity(axis octolink.Axis, velocity float64) error {
	return s.command(octolink.SetOffsetVelocity(axis, velocity))
}

//////////////////////////////////////////////////////////////
// Illumination and I/O
//////////////////////////////////////////////////////////////

// IlluminationOn turns the selected illumination source on
func (s *Stage) IlluminationOn() error {
	return s.command(octolink.TurnOnIllumination())
}

// IlluminationOff turns illumination off
func (s *Stage) IlluminationOff() error {
	return s.command(octolink.TurnOffIllumination())
}

// SetIllumination selects a source and intensity in percent
func (s *Stage) SetIllumination(source uint8, intensityPct float64) error {
	return s.command(octolink.SetIllumination(source, intensityPct))
}

// SetLEDMatrix sets an LED matrix pattern colour; channels are fractions
func (s *Stage) SetLEDMatrix(source uint8, r, g, b float64) error {
	return s.command(octolink.SetIlluminationLEDMatrix(source, r, g, b))
}

// SetIntensityFactor scales illumination output
func (s *Stage) SetIntensityFactor(factor float64) error {
	return s.command(octolink.SetIlluminationIntensityFactor(factor))
}

// Trigger pulses a camera trigger output
func (s *Stage) Trigger(channel uint8, illumOnTimeUS uint32, controlIllumination bool) error {
	return s.command(octolink.SendHardwareTrigger(channel, illumOnTimeUS, controlIllumination))
}

// SetStrobeDelay sets a camera channel strobe delay
func (s *Stage) SetStrobeDelay(channel uint8, delayUS uint32) error {
	return s.command(octolink.SetStrobeDelay(channel, delayUS))
}

// SetPin drives a controller GPIO
func (s *Stage) SetPin(pin, level uint8) error {
	return s.command(octolink.SetPinLevel(pin, level))
}

// SetAFLaser switches the autofocus laser
func (s *Stage) SetAFLaser(on bool) error {
	var level uint8
	if on {
		level = 1
	}
	return s.SetPin(octolink.PinAFLaser, level)
}

// WriteDAC writes a raw value to an onboard DAC channel
func (s *Stage) WriteDAC(dac uint8, value uint16) error {
	return s.command(octolink.AnalogWriteDAC(dac, value))
}

//////////////////////////////////////////////////////////////
// Device control and configuration
//////////////////////////////////////////////////////////////

// Reset resets the controller. Command ids restart, as they do on the
// controller.
func (s *Stage) Reset() error {
	return s.restart(octolink.Reset())
}

// InitializeDrivers initializes the stepper drivers
func (s *Stage) InitializeDrivers() error {
	return s.restart(octolink.Initialize())
}

func (s *Stage) restart(cmd octolink.Command) error {
	if err := s.eng.WaitUntilIdle(s.cfg.Engine.CommandTimeout()); err != nil {
		return fmt.Errorf("%s: %w", octolink.FormatOpcode(cmd.Opcode), err)
	}
	if err := s.eng.ResetSequence(); err != nil {
		return fmt.Errorf("%s: %w", octolink.FormatOpcode(cmd.Opcode), err)
	}
	return s.command(cmd)
}

// InitFilterWheel initializes the filter wheel
func (s *Stage) InitFilterWheel() error {
	return s.motion(octolink.InitFilterWheel())
}

var configuredAxes = []octolink.Axis{octolink.AxisX, octolink.AxisY, octolink.AxisZ}

// ConfigureActuators sends the actuator configuration for X, Y and Z,
// grouped by setting.
func (s *Stage) ConfigureActuators() error {
	steps := []func(octolink.Axis, config.Axis) octolink.Command{
		func(a octolink.Axis, c config.Axis) octolink.Command {
			return octolink.SetLeadScrewPitch(a, c.ScrewPitchMM)
		},
		func(a octolink.Axis, c config.Axis) octolink.Command {
			return octolink.ConfigureStepperDriver(a, c.Microstepping, uint16(c.RMSCurrentMA), c.HoldCurrent)
		},
		func(a octolink.Axis, c config.Axis) octolink.Command {
			return octolink.SetMaxVelocityAcceleration(a, c.MaxVelocityMM, c.MaxAccelerationMM)
		},
		func(a octolink.Axis, c config.Axis) octolink.Command {
			return octolink.SetLimSwitchPolarity(a, uint8(c.HomeSwitchPolarity))
		},
		func(a octolink.Axis, c config.Axis) octolink.Command {
			return octolink.SetHomeSafetyMargin(a, c.HomeSafetyMarginUM)
		},
	}

	for _, step := range steps {
		for _, axis := range configuredAxes {
			if err := s.command(step(axis, s.cfg.Axis(axis))); err != nil {
				return fmt.Errorf("configure axis %s: %w", octolink.FormatAxis(axis), err)
			}
		}
	}

	for _, axis := range configuredAxes {
		c := s.cfg.Axis(axis)
		if !c.UseEncoder {
			continue
		}
		cmds := []octolink.Command{
			octolink.ConfigureStagePID(axis, uint16(c.TransitionsPerRev), c.EncoderFlip),
			octolink.SetPIDArguments(axis, uint16(c.PID.P), uint8(c.PID.I), uint8(c.PID.D)),
			octolink.EnableStagePID(axis),
		}
		for _, cmd := range cmds {
			if err := s.command(cmd); err != nil {
				return fmt.Errorf("configure PID on axis %s: %w", octolink.FormatAxis(axis), err)
			}
		}
	}
	return nil
}
