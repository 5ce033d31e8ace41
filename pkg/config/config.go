// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the static stage configuration supplied at startup:
// link settings, engine tuning and per-axis actuator parameters.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// Config is the complete startup configuration
type Config struct {
	Link   Link   `json:"link"`
	Engine Engine `json:"engine"`
	Axes   Axes   `json:"axes"`
}

// Link selects and tunes the serial connection
type Link struct {
	Port                string `json:"port"` // "auto" searches for the controller
	Baud                int    `json:"baud"`
	SerialNumber        string `json:"serial_number"`
	PermissiveTelemetry bool   `json:"permissive_telemetry"`
}

// Engine tunes acknowledgment handling
type Engine struct {
	AckGraceMS       int `json:"ack_grace_ms"`
	TimeoutPolls     int `json:"timeout_polls"`
	RetryLimit       int `json:"retry_limit"`
	IdlePollMS       int `json:"idle_poll_ms"`
	CommandTimeoutMS int `json:"command_timeout_ms"`
	MotionTimeoutMS  int `json:"motion_timeout_ms"`
}

// AckGrace returns the grace period before timeout polls are counted
func (e Engine) AckGrace() time.Duration { return time.Duration(e.AckGraceMS) * time.Millisecond }

// IdlePoll returns the busy polling interval
func (e Engine) IdlePoll() time.Duration { return time.Duration(e.IdlePollMS) * time.Millisecond }

// CommandTimeout bounds the wait for configuration and I/O commands
func (e Engine) CommandTimeout() time.Duration {
	return time.Duration(e.CommandTimeoutMS) * time.Millisecond
}

// MotionTimeout bounds the wait for moves and homing
func (e Engine) MotionTimeout() time.Duration {
	return time.Duration(e.MotionTimeoutMS) * time.Millisecond
}

// Axes groups the per-axis settings
type Axes struct {
	X     Axis `json:"x"`
	Y     Axis `json:"y"`
	Z     Axis `json:"z"`
	Theta Axis `json:"theta"`
}

// Axis describes one stepper axis
type Axis struct {
	Sign               int     `json:"sign"` // +1 or -1, maps stage direction to motor direction
	ScrewPitchMM       float64 `json:"screw_pitch_mm"`
	FullStepsPerRev    int     `json:"fullsteps_per_rev"`
	Microstepping      int     `json:"microstepping"`
	RMSCurrentMA       int     `json:"rms_current_ma"`
	HoldCurrent        float64 `json:"hold_current"` // fraction of RMS current
	MaxVelocityMM      float64 `json:"max_velocity_mm"`
	MaxAccelerationMM  float64 `json:"max_acceleration_mm"`
	HomeSwitchPolarity int     `json:"home_switch_polarity"`
	HomeSafetyMarginUM int     `json:"home_safety_margin_um"`
	UseEncoder         bool    `json:"use_encoder"`
	EncoderFlip        bool    `json:"encoder_flip"`
	TransitionsPerRev  int     `json:"transitions_per_rev"`
	PID                PID     `json:"pid"`
}

// PID gains for closed-loop axes
type PID struct {
	P int `json:"p"`
	I int `json:"i"`
	D int `json:"d"`
}

// Axis returns the settings of a protocol axis
func (c *Config) Axis(a octolink.Axis) Axis {
	switch a {
	case octolink.AxisX:
		return c.Axes.X
	case octolink.AxisY:
		return c.Axes.Y
	case octolink.AxisZ:
		return c.Axes.Z
	default:
		return c.Axes.Theta
	}
}

// Default returns the configuration of a standard XYZ stage
func Default() *Config {
	return &Config{
		Link: Link{
			Port: "auto",
			Baud: octolink.DefaultBaudRate,
		},
		Engine: Engine{
			AckGraceMS:       5000,
			TimeoutPolls:     10,
			RetryLimit:       10,
			IdlePollMS:       20,
			CommandTimeoutMS: 5000,
			MotionTimeoutMS:  60000,
		},
		Axes: Axes{
			X:     defaultAxis(octolink.AxisX),
			Y:     defaultAxis(octolink.AxisY),
			Z:     defaultAxis(octolink.AxisZ),
			Theta: defaultAxis(octolink.AxisTheta),
		},
	}
}

func defaultAxis(a octolink.Axis) Axis {
	switch a {
	case octolink.AxisZ:
		return Axis{
			Sign:               -1,
			ScrewPitchMM:       0.3,
			FullStepsPerRev:    200,
			Microstepping:      256,
			RMSCurrentMA:       500,
			HoldCurrent:        0.5,
			MaxVelocityMM:      2,
			MaxAccelerationMM:  100,
			HomeSwitchPolarity: octolink.PolarityActiveLow,
			HomeSafetyMarginUM: 600,
			TransitionsPerRev:  4000,
			PID:                PID{P: 300, I: 2, D: 1},
		}
	case octolink.AxisTheta:
		return Axis{
			Sign:               1,
			ScrewPitchMM:       1,
			FullStepsPerRev:    200,
			Microstepping:      256,
			RMSCurrentMA:       500,
			HoldCurrent:        0.5,
			MaxVelocityMM:      2,
			MaxAccelerationMM:  100,
			HomeSwitchPolarity: octolink.PolarityDisabled,
			TransitionsPerRev:  4000,
			PID:                PID{P: 300, I: 2, D: 1},
		}
	default:
		return Axis{
			Sign:               1,
			ScrewPitchMM:       2.54,
			FullStepsPerRev:    200,
			Microstepping:      256,
			RMSCurrentMA:       1000,
			HoldCurrent:        0.25,
			MaxVelocityMM:      25,
			MaxAccelerationMM:  500,
			HomeSwitchPolarity: octolink.PolarityActiveHigh,
			HomeSafetyMarginUM: 50,
			TransitionsPerRev:  4000,
			PID:                PID{P: 300, I: 2, D: 1},
		}
	}
}

// LoadConfig parses a JSON configuration and fills in missing or zero values
func LoadConfig(jsonData []byte) (*Config, error) {
	// Fields absent from the JSON keep their default values
	cfg := Default()

	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a JSON configuration file. An empty path yields Default().
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadConfig(data)
}

// applyDefaults fills in missing configuration values with the defaults
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Link.Port == "" {
		cfg.Link.Port = def.Link.Port
	}
	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = def.Link.Baud
	}

	e := &cfg.Engine
	if e.AckGraceMS == 0 {
		e.AckGraceMS = def.Engine.AckGraceMS
	}
	if e.TimeoutPolls == 0 {
		e.TimeoutPolls = def.Engine.TimeoutPolls
	}
	if e.RetryLimit == 0 {
		e.RetryLimit = def.Engine.RetryLimit
	}
	if e.IdlePollMS == 0 {
		e.IdlePollMS = def.Engine.IdlePollMS
	}
	if e.CommandTimeoutMS == 0 {
		e.CommandTimeoutMS = def.Engine.CommandTimeoutMS
	}
	if e.MotionTimeoutMS == 0 {
		e.MotionTimeoutMS = def.Engine.MotionTimeoutMS
	}

	axisDefaults(&cfg.Axes.X, def.Axes.X)
	axisDefaults(&cfg.Axes.Y, def.Axes.Y)
	axisDefaults(&cfg.Axes.Z, def.Axes.Z)
	axisDefaults(&cfg.Axes.Theta, def.Axes.Theta)
}

func axisDefaults(a *Axis, def Axis) {
	if a.Sign == 0 {
		a.Sign = def.Sign
	}
	if a.ScrewPitchMM == 0 {
		a.ScrewPitchMM = def.ScrewPitchMM
	}
	if a.FullStepsPerRev == 0 {
		a.FullStepsPerRev = def.FullStepsPerRev
	}
	if a.Microstepping == 0 {
		a.Microstepping = def.Microstepping
	}
	if a.RMSCurrentMA == 0 {
		a.RMSCurrentMA = def.RMSCurrentMA
	}
	if a.HoldCurrent == 0 {
		a.HoldCurrent = def.HoldCurrent
	}
	if a.MaxVelocityMM == 0 {
		a.MaxVelocityMM = def.MaxVelocityMM
	}
	if a.MaxAccelerationMM == 0 {
		a.MaxAccelerationMM = def.MaxAccelerationMM
	}
	if a.HomeSafetyMarginUM == 0 {
		a.HomeSafetyMarginUM = def.HomeSafetyMarginUM
	}
	if a.TransitionsPerRev == 0 {
		a.TransitionsPerRev = def.TransitionsPerRev
	}
	if a.PID == (PID{}) {
		a.PID = def.PID
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error

	if c.Link.Baud <= 0 {
		errs = append(errs, fmt.Errorf("link.baud must be positive, got %d", c.Link.Baud))
	}
	if c.Engine.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.retry_limit must not be negative, got %d", c.Engine.RetryLimit))
	}

	axes := []struct {
		name string
		axis Axis
	}{
		{"x", c.Axes.X}, {"y", c.Axes.Y}, {"z", c.Axes.Z}, {"theta", c.Axes.Theta},
	}
	for _, a := range axes {
		if err := a.axis.validate(); err != nil {
			errs = append(errs, fmt.Errorf("axes.%s: %w", a.name, err))
		}
	}

	return errors.Join(errs...)
}

func (a Axis) validate() error {
	if a.Sign != 1 && a.Sign != -1 {
		return fmt.Errorf("sign must be 1 or -1, got %d", a.Sign)
	}
	if a.ScrewPitchMM <= 0 {
		return fmt.Errorf("screw_pitch_mm must be positive, got %g", a.ScrewPitchMM)
	}
	if a.Microstepping < 1 || a.Microstepping > 256 || a.Microstepping&(a.Microstepping-1) != 0 {
		return fmt.Errorf("microstepping must be a power of two up to 256, got %d", a.Microstepping)
	}
	if a.RMSCurrentMA <= 0 || a.RMSCurrentMA > 0xFFFF {
		return fmt.Errorf("rms_current_ma out of range: %d", a.RMSCurrentMA)
	}
	if a.HoldCurrent < 0 || a.HoldCurrent > 1 {
		return fmt.Errorf("hold_current must be within [0, 1], got %g", a.HoldCurrent)
	}
	if a.HomeSwitchPolarity < octolink.PolarityActiveLow || a.HomeSwitchPolarity > octolink.PolarityDisabled {
		return fmt.Errorf("home_switch_polarity must be 0, 1 or 2, got %d", a.HomeSwitchPolarity)
	}
	return nil
}

// UstepsPerMM returns the number of microsteps per millimetre of travel
func (a Axis) UstepsPerMM() float64 {
	return float64(a.FullStepsPerRev*a.Microstepping) / a.ScrewPitchMM
}
