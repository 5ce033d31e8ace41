// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller runs the command/acknowledgment protocol with the stage
// controller over a Transport.
//
// An Engine owns the transport, the device state and the single in-flight
// command. A background receiver loop decodes telemetry, matches
// acknowledgments and resends commands the controller rejected or never
// acknowledged. Callers send one command at a time and wait for the engine
// to become idle between commands; Stage wraps that pattern for the full
// command set.
package controller

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// Config tunes an Engine. Zero fields take the values of DefaultConfig.
type Config struct {
	// AckGrace is how long after sending a command mismatched acks are
	// tolerated before they count as timeout polls.
	AckGrace time.Duration

	// TimeoutPolls is the number of mismatched frames after the grace
	// period that trigger a resend.
	TimeoutPolls int

	// RetryLimit bounds resends of one command on either path.
	RetryLimit int

	// IdlePoll is the WaitUntilIdle polling interval.
	IdlePoll time.Duration

	// ReceivePoll is how long the receiver loop sleeps when the transport
	// has no bytes waiting.
	ReceivePoll time.Duration

	// SkipTelemetryCRC trusts telemetry frames without checking their
	// trailing CRC.
	SkipTelemetryCRC bool

	Logger  *zerolog.Logger
	Capture *octolink.CaptureWriter

	// FrameObserver, if set, sees every aligned telemetry frame before its
	// CRC is checked. It runs on the receiver loop.
	FrameObserver func(frame []byte, at time.Time)

	// Now is the clock used for send timestamps and the grace period.
	Now func() time.Time
}

// DefaultConfig returns the standard engine tuning
func DefaultConfig() Config {
	return Config{
		AckGrace:     5 * time.Second,
		TimeoutPolls: 10,
		RetryLimit:   10,
		IdlePoll:     20 * time.Millisecond,
		ReceivePoll:  time.Millisecond,
		Now:          time.Now,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.AckGrace == 0 {
		c.AckGrace = def.AckGrace
	}
	if c.TimeoutPolls == 0 {
		c.TimeoutPolls = def.TimeoutPolls
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = def.RetryLimit
	}
	if c.IdlePoll == 0 {
		c.IdlePoll = def.IdlePoll
	}
	if c.ReceivePoll == 0 {
		c.ReceivePoll = def.ReceivePoll
	}
	if c.Now == nil {
		c.Now = def.Now
	}
}

// inFlight is the record of the one unacknowledged command
type inFlight struct {
	frame        octolink.CommandFrame
	sentAt       time.Time
	retries      int
	timeoutPolls int
	internal     bool // joystick acknowledgment sent by the receiver loop
}

// Engine drives one controller link.
type Engine struct {
	transport Transport
	cfg       Config
	log       zerolog.Logger
	policy    RetryPolicy

	mu                 sync.Mutex
	state              State
	lastID             uint8
	inflight           *inFlight
	prevJoystick       bool
	pendingJoystickAck bool
	fatal              error
	closed             bool
	callback           func(State)
	stats              *Statistics

	inCallback atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an engine on t and starts its receiver loop.
func New(t Transport, cfg Config) *Engine {
	cfg.applyDefaults()

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	e := &Engine{
		transport: t,
		cfg:       cfg,
		log:       logger.With().Str("component", "engine").Logger(),
		policy:    RetryPolicy{Limit: cfg.RetryLimit},
		stats:     NewStatistics(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go e.receiveLoop()
	return e
}

// SetCallback registers a function invoked with the device state after every
// telemetry frame. It runs on the receiver loop and must return quickly. It
// must not block on Send or WaitUntilIdle progress; Close is allowed and
// stops the loop once the callback returns.
func (e *Engine) SetCallback(fn func(State)) {
	e.mu.Lock()
	e.callback = fn
	e.mu.Unlock()
}

// Send transmits a command and makes it the in-flight command. It fails with
// ErrBusy if a command is still unacknowledged.
func (e *Engine) Send(cmd octolink.Command) (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.unavailableLocked(); err != nil {
		return 0, err
	}
	if e.inflight != nil {
		return 0, ErrBusy
	}

	id, err := e.transmitLocked(cmd, false)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// transmitLocked assigns the next id, writes the frame and records it as
// in flight.
func (e *Engine) transmitLocked(cmd octolink.Command, internal bool) (uint8, error) {
	id := e.lastID + 1
	frame, err := cmd.Encode(id)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", octolink.FormatOpcode(cmd.Opcode), err)
	}

	now := e.cfg.Now()
	if err := e.writeLocked(frame, now); err != nil {
		return 0, e.failLocked(&LinkError{
			Reason:     "write",
			HasCommand: true,
			CommandID:  id,
			Opcode:     cmd.Opcode,
			Err:        err,
		})
	}

	e.lastID = id
	e.inflight = &inFlight{frame: frame, sentAt: now, internal: internal}
	e.state.Busy = true
	e.state.CommandID = id
	e.stats.CommandsSent++

	e.log.Debug().
		Uint8("id", id).
		Str("opcode", octolink.FormatOpcode(cmd.Opcode)).
		Bool("internal", internal).
		Msg("command sent")
	return id, nil
}

func (e *Engine) writeLocked(frame octolink.CommandFrame, at time.Time) error {
	if _, err := e.transport.Write(frame[:]); err != nil {
		return err
	}
	if e.cfg.Capture != nil {
		if err := e.cfg.Capture.Record(octolink.DirTx, at, frame[:]); err != nil {
			e.log.Debug().Err(err).Msg("capture failed")
		}
	}
	return nil
}

// WaitUntilIdle polls until the in-flight command is acknowledged. It
// returns ErrTimeout if timeout elapses first and the fatal LinkError if the
// link fails while waiting.
func (e *Engine) WaitUntilIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		busy, err := e.status()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			e.mu.Lock()
			id := e.state.CommandID
			e.mu.Unlock()
			return fmt.Errorf("command %d not acknowledged within %s: %w", id, timeout, ErrTimeout)
		}

		select {
		case <-time.After(e.cfg.IdlePoll):
		case <-e.done:
		}
	}
}

func (e *Engine) status() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.unavailableLocked(); err != nil {
		return false, err
	}
	return e.state.Busy, nil
}

func (e *Engine) unavailableLocked() error {
	if e.fatal != nil {
		return e.fatal
	}
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Busy reports whether a command is awaiting acknowledgment
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Busy
}

// State returns a snapshot of the device state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Positions returns the last reported axis positions
func (e *Engine) Positions() Positions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Positions
}

// ConsumeJoystickPress reports whether a joystick press happened since the
// last call and clears the event.
func (e *Engine) ConsumeJoystickPress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pressed := e.state.JoystickPressEvent
	e.state.JoystickPressEvent = false
	return pressed
}

// ResetSequence restarts command ids so the next command is sent with id 1,
// matching a controller that has just been reset.
func (e *Engine) ResetSequence() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.unavailableLocked(); err != nil {
		return err
	}
	if e.inflight != nil {
		return ErrBusy
	}
	e.lastID = 0
	return nil
}

// Stats returns a copy of the link statistics
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := *e.stats
	s.CalculateRates()
	return s
}

// ResetStats clears the link statistics
func (e *Engine) ResetStats() {
	e.mu.Lock()
	e.stats.Reset()
	e.mu.Unlock()
}

// Err returns the fatal link error, if any
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// Done is closed when the receiver loop exits, after Close or a fatal error
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close stops the receiver loop and closes the transport. It waits for the
// loop to exit, except while a callback is running, where waiting would
// deadlock a Close issued from the callback itself.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		close(e.stop)
		err = e.transport.Close()
		if !e.inCallback.Load() {
			<-e.done
		}
	})
	return err
}

// failLocked records the first fatal error and returns it
func (e *Engine) failLocked(err *LinkError) error {
	if e.fatal != nil {
		return e.fatal
	}
	e.fatal = err
	e.inflight = nil
	e.pendingJoystickAck = false
	e.log.Error().Err(err).Msg("link failed")
	return err
}
