// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"time"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// receiveLoop drains the transport into a frame buffer and applies one
// telemetry frame at a time until the engine is closed or the link fails.
//
// Framing starts unaligned. The buffer slides one byte at a time until a
// window passes its CRC, and from then on frames are taken back-to-back and a
// partial tail is left to complete. A CRC failure while aligned drops back to
// sliding from the byte after the rejected frame's start. With
// SkipTelemetryCRC set every window is trusted, so the head of the stream is
// taken as aligned.
func (e *Engine) receiveLoop() {
	defer close(e.done)

	e.log.Debug().Msg("receiver started")
	defer e.log.Debug().Msg("receiver stopped")

	var buf []byte
	aligned := false

	for {
		if e.stopping() {
			return
		}

		n, err := e.transport.BytesAvailable()
		if err != nil {
			e.linkLost(err)
			return
		}
		if n == 0 {
			if !e.idle() {
				return
			}
			continue
		}

		chunk, err := e.transport.ReadExact(n)
		if err != nil {
			e.linkLost(err)
			return
		}
		buf = append(buf, chunk...)

		for len(buf) >= octolink.MsgLength {
			valid := e.cfg.SkipTelemetryCRC || octolink.TelemetryChecksumValid(buf[:octolink.MsgLength])

			if !aligned && !valid {
				buf = buf[1:]
				e.mu.Lock()
				e.stats.BytesDiscarded++
				e.mu.Unlock()
				continue
			}

			frame := make([]byte, octolink.MsgLength)
			copy(frame, buf)
			if valid {
				if !aligned {
					e.log.Debug().Msg("telemetry stream aligned")
				}
				buf = buf[octolink.MsgLength:]
			} else {
				e.log.Debug().Msg("lost telemetry alignment")
				buf = buf[1:]
				e.mu.Lock()
				e.stats.BytesDiscarded++
				e.mu.Unlock()
			}
			aligned = valid

			if !e.handleFrame(frame) {
				return
			}
		}
	}
}

func (e *Engine) stopping() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// idle sleeps for one receive poll and reports whether the loop should go on
func (e *Engine) idle() bool {
	select {
	case <-e.stop:
		return false
	case <-time.After(e.cfg.ReceivePoll):
		return true
	}
}

// linkLost turns a transport failure into the fatal error, unless the
// failure was caused by Close.
func (e *Engine) linkLost(err error) {
	if e.stopping() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failLocked(&LinkError{Reason: "transport", Err: err})
}

// handleFrame applies one telemetry frame to the engine. It returns false
// once the link has failed.
func (e *Engine) handleFrame(raw []byte) bool {
	now := e.cfg.Now()

	if e.cfg.Capture != nil {
		if err := e.cfg.Capture.Record(octolink.DirRx, now, raw); err != nil {
			e.log.Debug().Err(err).Msg("capture failed")
		}
	}

	if e.cfg.FrameObserver != nil {
		e.cfg.FrameObserver(raw, now)
	}

	if !e.cfg.SkipTelemetryCRC && !octolink.TelemetryChecksumValid(raw) {
		e.mu.Lock()
		e.stats.CRCRejected++
		e.mu.Unlock()
		e.log.Debug().Hex("frame", raw).Msg("telemetry CRC mismatch, frame dropped")
		return true
	}

	t, err := octolink.DecodeTelemetry(raw)
	if err != nil {
		// ReadExact always returns a full frame
		e.log.Error().Err(err).Msg("telemetry decode failed")
		return true
	}

	e.mu.Lock()
	e.stats.FramesReceived++
	e.stats.LastUpdateTime = now

	if f := e.inflight; f != nil {
		id := f.frame.ID()
		switch {
		case t.AckID == id && t.Status == octolink.StatusCompleted:
			e.acknowledgeLocked(f, now)
		case t.AckID != id && now.Sub(f.sentAt) > e.cfg.AckGrace:
			f.timeoutPolls++
			if f.timeoutPolls > e.cfg.TimeoutPolls {
				e.retryLocked(f, ErrTimeout, now)
			}
		case t.Status == octolink.StatusCmdChecksumError:
			e.retryLocked(f, ErrChecksum, now)
		}
	}

	e.state.Positions = Positions{X: t.X, Y: t.Y, Z: t.Z, Theta: t.Theta}
	e.state.AckID = t.AckID
	e.state.ExecStatus = t.Status
	e.state.Updated = now
	e.state.SwitchOn = t.SwitchOn()

	pressed := t.JoystickPressed()
	e.state.ButtonPressed = pressed
	if pressed && !e.prevJoystick && e.fatal == nil {
		e.state.JoystickPressEvent = true
		e.pendingJoystickAck = true
		e.stats.JoystickPresses++
		e.log.Info().Msg("joystick button pressed")
	}
	e.prevJoystick = pressed

	// The joystick acknowledgment waits for the command slot; it never
	// displaces a caller's in-flight command.
	if e.pendingJoystickAck && e.inflight == nil && e.fatal == nil {
		e.pendingJoystickAck = false
		e.transmitLocked(octolink.AckJoystickButtonPressed(), true)
	}

	snapshot := e.state
	cb := e.callback
	alive := e.fatal == nil
	e.mu.Unlock()

	if cb != nil {
		e.inCallback.Store(true)
		cb(snapshot)
		e.inCallback.Store(false)
	}
	return alive && !e.stopping()
}

func (e *Engine) acknowledgeLocked(f *inFlight, now time.Time) {
	latency := now.Sub(f.sentAt)
	e.inflight = nil
	e.state.Busy = false
	e.stats.recordAck(latency)

	e.log.Debug().
		Uint8("id", f.frame.ID()).
		Dur("latency", latency).
		Int("retries", f.retries).
		Msg("command acknowledged")
}

// retryLocked resends the in-flight frame unchanged, or fails the link once
// the retry policy gives up.
func (e *Engine) retryLocked(f *inFlight, cause error, now time.Time) {
	if e.policy.Decide(f.retries) == Fatal {
		e.failLocked(&LinkError{
			Reason:     "retries exhausted",
			HasCommand: true,
			CommandID:  f.frame.ID(),
			Opcode:     f.frame.Opcode(),
			Retries:    f.retries,
			Err:        cause,
		})
		return
	}

	if err := e.writeLocked(f.frame, now); err != nil {
		e.failLocked(&LinkError{
			Reason:     "resend",
			HasCommand: true,
			CommandID:  f.frame.ID(),
			Opcode:     f.frame.Opcode(),
			Retries:    f.retries,
			Err:        err,
		})
		return
	}

	f.retries++
	f.timeoutPolls = 0
	if cause == ErrChecksum {
		e.stats.ChecksumResends++
	} else {
		e.stats.TimeoutResends++
	}

	e.log.Warn().
		Uint8("id", f.frame.ID()).
		Str("opcode", octolink.FormatOpcode(f.frame.Opcode())).
		Int("retry", f.retries).
		Str("reason", cause.Error()).
		Msg("command resent")
}
