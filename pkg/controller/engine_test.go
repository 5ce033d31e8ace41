// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/stagelink/pkg/link"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// ============================================================
// Test Harness
// ============================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness runs an engine against a scripted device on a loopback link
type harness struct {
	t      *testing.T
	eng    *Engine
	dev    *link.LoopbackDevice
	clock  *fakeClock
	states chan State
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	l := link.NewLoopback()
	clock := newFakeClock()
	logger := zerolog.Nop()
	cfg := Config{
		IdlePoll: time.Millisecond,
		Logger:   &logger,
		Now:      clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		t:      t,
		eng:    New(l, cfg),
		dev:    l.Device(),
		clock:  clock,
		states: make(chan State, 1024),
	}
	h.eng.SetCallback(func(s State) { h.states <- s })
	t.Cleanup(func() { h.eng.Close() })
	return h
}

// feed writes one telemetry frame and waits until the engine has applied it
func (h *harness) feed(tm octolink.Telemetry) State {
	h.t.Helper()
	frame := tm.Encode()
	h.dev.Write(frame[:])
	return h.nextState()
}

func (h *harness) nextState() State {
	h.t.Helper()
	select {
	case s := <-h.states:
		return s
	case <-time.After(2 * time.Second):
		h.t.Fatal("engine did not process telemetry frame")
		return State{}
	}
}

// nextCommand returns the next frame the engine wrote. It reads on the test
// goroutine so a timed out wait leaves no reader behind to take a later frame.
func (h *harness) nextCommand() octolink.CommandFrame {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.dev.Pending() < octolink.CmdLength {
		if time.Now().After(deadline) {
			h.t.Fatal("engine did not write a command")
		}
		time.Sleep(time.Millisecond)
	}
	b, err := h.dev.ReadExact(octolink.CmdLength)
	if err != nil {
		h.t.Fatalf("read command: %v", err)
	}
	f, err := octolink.DecodeCommand(b)
	if err != nil {
		h.t.Fatalf("decode command: %v", err)
	}
	return f
}

func (h *harness) assertNoCommand() {
	h.t.Helper()
	if n := h.dev.Pending(); n != 0 {
		h.t.Fatalf("Expected no command written, %d bytes pending", n)
	}
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.eng.Done():
	case <-time.After(2 * time.Second):
		h.t.Fatal("receiver loop did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}

func moveX(t *testing.T, usteps int32) octolink.Command {
	t.Helper()
	cmd, err := octolink.MoveRelative(octolink.AxisX, usteps)
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}

// ============================================================
// Sequencer Tests
// ============================================================

func TestEngine_SendWritesFrame(t *testing.T) {
	h := newHarness(t, nil)

	id, err := h.eng.Send(moveX(t, 1600))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected first command id 1, got %d", id)
	}

	f := h.nextCommand()
	want := []byte{0x01, 0x00, 0x00, 0x00, 0x06, 0x40, 0x00, 0xF9}
	if !bytes.Equal(f[:], want) {
		t.Errorf("Expected frame % X, got % X", want, f[:])
	}

	s := h.eng.State()
	if !s.Busy {
		t.Error("Expected busy immediately after send")
	}
	if s.CommandID != 1 {
		t.Errorf("Expected command id 1 in state, got %d", s.CommandID)
	}
}

func TestEngine_IDsCycleWithoutGaps(t *testing.T) {
	h := newHarness(t, nil)

	for i := 1; i <= 600; i++ {
		id, err := h.eng.Send(octolink.TurnOnIllumination())
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if want := uint8(i % 256); id != want {
			t.Fatalf("send %d: expected id %d, got %d", i, want, id)
		}
		if f := h.nextCommand(); f.ID() != id {
			t.Fatalf("send %d: frame carries id %d, expected %d", i, f.ID(), id)
		}

		s := h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusCompleted})
		if s.Busy {
			t.Fatalf("send %d: still busy after matching ack", i)
		}
	}
}

func TestEngine_SendWhileBusy(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.eng.Send(moveX(t, 10)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.nextCommand()

	if _, err := h.eng.Send(moveX(t, 20)); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	h.assertNoCommand()

	if got := h.eng.State().CommandID; got != 1 {
		t.Errorf("Rejected send must not consume an id, state has %d", got)
	}
}

func TestEngine_ResetSequence(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(octolink.TurnOnIllumination())
	h.nextCommand()
	if err := h.eng.ResetSequence(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while a command is in flight, got %v", err)
	}
	h.feed(octolink.Telemetry{AckID: id})

	h.eng.Send(octolink.TurnOnIllumination())
	h.nextCommand()
	h.feed(octolink.Telemetry{AckID: 2})

	if err := h.eng.ResetSequence(); err != nil {
		t.Fatalf("ResetSequence: %v", err)
	}
	id, err := h.eng.Send(octolink.Reset())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected id 1 after reset, got %d", id)
	}
}

// ============================================================
// Acknowledgment Tests
// ============================================================

func TestEngine_BusyUntilMatchingAck(t *testing.T) {
	h := newHarness(t, nil)

	id, err := h.eng.Send(moveX(t, 1600))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.nextCommand()

	for i := 0; i < 3; i++ {
		s := h.feed(octolink.Telemetry{AckID: id - 1, Status: octolink.StatusCompleted, X: int32(i * 500)})
		if !s.Busy {
			t.Fatalf("frame %d: busy cleared by mismatched ack", i)
		}
	}

	s := h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusCompleted, X: 1600})
	if s.Busy {
		t.Error("Expected busy cleared by matching ack")
	}
	if s.Positions.X != 1600 {
		t.Errorf("Expected positions.x 1600, got %d", s.Positions.X)
	}
	if err := h.eng.WaitUntilIdle(time.Second); err != nil {
		t.Errorf("WaitUntilIdle: %v", err)
	}
	h.assertNoCommand()
}

func TestEngine_InProgressDoesNotClearBusy(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 100))
	h.nextCommand()

	s := h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusInProgress})
	if !s.Busy {
		t.Error("Expected busy while the command is still executing")
	}
	if s.ExecStatus != octolink.StatusInProgress {
		t.Errorf("Expected in-progress status in state, got %v", s.ExecStatus)
	}
	h.assertNoCommand()

	s = h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusCompleted})
	if s.Busy {
		t.Error("Expected busy cleared once completed")
	}
}

func TestEngine_PositionsUpdatedWhileIdle(t *testing.T) {
	h := newHarness(t, nil)

	s := h.feed(octolink.Telemetry{X: -5, Y: 6, Z: -7, Theta: 8})
	want := Positions{X: -5, Y: 6, Z: -7, Theta: 8}
	if s.Positions != want {
		t.Errorf("Expected %+v, got %+v", want, s.Positions)
	}
	if h.eng.Positions() != want {
		t.Errorf("Positions() disagrees with callback state")
	}
	if h.eng.Positions().Axis(octolink.AxisZ) != -7 {
		t.Errorf("Expected Axis(Z) -7")
	}
}

func TestEngine_WaitUntilIdleTimeout(t *testing.T) {
	h := newHarness(t, nil)

	h.eng.Send(moveX(t, 1))
	h.nextCommand()

	err := h.eng.WaitUntilIdle(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrLinkFatal) {
		t.Error("A wait timeout is not a link failure")
	}
}

// ============================================================
// Retry Tests
// ============================================================

func TestEngine_ChecksumErrorResendsIdenticalFrame(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1600))
	first := h.nextCommand()

	h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusCmdChecksumError})
	resent := h.nextCommand()
	if resent != first {
		t.Errorf("Expected identical resend % X, got % X", first[:], resent[:])
	}

	s := h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusCompleted})
	if s.Busy {
		t.Error("Expected resent command to be acknowledged")
	}
	if got := h.eng.Stats().ChecksumResends; got != 1 {
		t.Errorf("Expected 1 checksum resend, got %d", got)
	}
}

func TestEngine_ChecksumErrorsExhaustRetries(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1600))
	first := h.nextCommand()

	bad := octolink.Telemetry{AckID: id, Status: octolink.StatusCmdChecksumError}.Encode()
	var burst []byte
	for i := 0; i < 11; i++ {
		burst = append(burst, bad[:]...)
	}
	h.dev.Write(burst)
	h.waitDone()

	for i := 0; i < 10; i++ {
		if f := h.nextCommand(); f != first {
			t.Fatalf("resend %d: expected identical frame, got % X", i+1, f[:])
		}
	}
	h.assertNoCommand()

	err := h.eng.Err()
	if !errors.Is(err, ErrLinkFatal) {
		t.Fatalf("Expected ErrLinkFatal, got %v", err)
	}
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("Expected checksum cause, got %v", err)
	}
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("Expected *LinkError, got %T", err)
	}
	if !le.HasCommand || le.CommandID != id || le.Opcode != octolink.OpMoveX || le.Retries != 10 {
		t.Errorf("Unexpected link error details: %+v", le)
	}

	if _, err := h.eng.Send(moveX(t, 1)); !errors.Is(err, ErrLinkFatal) {
		t.Errorf("Expected Send to fail with ErrLinkFatal, got %v", err)
	}
	if err := h.eng.WaitUntilIdle(time.Second); !errors.Is(err, ErrLinkFatal) {
		t.Errorf("Expected WaitUntilIdle to fail with ErrLinkFatal, got %v", err)
	}
	h.assertNoCommand()
}

func TestEngine_MismatchWithinGraceDoesNotResend(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1))
	h.nextCommand()

	h.clock.Advance(4 * time.Second)
	for i := 0; i < 30; i++ {
		h.feed(octolink.Telemetry{AckID: id - 1})
	}
	h.assertNoCommand()
}

func TestEngine_TimeoutResend(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1))
	first := h.nextCommand()

	h.clock.Advance(5*time.Second + time.Millisecond)

	// The threshold must be exceeded, not reached
	for i := 0; i < 10; i++ {
		h.feed(octolink.Telemetry{AckID: id - 1})
	}
	h.assertNoCommand()

	h.feed(octolink.Telemetry{AckID: id - 1})
	if f := h.nextCommand(); f != first {
		t.Errorf("Expected identical resend, got % X", f[:])
	}

	// The grace period still counts from the original send, so the next
	// resend follows after another run of mismatched frames
	for i := 0; i < 10; i++ {
		h.feed(octolink.Telemetry{AckID: id - 1})
	}
	h.assertNoCommand()

	h.feed(octolink.Telemetry{AckID: id - 1})
	if f := h.nextCommand(); f != first {
		t.Errorf("Expected identical second resend, got % X", f[:])
	}

	s := h.feed(octolink.Telemetry{AckID: id})
	if s.Busy {
		t.Error("Expected ack after timeout resend to clear busy")
	}
	if got := h.eng.Stats().TimeoutResends; got != 2 {
		t.Errorf("Expected 2 timeout resends, got %d", got)
	}
}

func TestEngine_TimeoutResendsExhaustRetries(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.TimeoutPolls = 1
		c.RetryLimit = 2
	})

	id, _ := h.eng.Send(moveX(t, 1))
	h.nextCommand()

	for resend := 0; resend < 2; resend++ {
		h.clock.Advance(6 * time.Second)
		h.feed(octolink.Telemetry{AckID: id - 1})
		h.feed(octolink.Telemetry{AckID: id - 1})
		h.nextCommand()
	}

	h.clock.Advance(6 * time.Second)
	h.feed(octolink.Telemetry{AckID: id - 1})
	h.feed(octolink.Telemetry{AckID: id - 1})
	h.waitDone()

	err := h.eng.Err()
	if !errors.Is(err, ErrLinkFatal) || !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected fatal timeout, got %v", err)
	}
	h.assertNoCommand()
}

// ============================================================
// Joystick Tests
// ============================================================

func TestEngine_JoystickPressIsEdgeTriggered(t *testing.T) {
	h := newHarness(t, nil)
	pressed := octolink.Telemetry{Buttons: 1 << octolink.BitJoystickButton}

	s := h.feed(pressed)
	if !s.JoystickPressEvent || !s.ButtonPressed {
		t.Fatalf("Expected press event, got %+v", s)
	}

	ack := h.nextCommand()
	if ack.Opcode() != octolink.OpAckJoystickButtonPressed {
		t.Errorf("Expected joystick acknowledgment, got %s", octolink.FormatOpcode(ack.Opcode()))
	}
	h.feed(octolink.Telemetry{AckID: ack.ID(), Buttons: pressed.Buttons})

	if !h.eng.ConsumeJoystickPress() {
		t.Error("Expected ConsumeJoystickPress to report the press")
	}
	if h.eng.ConsumeJoystickPress() {
		t.Error("Expected the event to be cleared once consumed")
	}

	// Held button does not fire again
	for i := 0; i < 5; i++ {
		if s := h.feed(octolink.Telemetry{AckID: ack.ID(), Buttons: pressed.Buttons}); s.JoystickPressEvent {
			t.Fatal("held button fired a second event")
		}
	}
	h.assertNoCommand()

	h.feed(octolink.Telemetry{AckID: ack.ID()})
	if s := h.feed(octolink.Telemetry{AckID: ack.ID(), Buttons: pressed.Buttons}); !s.JoystickPressEvent {
		t.Error("Expected a new event after release and press")
	}
	if got := h.eng.Stats().JoystickPresses; got != 2 {
		t.Errorf("Expected 2 joystick presses, got %d", got)
	}
}

func TestEngine_JoystickAckWaitsForCommandSlot(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1600))
	h.nextCommand()

	s := h.feed(octolink.Telemetry{AckID: id - 1, Buttons: 1 << octolink.BitJoystickButton})
	if !s.JoystickPressEvent {
		t.Fatal("Expected press event while busy")
	}
	h.assertNoCommand()

	s = h.feed(octolink.Telemetry{AckID: id, Buttons: 1 << octolink.BitJoystickButton})
	if !s.Busy {
		t.Error("Expected the joystick acknowledgment to occupy the slot")
	}

	ack := h.nextCommand()
	if ack.Opcode() != octolink.OpAckJoystickButtonPressed || ack.ID() != id+1 {
		t.Errorf("Expected joystick acknowledgment with id %d, got %s id %d",
			id+1, octolink.FormatOpcode(ack.Opcode()), ack.ID())
	}

	if _, err := h.eng.Send(moveX(t, 1)); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while the acknowledgment is in flight, got %v", err)
	}
}

func TestEngine_SwitchState(t *testing.T) {
	h := newHarness(t, nil)

	if s := h.feed(octolink.Telemetry{Buttons: 1 << octolink.BitSwitch}); !s.SwitchOn || s.ButtonPressed {
		t.Errorf("Expected switch on and no button, got %+v", s)
	}
	if s := h.feed(octolink.Telemetry{}); s.SwitchOn {
		t.Error("Expected switch off")
	}
	h.assertNoCommand()
}

// ============================================================
// Framing Tests
// ============================================================

func TestEngine_CorruptTelemetryDropped(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1))
	h.nextCommand()
	h.feed(octolink.Telemetry{})

	bad := octolink.Telemetry{AckID: id, X: 999}.Encode()
	bad[octolink.MsgLength-1] ^= 0x01
	h.dev.Write(bad[:])

	waitFor(t, func() bool { return h.eng.Stats().CRCRejected == 1 })
	s := h.eng.State()
	if !s.Busy || s.Positions.X != 0 {
		t.Errorf("Corrupt frame must not change state, got %+v", s)
	}

	s = h.feed(octolink.Telemetry{AckID: id, X: 5})
	if s.Busy || s.Positions.X != 5 {
		t.Errorf("Expected valid frame applied, got %+v", s)
	}
	if got := h.eng.Stats().BytesDiscarded; got != octolink.MsgLength {
		t.Errorf("Expected the rejected frame's %d bytes discarded, got %d", octolink.MsgLength, got)
	}
}

func TestEngine_SkipTelemetryCRC(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SkipTelemetryCRC = true })

	bad := octolink.Telemetry{X: 42}.Encode()
	bad[octolink.MsgLength-1] ^= 0xFF
	h.dev.Write(bad[:])

	s := h.nextState()
	if s.Positions.X != 42 {
		t.Errorf("Expected unchecked frame applied, got x=%d", s.Positions.X)
	}
}

func TestEngine_RealignsAfterStaleBytes(t *testing.T) {
	h := newHarness(t, nil)

	frame := octolink.Telemetry{X: 77}.Encode()
	stream := append([]byte{0xDE, 0xAD, 0xBE}, frame[:]...)
	h.dev.Write(stream)

	s := h.nextState()
	if s.Positions.X != 77 {
		t.Errorf("Expected realigned frame, got x=%d", s.Positions.X)
	}
	if got := h.eng.Stats().BytesDiscarded; got != 3 {
		t.Errorf("Expected 3 discarded bytes, got %d", got)
	}
}

func TestEngine_PartialFrameWaits(t *testing.T) {
	h := newHarness(t, nil)

	frame := octolink.Telemetry{Y: 12}.Encode()
	h.dev.Write(frame[:10])
	time.Sleep(10 * time.Millisecond)
	h.dev.Write(frame[10:])

	if s := h.nextState(); s.Positions.Y != 12 {
		t.Errorf("Expected y=12, got %d", s.Positions.Y)
	}
	if got := h.eng.Stats().BytesDiscarded; got != 0 {
		t.Errorf("Expected nothing discarded, got %d", got)
	}
}

func TestEngine_PartialTailKeptWhenAligned(t *testing.T) {
	h := newHarness(t, nil)

	f1 := octolink.Telemetry{X: 11}.Encode()
	f2 := octolink.Telemetry{X: 22}.Encode()

	// A whole frame plus the head of the next, with the rest arriving well
	// after a receive poll
	h.dev.Write(append(f1[:], f2[:3]...))
	if s := h.nextState(); s.Positions.X != 11 {
		t.Errorf("Expected x=11, got %d", s.Positions.X)
	}
	time.Sleep(20 * time.Millisecond)
	h.dev.Write(f2[3:])

	if s := h.nextState(); s.Positions.X != 22 {
		t.Errorf("Expected x=22, got %d", s.Positions.X)
	}
	st := h.eng.Stats()
	if st.FramesReceived != 2 || st.BytesDiscarded != 0 || st.CRCRejected != 0 {
		t.Errorf("Expected 2 clean frames, got frames=%d discarded=%d rejected=%d",
			st.FramesReceived, st.BytesDiscarded, st.CRCRejected)
	}
}

func TestEngine_RealignsAfterJunkMidStream(t *testing.T) {
	h := newHarness(t, nil)

	h.feed(octolink.Telemetry{X: 11})

	f2 := octolink.Telemetry{AckID: 7, X: -5000, Y: 123456}.Encode()
	stream := append([]byte{0x5A, 0x13, 0xC7, 0x81, 0x3F}, f2[:]...)
	h.dev.Write(stream)

	s := h.nextState()
	if s.Positions.X != -5000 || s.Positions.Y != 123456 || s.AckID != 7 {
		t.Errorf("Expected realigned frame, got %+v", s)
	}
	st := h.eng.Stats()
	if st.CRCRejected != 1 {
		t.Errorf("Expected the misaligned window rejected once, got %d", st.CRCRejected)
	}
	if st.BytesDiscarded != 5 {
		t.Errorf("Expected 5 discarded bytes, got %d", st.BytesDiscarded)
	}
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestEngine_TransportLossIsFatal(t *testing.T) {
	h := newHarness(t, nil)

	h.eng.Send(moveX(t, 1))
	h.nextCommand()
	h.dev.Close()
	h.waitDone()

	err := h.eng.WaitUntilIdle(time.Second)
	if !errors.Is(err, ErrLinkFatal) || !errors.Is(err, link.ErrDeviceGone) {
		t.Errorf("Expected fatal transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("Expected transport reason in %q", err)
	}
}

func TestEngine_Close(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.waitDone()

	if _, err := h.eng.Send(moveX(t, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := h.eng.Err(); err != nil {
		t.Errorf("Close must not record a link failure, got %v", err)
	}
	if err := h.eng.Close(); err != nil {
		t.Errorf("Second Close: %v", err)
	}
}

func TestEngine_CloseFromCallback(t *testing.T) {
	h := newHarness(t, nil)

	closed := make(chan error, 1)
	h.eng.SetCallback(func(State) { closed <- h.eng.Close() })

	frame := octolink.Telemetry{X: 1}.Encode()
	h.dev.Write(frame[:])

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close from callback did not return")
	}
	h.waitDone()

	if err := h.eng.Err(); err != nil {
		t.Errorf("Close must not record a link failure, got %v", err)
	}
}

// ============================================================
// Retry Policy Tests
// ============================================================

func TestRetryPolicy_Decide(t *testing.T) {
	p := RetryPolicy{Limit: 10}
	tests := []struct {
		retries int
		want    RetryAction
	}{
		{0, Resend},
		{1, Resend},
		{9, Resend},
		{10, Fatal},
		{11, Fatal},
	}

	for _, tt := range tests {
		if got := p.Decide(tt.retries); got != tt.want {
			t.Errorf("Decide(%d): expected %s, got %s", tt.retries, tt.want, got)
		}
	}
}

func TestLinkError_Message(t *testing.T) {
	err := &LinkError{
		Reason:     "retries exhausted",
		HasCommand: true,
		CommandID:  7,
		Opcode:     octolink.OpMoveZ,
		Retries:    10,
		Err:        ErrChecksum,
	}
	msg := err.Error()
	for _, want := range []string{"retries exhausted", "7", "MOVE_Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_CountersAndString(t *testing.T) {
	h := newHarness(t, nil)

	id, _ := h.eng.Send(moveX(t, 1))
	h.nextCommand()
	h.feed(octolink.Telemetry{AckID: id, Status: octolink.StatusCmdChecksumError})
	h.nextCommand()
	h.feed(octolink.Telemetry{AckID: id})

	st := h.eng.Stats()
	if st.FramesReceived != 2 || st.CommandsSent != 1 || st.CommandsAcked != 1 || st.ChecksumResends != 1 {
		t.Errorf("Unexpected counters: %+v", st)
	}
	if st.Resends() != 1 {
		t.Errorf("Expected 1 resend, got %d", st.Resends())
	}
	if !strings.Contains(st.String(), "Frames") {
		t.Errorf("Expected frame counters in %q", st.String())
	}

	h.eng.ResetStats()
	if st := h.eng.Stats(); st.FramesReceived != 0 || st.CommandsSent != 0 {
		t.Errorf("Expected counters cleared, got %+v", st)
	}
}
