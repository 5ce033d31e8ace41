// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"sync"
)

// ErrDeviceGone is reported to the host once the device end hangs up
var ErrDeviceGone = errors.New("loopback device closed")

// Loopback is an in-memory link. The Loopback itself is the host end; Device
// returns the controller end.
type Loopback struct {
	toHost   *queue
	toDevice *queue
	dev      *LoopbackDevice

	mu     sync.Mutex
	closed bool
}

// NewLoopback creates a connected host/device pair
func NewLoopback() *Loopback {
	l := &Loopback{
		toHost:   newQueue(),
		toDevice: newQueue(),
	}
	l.dev = &LoopbackDevice{l: l}
	return l
}

// Device returns the controller end of the link
func (l *Loopback) Device() *LoopbackDevice {
	return l.dev
}

// BytesAvailable returns the number of bytes the device has written
func (l *Loopback) BytesAvailable() (int, error) {
	return l.toHost.available()
}

// ReadExact blocks until the device has written n more bytes
func (l *Loopback) ReadExact(n int) ([]byte, error) {
	return l.toHost.readExact(n)
}

// Write delivers p to the device
func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	l.toDevice.push(p)
	return len(p), nil
}

// Close hangs up the host end
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.toHost.close()
	l.toDevice.fail(ErrClosed)
	return nil
}

// LoopbackDevice is the controller end of a Loopback
type LoopbackDevice struct {
	l *Loopback
}

// Write sends telemetry bytes to the host
func (d *LoopbackDevice) Write(p []byte) (int, error) {
	d.l.toHost.push(p)
	return len(p), nil
}

// Read reads whatever the host has written, blocking until something arrives
func (d *LoopbackDevice) Read(p []byte) (int, error) {
	return d.l.toDevice.read(p)
}

// ReadExact blocks until the host has written n bytes
func (d *LoopbackDevice) ReadExact(n int) ([]byte, error) {
	return d.l.toDevice.readExact(n)
}

// Pending returns the number of host bytes not yet read by the device
func (d *LoopbackDevice) Pending() int {
	n, _ := d.l.toDevice.available()
	return n
}

// Close hangs up the device end. The host sees ErrDeviceGone once it has
// drained what was already written.
func (d *LoopbackDevice) Close() error {
	d.l.toHost.fail(ErrDeviceGone)
	d.l.toDevice.close()
	return nil
}
