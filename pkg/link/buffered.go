// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link provides the byte transports an engine runs on: serial ports,
// WebSocket bridges, an in-memory loopback and capture replay.
package link

import (
	"io"
	"sync"
)

// Buffered turns a blocking io.ReadWriteCloser into a transport that can
// report how many bytes are waiting. A pump goroutine moves everything the
// stream delivers into an internal queue.
type Buffered struct {
	rwc io.ReadWriteCloser
	q   *queue

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewBuffered starts pumping rwc
func NewBuffered(rwc io.ReadWriteCloser) *Buffered {
	b := &Buffered{
		rwc:  rwc,
		q:    newQueue(),
		done: make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *Buffered) pump() {
	defer close(b.done)
	buf := make([]byte, 1024)
	for {
		n, err := b.rwc.Read(buf)
		if n > 0 {
			b.q.push(buf[:n])
		}
		if err != nil {
			b.q.fail(err)
			return
		}
	}
}

// BytesAvailable returns the number of buffered bytes
func (b *Buffered) BytesAvailable() (int, error) {
	return b.q.available()
}

// ReadExact blocks until n bytes are buffered and returns them
func (b *Buffered) ReadExact(n int) ([]byte, error) {
	return b.q.readExact(n)
}

// Write sends p to the stream
func (b *Buffered) Write(p []byte) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.rwc.Write(p)
}

// Close closes the stream and waits for the pump to stop
func (b *Buffered) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.q.close()
		err = b.rwc.Close()
		<-b.done
	})
	return err
}
