// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"sync"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// ErrClosed is returned by transports after Close
var ErrClosed = errors.New("link closed")

// queue is a byte FIFO filled by a producer goroutine and drained by
// exact-length reads.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	err    error // producer failure, reported once buffered frames are drained
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(p []byte) {
	q.mu.Lock()
	if !q.closed {
		q.buf = append(q.buf, p...)
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// fail records the producer error. Bytes already queued stay readable.
func (q *queue) fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

// available returns the queued byte count. Once the producer has failed the
// error is returned as soon as no complete telemetry frame is left.
func (q *queue) available() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if q.err != nil && len(q.buf) < octolink.MsgLength {
		return len(q.buf), q.err
	}
	return len(q.buf), nil
}

// readExact blocks until n bytes are queued and removes them
func (q *queue) readExact(n int) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) < n {
		if q.closed {
			return nil, ErrClosed
		}
		if q.err != nil {
			return nil, q.err
		}
		q.cond.Wait()
	}
	out := make([]byte, n)
	copy(out, q.buf)
	q.buf = q.buf[n:]
	if len(q.buf) == 0 {
		q.buf = nil
	}
	return out, nil
}

// read copies whatever is queued into p, blocking while the queue is empty
func (q *queue) read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 {
		if q.closed {
			return 0, ErrClosed
		}
		if q.err != nil {
			return 0, q.err
		}
		q.cond.Wait()
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}
