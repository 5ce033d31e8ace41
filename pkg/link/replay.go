// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

// ErrReplayFinished is reported once every recorded frame has been delivered
var ErrReplayFinished = errors.New("replay finished")

// Replay is a transport that plays back the received frames of a capture.
// Writes are accepted and dropped.
type Replay struct {
	r     *octolink.CaptureReader
	c     io.Closer
	speed float64
	q     *queue

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewReplay plays the capture in rc. A speed of 1 keeps the recorded
// timing, 2 plays twice as fast and 0 delivers frames without delay.
func NewReplay(rc io.ReadCloser, speed float64) *Replay {
	r := &Replay{
		r:     octolink.NewCaptureReader(rc),
		c:     rc,
		speed: speed,
		q:     newQueue(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.play()
	return r
}

func (r *Replay) play() {
	defer close(r.done)

	var prev time.Time
	for {
		rec, err := r.r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrReplayFinished
			}
			r.q.fail(err)
			return
		}
		if rec.Dir != octolink.DirRx {
			continue
		}

		at := rec.At()
		if !prev.IsZero() && r.speed > 0 {
			gap := time.Duration(float64(at.Sub(prev)) / r.speed)
			if gap > 0 {
				select {
				case <-time.After(gap):
				case <-r.stop:
					return
				}
			}
		}
		prev = at

		select {
		case <-r.stop:
			return
		default:
		}
		r.q.push(rec.Frame)
	}
}

// BytesAvailable returns the number of replayed bytes not yet read
func (r *Replay) BytesAvailable() (int, error) {
	return r.q.available()
}

// ReadExact blocks until n replayed bytes are available
func (r *Replay) ReadExact(n int) ([]byte, error) {
	return r.q.readExact(n)
}

// Write drops p
func (r *Replay) Write(p []byte) (int, error) {
	return len(p), nil
}

// Close stops playback and closes the capture
func (r *Replay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		r.q.close()
		err = r.c.Close()
		<-r.done
	})
	return err
}
