// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package octolink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Capture directions
const (
	DirRx = "rx" // controller to host
	DirTx = "tx" // host to controller
)

// CaptureRecord is one frame in a capture file. Files are a plain sequence
// of CBOR maps, one per frame.
type CaptureRecord struct {
	Time  int64  `cbor:"t"`
	Dir   string `cbor:"dir"`
	Frame []byte `cbor:"frame"`
}

// At returns the record timestamp
func (r CaptureRecord) At() time.Time {
	return time.Unix(0, r.Time)
}

// CaptureWriter appends frames to a capture stream. It is safe for
// concurrent use.
type CaptureWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCaptureWriter creates a capture writer on w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: cbor.NewEncoder(w)}
}

// Record writes one frame
func (c *CaptureWriter) Record(dir string, at time.Time, frame []byte) error {
	rec := CaptureRecord{
		Time:  at.UnixNano(),
		Dir:   dir,
		Frame: append([]byte(nil), frame...),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture %s frame: %w", dir, err)
	}
	return nil
}

// CaptureReader reads records written by CaptureWriter
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a capture reader on r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF when the stream is exhausted
func (c *CaptureReader) Next() (CaptureRecord, error) {
	var rec CaptureRecord
	if err := c.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("read capture record: %w", err)
	}
	return rec, nil
}
