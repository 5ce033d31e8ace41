// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"fmt"
	"time"
)

// Statistics tracks link traffic and recovery counters
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Inbound
	FramesReceived uint64
	CRCRejected    uint64
	BytesDiscarded uint64

	// Outbound
	CommandsSent    uint64
	CommandsAcked   uint64
	ChecksumResends uint64
	TimeoutResends  uint64
	JoystickPresses uint64
	LastAckLatency  time.Duration
	MaxAckLatency   time.Duration

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // rejected frames + resends per sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) recordAck(latency time.Duration) {
	s.CommandsAcked++
	s.LastAckLatency = latency
	if latency > s.MaxAckLatency {
		s.MaxAckLatency = latency
	}
}

// Resends returns the total number of resent commands
func (s *Statistics) Resends() uint64 {
	return s.ChecksumResends + s.TimeoutResends
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesReceived) / elapsed
		s.ErrorRate = float64(s.CRCRejected+s.Resends()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	total := s.FramesReceived + s.CRCRejected
	var validPercent, rejectedPercent float64
	if total > 0 {
		validPercent = float64(s.FramesReceived) * 100.0 / float64(total)
		rejectedPercent = float64(s.CRCRejected) * 100.0 / float64(total)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames:          %8d\n", total)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.FramesReceived, validPercent)

	if s.CRCRejected > 0 {
		result += fmt.Sprintf("CRC Rejected:    %8d (%.1f%%)\n", s.CRCRejected, rejectedPercent)
	}
	if s.BytesDiscarded > 0 {
		result += fmt.Sprintf("Bytes Realigned: %8d\n", s.BytesDiscarded)
	}

	if s.CommandsSent > 0 {
		result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
		result += fmt.Sprintf("Commands Acked:  %8d\n", s.CommandsAcked)
		if s.Resends() > 0 {
			result += fmt.Sprintf("Resends:         %8d\n", s.Resends())
			if s.ChecksumResends > 0 {
				result += fmt.Sprintf("  Checksum:         %5d\n", s.ChecksumResends)
			}
			if s.TimeoutResends > 0 {
				result += fmt.Sprintf("  Timeout:          %5d\n", s.TimeoutResends)
			}
		}
		result += fmt.Sprintf("Ack Latency:     %8s (max %s)\n",
			s.LastAckLatency.Round(time.Millisecond), s.MaxAckLatency.Round(time.Millisecond))
	}
	if s.JoystickPresses > 0 {
		result += fmt.Sprintf("Joystick Presses:%8d\n", s.JoystickPresses)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
