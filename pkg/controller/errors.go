// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/stagelink/pkg/octolink"
)

var (
	// ErrBusy is returned by Send while another command is unacknowledged.
	ErrBusy = errors.New("command already in flight")

	// ErrTimeout is returned by WaitUntilIdle, and is the cause of a LinkError
	// when timeout resends are exhausted.
	ErrTimeout = errors.New("timed out waiting for acknowledgment")

	// ErrChecksum is the cause of a LinkError when the controller keeps
	// rejecting a command's checksum.
	ErrChecksum = errors.New("controller reported command checksum error")

	// ErrLinkFatal matches every LinkError.
	ErrLinkFatal = errors.New("link fatal")

	ErrClosed = errors.New("engine closed")
)

// LinkError is the unrecoverable failure of the link. Once returned, the
// engine accepts no further commands.
type LinkError struct {
	Reason     string
	HasCommand bool
	CommandID  uint8
	Opcode     octolink.Opcode
	Retries    int
	Err        error
}

func (e *LinkError) Error() string {
	if e.HasCommand {
		return fmt.Sprintf("link fatal: %s: command %d (%s) after %d retries: %v",
			e.Reason, e.CommandID, octolink.FormatOpcode(e.Opcode), e.Retries, e.Err)
	}
	return fmt.Sprintf("link fatal: %s: %v", e.Reason, e.Err)
}

// Unwrap exposes both ErrLinkFatal and the underlying cause to errors.Is.
func (e *LinkError) Unwrap() []error {
	return []error{ErrLinkFatal, e.Err}
}
