// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

// RetryAction is the outcome of a retry decision
type RetryAction int

const (
	Resend RetryAction = iota
	Fatal
)

func (a RetryAction) String() string {
	switch a {
	case Resend:
		return "resend"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// RetryPolicy decides whether a failed command is sent again. The same
// limit applies to checksum and timeout resends, and both share the
// command's retry count.
type RetryPolicy struct {
	Limit int
}

// Decide returns Resend while retries is below the limit and Fatal after
func (p RetryPolicy) Decide(retries int) RetryAction {
	if retries < p.Limit {
		return Resend
	}
	return Fatal
}
