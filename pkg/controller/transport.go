// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

// Transport is the byte link to the controller.
//
// BytesAvailable must not block. ReadExact blocks until n bytes have arrived
// or the link closes, and Write blocks until all of p is written. Close must
// unblock a pending ReadExact.
type Transport interface {
	BytesAvailable() (int, error)
	ReadExact(n int) ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}
