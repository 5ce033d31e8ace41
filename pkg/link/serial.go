// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var (
	ErrNoController        = errors.New("no stage controller found")
	ErrMultipleControllers = errors.New("multiple stage controllers found, select one by serial number")
)

// USB identities of supported controller boards
var controllerIDs = []struct {
	vid, pid string
	board    string
}{
	{"2341", "003D", "Arduino Due"},
	{"2341", "003E", "Arduino Due"},
	{"16C0", "0483", "Teensy"},
}

// OpenSerial opens a controller serial port at baud, 8N1, and discards any
// input buffered before the open.
func OpenSerial(name string, baud int) (*Buffered, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %w", name, err)
	}
	return NewBuffered(port), nil
}

// PortInfo describes one serial port
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
	Board        string // supported controller board, empty if not recognized
}

// ListPorts enumerates serial ports and marks the ones that look like a
// stage controller.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
			Board:        boardName(p.IsUSB, p.VID, p.PID, p.Product),
		})
	}
	return infos, nil
}

func boardName(isUSB bool, vid, pid, product string) string {
	if !isUSB {
		return ""
	}
	if strings.Contains(product, "Arduino Due") {
		return "Arduino Due"
	}
	for _, id := range controllerIDs {
		if strings.EqualFold(vid, id.vid) && strings.EqualFold(pid, id.pid) {
			return id.board
		}
	}
	return ""
}

// FindControllerPort returns the port of the stage controller. A non-empty
// serialNumber must match exactly; otherwise exactly one recognized board
// must be attached.
func FindControllerPort(serialNumber string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	return selectController(ports, serialNumber)
}

func selectController(ports []PortInfo, serialNumber string) (string, error) {
	if serialNumber != "" {
		for _, p := range ports {
			if p.SerialNumber == serialNumber {
				return p.Name, nil
			}
		}
		return "", fmt.Errorf("serial number %s: %w", serialNumber, ErrNoController)
	}

	var found []string
	for _, p := range ports {
		if p.Board != "" {
			found = append(found, p.Name)
		}
	}
	switch len(found) {
	case 0:
		return "", ErrNoController
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrMultipleControllers, strings.Join(found, ", "))
	}
}
