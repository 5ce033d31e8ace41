// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/Thermoquad/stagelink/pkg/controller"
	"github.com/Thermoquad/stagelink/pkg/link"
	"github.com/Thermoquad/stagelink/pkg/octolink"
	"github.com/Thermoquad/stagelink/pkg/simulator"
)

// simulatedLink runs the simulator behind the loopback host end and stops it
// when the link is closed
type simulatedLink struct {
	*link.Loopback
	device *simulator.Device
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *simulatedLink) Close() error {
	err := s.Loopback.Close()
	s.cancel()
	s.device.Close()
	<-s.done
	return err
}

func openSimulator() *simulatedLink {
	l := link.NewLoopback()
	dev := simulator.New(l.Device(), simulator.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	s := &simulatedLink{Loopback: l, device: dev, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		if err := dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("simulator stopped")
		}
	}()
	return s
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("STAGELINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenTransport opens the transport selected by the connection flags and
// returns it with a description for display
func OpenTransport() (controller.Transport, string, error) {
	switch {
	case simulate:
		return openSimulator(), "Simulator", nil

	case replayFile != "":
		f, err := os.Open(replayFile)
		if err != nil {
			return nil, "", fmt.Errorf("open replay: %w", err)
		}
		return link.NewReplay(f, replaySpeed), fmt.Sprintf("Replay: %s (x%g)", replayFile, replaySpeed), nil

	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := link.DialWebSocket(context.Background(), wsURL, link.WebSocketOptions{
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	port := stageConfig.Link.Port
	if port == "" || port == "auto" {
		found, err := link.FindControllerPort(stageConfig.Link.SerialNumber)
		if err != nil {
			return nil, "", fmt.Errorf("either --port, --url, --simulate or --replay must be specified: %w", err)
		}
		log.Info().Str("port", found).Msg("controller found")
		port = found
	}

	conn, err := link.OpenSerial(port, stageConfig.Link.Baud)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial: %s @ %d baud", port, stageConfig.Link.Baud), nil
}

// engineConfig maps the loaded configuration onto the engine tuning
func engineConfig() controller.Config {
	ec := stageConfig.Engine
	return controller.Config{
		AckGrace:         ec.AckGrace(),
		TimeoutPolls:     ec.TimeoutPolls,
		RetryLimit:       ec.RetryLimit,
		IdlePoll:         ec.IdlePoll(),
		SkipTelemetryCRC: stageConfig.Link.PermissiveTelemetry,
	}
}

// OpenEngine opens the transport and starts an engine on it. mutate may
// adjust the engine configuration before the receiver loop starts.
func OpenEngine(mutate func(*controller.Config)) (*controller.Engine, string, error) {
	t, desc, err := OpenTransport()
	if err != nil {
		return nil, "", err
	}

	cfg := engineConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return controller.New(t, cfg), desc, nil
}

// openCapture creates a CBOR capture file, or returns nil for an empty path
func openCapture(path string) (*octolink.CaptureWriter, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture: %w", err)
	}
	return octolink.NewCaptureWriter(f), func() { f.Close() }, nil
}

// waitFatal reports a fatal link error, treating the end of a replay as a
// normal exit
func waitFatal(eng *controller.Engine) error {
	<-eng.Done()
	err := eng.Err()
	if err == nil || isReplayEnd(err) {
		return nil
	}
	return err
}

func isReplayEnd(err error) bool {
	return errors.Is(err, link.ErrReplayFinished)
}

// settle gives a freshly opened link a moment to deliver its first telemetry
func settle(eng *controller.Engine, d time.Duration) {
	select {
	case <-eng.Done():
	case <-time.After(d):
	}
}
