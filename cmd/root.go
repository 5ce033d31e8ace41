// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stagelink/pkg/config"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

var (
	// Serial connection flags
	portName     string
	baudRate     int
	serialNumber string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Offline transports
	simulate    bool
	replayFile  string
	replaySpeed float64

	configFile          string
	permissiveTelemetry bool

	logLevel string
	logFile  string

	// stageConfig is the loaded configuration with flag overrides applied
	stageConfig *config.Config
	logOutput   io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "stagelink",
	Short: "Microscope stage controller link",
	Long: `Stagelink - A CLI tool for driving and diagnosing a microscope stage and
illumination controller over its serial command protocol.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 2000000]   (--port auto searches by USB id)
  WebSocket: --url ws://host/path [--username user]
  Simulator: --simulate
  Replay:    --replay capture.cbor [--replay-speed 2]

For WebSocket authentication, the password is read from the STAGELINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}
		return loadConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOutput != nil {
			logOutput.Close()
		}
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device, or \"auto\" to search")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", octolink.DefaultBaudRate, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVar(&serialNumber, "serial-number", "", "USB serial number of the controller (with --port auto)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Run against the built-in simulated controller")
	rootCmd.PersistentFlags().StringVar(&replayFile, "replay", "", "Replay telemetry from a CBOR capture file")
	rootCmd.PersistentFlags().Float64Var(&replaySpeed, "replay-speed", 1, "Replay speed multiplier (0 = as fast as possible)")

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Stage configuration file (JSON)")
	rootCmd.PersistentFlags().BoolVar(&permissiveTelemetry, "permissive-telemetry", false, "Accept telemetry frames without checking their CRC")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging() error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logOutput = f
		out = f
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05.000",
		NoColor:    logFile != "",
	}).With().Timestamp().Logger()
	return nil
}

// quietLogging keeps log lines off a full-screen TUI when no log file is set
func quietLogging() {
	if logFile == "" {
		log.Logger = zerolog.Nop()
	}
}

func loadConfig(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") || cfg.Link.Port == "" {
		cfg.Link.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Link.Baud = baudRate
	}
	if flags.Changed("serial-number") {
		cfg.Link.SerialNumber = serialNumber
	}
	if flags.Changed("permissive-telemetry") {
		cfg.Link.PermissiveTelemetry = permissiveTelemetry
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Debug().
		Str("port", cfg.Link.Port).
		Int("baud", cfg.Link.Baud).
		Dur("ack_grace", cfg.Engine.AckGrace()).
		Msg("configuration loaded")

	stageConfig = cfg
	return nil
}

// commandTimeout is a helper for subcommands that wait on a single command
func commandTimeout() time.Duration {
	return stageConfig.Engine.CommandTimeout()
}
