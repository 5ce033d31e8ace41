// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/stagelink/pkg/config"
	"github.com/Thermoquad/stagelink/pkg/controller"
	"github.com/Thermoquad/stagelink/pkg/link"
	"github.com/Thermoquad/stagelink/pkg/octolink"
	"github.com/Thermoquad/stagelink/pkg/simulator"
)

// ============================================================
// Test Helpers
// ============================================================

func newShellStage(t *testing.T) (*controller.Stage, *simulator.Device) {
	t.Helper()

	logger := zerolog.Nop()
	l := link.NewLoopback()
	dev := simulator.New(l.Device(), simulator.Options{
		TelemetryInterval: time.Millisecond,
		ExecDelay:         -1,
		Logger:            &logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go dev.Run(ctx)

	eng := controller.New(l, controller.Config{IdlePoll: time.Millisecond, Logger: &logger})
	t.Cleanup(func() {
		eng.Close()
		cancel()
		dev.Close()
	})

	stageConfig = config.Default()
	return controller.NewStage(eng, stageConfig), dev
}

func shell(t *testing.T, s *controller.Stage, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := runShellCommand(s, &out, strings.Fields(line))
	return out.String(), err
}

// ============================================================
// Shell Command Tests
// ============================================================

func TestShell_Commands(t *testing.T) {
	stage, dev := newShellStage(t)

	tests := []struct {
		line string
		op   octolink.Opcode
	}{
		{"move x 1600", octolink.OpMoveX},
		{"moveto y -200", octolink.OpMoveToY},
		{"home z", octolink.OpHomeOrZero},
		{"zero x", octolink.OpHomeOrZero},
		{"illum on", octolink.OpTurnOnIllumination},
		{"illum 11 40", octolink.OpSetIllumination},
		{"led 0 1 0.5 0", octolink.OpSetIlluminationLEDMatrix},
		{"trigger 0 1000 illum", octolink.OpSendHardwareTrigger},
		{"pin 10 1", octolink.OpSetPinLevel},
		{"af off", octolink.OpSetPinLevel},
		{"init", octolink.OpInitialize},
	}

	for _, tt := range tests {
		if _, err := shell(t, stage, tt.line); err != nil {
			t.Fatalf("%q: %v", tt.line, err)
		}
	}

	cmds := dev.Commands()
	if len(cmds) != len(tests) {
		t.Fatalf("Expected %d commands, got %d", len(tests), len(cmds))
	}
	for i, tt := range tests {
		if cmds[i].Opcode() != tt.op {
			t.Errorf("%q: expected %s, got %s", tt.line, octolink.FormatOpcode(tt.op), octolink.FormatOpcode(cmds[i].Opcode()))
		}
	}
}

func TestShell_Pos(t *testing.T) {
	stage, _ := newShellStage(t)

	if _, err := shell(t, stage, "move x 1600"); err != nil {
		t.Fatalf("move: %v", err)
	}
	out, err := shell(t, stage, "pos")
	if err != nil {
		t.Fatalf("pos: %v", err)
	}
	if !strings.Contains(out, "x=1600") {
		t.Errorf("Expected x=1600 in %q", out)
	}
}

func TestShell_Errors(t *testing.T) {
	stage, dev := newShellStage(t)

	tests := []struct {
		line string
		want string
	}{
		{"fly x 1", "unknown command"},
		{"move x", "usage: move"},
		{"move w 10", "axis"},
		{"move x ten", "usteps"},
		{"illum dim", "expected on or off"},
		{"stats bogus", "unknown stats argument"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := shell(t, stage, tt.line)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if n := len(dev.Commands()); n != 0 {
		t.Errorf("Expected no commands sent, got %d", n)
	}
}

func TestShell_Quit(t *testing.T) {
	stage, _ := newShellStage(t)

	for _, line := range []string{"quit", "exit", "QUIT"} {
		if _, err := shell(t, stage, line); !errors.Is(err, errQuit) {
			t.Errorf("%q: expected errQuit, got %v", line, err)
		}
	}
}

func TestShell_Completion(t *testing.T) {
	got := completeShell("mo")
	if len(got) != 2 || got[0] != "move" || got[1] != "moveto" {
		t.Errorf("Expected [move moveto], got %v", got)
	}
	if got := completeShell("zzz"); len(got) != 0 {
		t.Errorf("Expected no completions, got %v", got)
	}
}
