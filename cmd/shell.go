// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stagelink/pkg/controller"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

var shellCmd = &cobra.Command{
	Use:   "shell [command [args...]]",
	Short: "Interactive command shell for the stage",
	Long: `Send stage commands from an interactive shell with history and tab completion.

Every command waits for the controller to acknowledge it before the prompt
returns. Given arguments, a single command is run and the shell exits.

Type "help" in the shell for the list of commands. Ctrl-D or "quit" exits.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

var errQuit = errors.New("quit")

// shellCommand is one shell verb
type shellCommand struct {
	Name        string
	Usage       string
	Description string
	MinArgs     int
	MaxArgs     int
	Handler     func(s *controller.Stage, out io.Writer, args []string) error
}

var shellCommands = map[string]shellCommand{}

func addShellCommand(c shellCommand) {
	shellCommands[c.Name] = c
}

func init() {
	addShellCommand(shellCommand{
		Name: "move", Usage: "move <x|y|z|theta> <usteps>", Description: "relative move",
		MinArgs: 2, MaxArgs: 2,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			axis, err := octolink.ParseAxis(args[0])
			if err != nil {
				return err
			}
			usteps, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("usteps: %w", err)
			}
			return s.MoveRelative(axis, usteps)
		},
	})
	addShellCommand(shellCommand{
		Name: "moveto", Usage: "moveto <x|y|z> <usteps>", Description: "absolute move",
		MinArgs: 2, MaxArgs: 2,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			axis, err := octolink.ParseAxis(args[0])
			if err != nil {
				return err
			}
			usteps, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("usteps: %w", err)
			}
			return s.MoveTo(axis, int32(usteps))
		},
	})
	addShellCommand(shellCommand{
		Name: "home", Usage: "home <x|y|z|theta|xy>", Description: "home an axis against its switch",
		MinArgs: 1, MaxArgs: 1,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			axis, err := octolink.ParseAxis(args[0])
			if err != nil {
				return err
			}
			return s.Home(axis)
		},
	})
	addShellCommand(shellCommand{
		Name: "zero", Usage: "zero <x|y|z|theta>", Description: "set the current position as 0",
		MinArgs: 1, MaxArgs: 1,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			axis, err := octolink.ParseAxis(args[0])
			if err != nil {
				return err
			}
			return s.Zero(axis)
		},
	})
	addShellCommand(shellCommand{
		Name: "illum", Usage: "illum <on|off> | illum <source> <intensity%>", Description: "illumination control",
		MinArgs: 1, MaxArgs: 2,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			if len(args) == 1 {
				on, err := parseOnOff(args[0])
				if err != nil {
					return err
				}
				if on {
					return s.IlluminationOn()
				}
				return s.IlluminationOff()
			}
			source, err := parseUint(args[0], 8)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			pct, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("intensity: %w", err)
			}
			return s.SetIllumination(uint8(source), pct)
		},
	})
	addShellCommand(shellCommand{
		Name: "led", Usage: "led <source> <r> <g> <b>", Description: "LED matrix color (0..1 per channel)",
		MinArgs: 4, MaxArgs: 4,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			source, err := parseUint(args[0], 8)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			var rgb [3]float64
			for i := range rgb {
				if rgb[i], err = strconv.ParseFloat(args[i+1], 64); err != nil {
					return fmt.Errorf("color: %w", err)
				}
			}
			return s.SetLEDMatrix(uint8(source), rgb[0], rgb[1], rgb[2])
		},
	})
	addShellCommand(shellCommand{
		Name: "trigger", Usage: "trigger <channel> <on-time-us> [illum]", Description: "camera hardware trigger",
		MinArgs: 2, MaxArgs: 3,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			channel, err := parseUint(args[0], 8)
			if err != nil {
				return fmt.Errorf("channel: %w", err)
			}
			us, err := parseUint(args[1], 32)
			if err != nil {
				return fmt.Errorf("on-time: %w", err)
			}
			return s.Trigger(uint8(channel), uint32(us), len(args) == 3 && args[2] == "illum")
		},
	})
	addShellCommand(shellCommand{
		Name: "pin", Usage: "pin <pin> <level>", Description: "set a digital output",
		MinArgs: 2, MaxArgs: 2,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			pin, err := parseUint(args[0], 8)
			if err != nil {
				return fmt.Errorf("pin: %w", err)
			}
			level, err := parseUint(args[1], 8)
			if err != nil {
				return fmt.Errorf("level: %w", err)
			}
			return s.SetPin(uint8(pin), uint8(level))
		},
	})
	addShellCommand(shellCommand{
		Name: "af", Usage: "af <on|off>", Description: "autofocus laser",
		MinArgs: 1, MaxArgs: 1,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return s.SetAFLaser(on)
		},
	})
	addShellCommand(shellCommand{
		Name: "pos", Usage: "pos", Description: "show axis positions",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			p := s.Engine().Positions()
			fmt.Fprintf(out, "x=%d y=%d z=%d theta=%d\n", p.X, p.Y, p.Z, p.Theta)
			return nil
		},
	})
	addShellCommand(shellCommand{
		Name: "status", Usage: "status", Description: "show controller state",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			st := s.Engine().State()
			fmt.Fprintf(out, "busy=%v cmd=%d ack=%d status=%s joystick=%v switch=%v\n",
				st.Busy, st.CommandID, st.AckID, octolink.FormatStatus(st.ExecStatus), st.ButtonPressed, st.SwitchOn)
			if s.Engine().ConsumeJoystickPress() {
				fmt.Fprintln(out, "joystick pressed since last check")
			}
			return nil
		},
	})
	addShellCommand(shellCommand{
		Name: "stats", Usage: "stats [reset]", Description: "show or reset link statistics",
		MaxArgs: 1,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			if len(args) == 1 {
				if args[0] != "reset" {
					return fmt.Errorf("unknown stats argument %q", args[0])
				}
				s.Engine().ResetStats()
				return nil
			}
			stats := s.Engine().Stats()
			fmt.Fprint(out, stats.String())
			return nil
		},
	})
	addShellCommand(shellCommand{
		Name: "reset", Usage: "reset", Description: "reset the controller",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			return s.Reset()
		},
	})
	addShellCommand(shellCommand{
		Name: "init", Usage: "init", Description: "initialize the stepper drivers",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			return s.InitializeDrivers()
		},
	})
	addShellCommand(shellCommand{
		Name: "configure", Usage: "configure", Description: "send the actuator configuration",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			return s.ConfigureActuators()
		},
	})
	addShellCommand(shellCommand{
		Name: "wait", Usage: "wait [ms]", Description: "wait until the controller is idle",
		MaxArgs: 1,
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			timeout := commandTimeout()
			if len(args) == 1 {
				ms, err := parseUint(args[0], 32)
				if err != nil {
					return fmt.Errorf("timeout: %w", err)
				}
				timeout = time.Duration(ms) * time.Millisecond
			}
			return s.Engine().WaitUntilIdle(timeout)
		},
	})
	addShellCommand(shellCommand{
		Name: "help", Usage: "help", Description: "list commands",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			for _, name := range shellCommandNames() {
				c := shellCommands[name]
				fmt.Fprintf(out, "  %-44s %s\n", c.Usage, c.Description)
			}
			return nil
		},
	})
	addShellCommand(shellCommand{
		Name: "quit", Usage: "quit", Description: "leave the shell",
		Handler: func(s *controller.Stage, out io.Writer, args []string) error {
			return errQuit
		},
	})
}

func shellCommandNames() []string {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runShellCommand runs one tokenized line
func runShellCommand(s *controller.Stage, out io.Writer, tokens []string) error {
	name := strings.ToLower(tokens[0])
	if name == "exit" {
		name = "quit"
	}
	c, ok := shellCommands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", tokens[0])
	}
	args := tokens[1:]
	if len(args) < c.MinArgs || len(args) > c.MaxArgs {
		return fmt.Errorf("usage: %s", c.Usage)
	}
	return c.Handler(s, out, args)
}

func completeShell(line string) (c []string) {
	for _, name := range shellCommandNames() {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			c = append(c, name)
		}
	}
	return
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stagelink_history")
}

func runShell(cmd *cobra.Command, args []string) error {
	eng, connInfo, err := OpenEngine(nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	stage := controller.NewStage(eng, stageConfig)

	if len(args) > 0 {
		settle(eng, 100*time.Millisecond)
		if err := runShellCommand(stage, os.Stdout, args); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	}

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(completeShell)

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if history == "" {
			return
		}
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("Stagelink shell - %s\n", connInfo)
	fmt.Println("Type \"help\" for commands, Ctrl-D to quit.")

	for {
		input, err := line.Prompt("stage> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		err = runShellCommand(stage, os.Stdout, strings.Fields(input))
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, controller.ErrLinkFatal):
			fmt.Printf("error: %v\n", err)
			return err
		case err != nil:
			log.Debug().Err(err).Str("line", input).Msg("shell command failed")
			fmt.Printf("error: %v\n", err)
		}
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}
