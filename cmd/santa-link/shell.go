package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/santa-link/internal/ble"
	"github.com/chaz8081/santa-link/internal/program"
	"github.com/chaz8081/santa-link/internal/tools"
)

type linkController interface {
	Connect(ctx context.Context, autoReconnect bool) error
	Disconnect() error
	State() ble.State
	Device() ble.Device
}

type commander interface {
	SendText(ctx context.Context, text string) error
	CallTool(ctx context.Context, name string, args map[string]any) error
	RequestTools(ctx context.Context) error
}

type programRunner interface {
	Run(ctx context.Context, p *program.Program) error
}

// shell interprets one command per line.
type shell struct {
	link     linkController
	cmds     commander
	registry *tools.Registry
	runner   programRunner
	out      io.Writer
}

const shellHelp = `Commands:
  say <text>                    send text to the robot
  call <tool> [name=value ...]  call a tool; values are JSON or plain strings
  tools                         list known tools
  reload                        ask the robot for its tool list
  run <program.yaml>            run a program
  state                         show the connection state
  connect | disconnect
  help | quit`

var errQuit = errors.New("quit")

func newShellCmd(a *app) *cobra.Command {
	var noConnect bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Drive the robot interactively",
		Long:  "Connect to the robot and read commands from stdin.\n\n" + shellHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			rt, err := a.openRuntime(newConsoleListener(out))
			if err != nil {
				return err
			}
			defer rt.Close()

			if !noConnect {
				connectOrResume(ctx, rt.manager)
			}

			sh := &shell{
				link:     rt.manager,
				cmds:     rt.dispatcher,
				registry: rt.registry,
				runner:   rt.runner,
				out:      out,
			}
			fmt.Fprintln(out, `Type "help" for commands.`)
			return sh.loop(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "start without connecting")

	return cmd
}

// connectOrResume restores a recent session silently or connects fresh.
// Failures are already reported as notices.
func connectOrResume(ctx context.Context, m *ble.Manager) {
	if m.Resume(ctx) == ble.ResumeReconnected {
		return
	}
	_ = m.Connect(ctx, false)
}

func (s *shell) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errCh <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(s.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errCh
			}
			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "say":
		if rest == "" {
			return errors.New("usage: say <text>")
		}
		return s.cmds.SendText(ctx, rest)
	case "call":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return errors.New("usage: call <tool> [name=value ...]")
		}
		args, err := parseToolArgs(fields[1:])
		if err != nil {
			return err
		}
		return s.cmds.CallTool(ctx, fields[0], args)
	case "tools":
		s.printTools()
		return nil
	case "reload":
		return s.cmds.RequestTools(ctx)
	case "run":
		if rest == "" {
			return errors.New("usage: run <program.yaml>")
		}
		if s.runner == nil {
			return errors.New("programs are not available")
		}
		p, err := program.Load(rest)
		if err != nil {
			return err
		}
		return s.runner.Run(ctx, p)
	case "state":
		state := s.link.State()
		if state == ble.StateConnected {
			d := s.link.Device()
			fmt.Fprintf(s.out, "%s to %s (%s)\n", state, d.Name, d.ID)
		} else {
			fmt.Fprintln(s.out, state)
		}
		return nil
	case "connect":
		return s.link.Connect(ctx, false)
	case "disconnect":
		return s.link.Disconnect()
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", verb)
	}
}

func (s *shell) printTools() {
	catalog := s.registry.All()
	if len(catalog) == 0 {
		fmt.Fprintln(s.out, "No tools known yet. Try \"reload\".")
		return
	}
	if s.registry.Cached() {
		fmt.Fprintln(s.out, "(cached from the last session)")
	}
	for _, d := range catalog {
		fmt.Fprintln(s.out, "  "+describeTool(d))
	}
}

// parseToolArgs turns name=value pairs into tool arguments. Values that
// parse as JSON keep their type; anything else is a string.
func parseToolArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		args[name] = v
	}
	return args, nil
}
