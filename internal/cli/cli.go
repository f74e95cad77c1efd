// Package cli parses murmur command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRecord  Command = "record"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandSubmit  Command = "submit"
	CommandSetText Command = "set-text"
	CommandTheme   Command = "theme"
	CommandStatus  Command = "status"
	CommandServe   Command = "serve"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// validCommands maps each command to the number of positional arguments it takes.
var validCommands = map[Command]int{
	CommandRecord:  0,
	CommandStop:    0,
	CommandCancel:  0,
	CommandSubmit:  0,
	CommandSetText: 1,
	CommandTheme:   1,
	CommandStatus:  0,
	CommandServe:   0,
	CommandDevices: 0,
	CommandDoctor:  0,
	CommandVersion: 0,
	CommandHelp:    0,
}

type Parsed struct {
	Command    Command
	Arg        string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			arity, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) < arity {
				return Parsed{}, fmt.Errorf("command %q requires an argument", arg)
			}
			if len(rest) > arity {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if arity == 1 {
				parsed.Arg = rest[0]
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [ARG]

Commands:
  record         Start a streaming session, or stop the running one
  stop           Stop the running session and wait for the transcript
  cancel         Cancel the running session and discard the transcript
  submit         Submit the finished transcript
  set-text TEXT  Replace the displayed transcript
  theme NAME     Switch the indicator theme (dark|light)
  status         Print current state
  serve          Run the host bridge server
  devices        List available input devices
  doctor         Run configuration and environment checks
  version        Print version information
  help           Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/murmur/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
