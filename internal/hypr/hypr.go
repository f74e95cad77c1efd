// Package hypr drives Hyprland through hyprctl: indicator notifications and paste dispatch.
package hypr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	json "github.com/goccy/go-json"
)

// Binary is the hyprctl executable resolved from PATH.
const Binary = "hyprctl"

// CommandError reports a failed hyprctl invocation with whatever it printed.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	args := strings.Join(e.Args, " ")
	if e.Output == "" {
		return fmt.Sprintf("%s %s: %v", Binary, args, e.Err)
	}
	return fmt.Sprintf("%s %s: %v (%s)", Binary, args, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

func run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, Binary, args...).CombinedOutput()
	if err != nil {
		return nil, &CommandError{Args: args, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return out, nil
}

// dispatch runs `hyprctl --quiet dispatch <args>`.
func dispatch(ctx context.Context, args ...string) error {
	_, err := run(ctx, append([]string{"--quiet", "dispatch"}, args...)...)
	return err
}

// query runs `hyprctl -j <target>` and decodes the reply into v.
func query(ctx context.Context, target string, v any) error {
	out, err := run(ctx, "-j", target)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", Binary, target, err)
	}
	return nil
}
