package main

import (
	"errors"
	"os"
	"os/exec"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

const childEnv = "MURMUR_TEST_MAIN"

// TestMain lets the test binary stand in for murmur when re-executed by runMurmur.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		if i := slices.Index(os.Args, "--"); i >= 0 {
			os.Args = append([]string{"murmur"}, os.Args[i+1:]...)
		} else {
			os.Args = []string{"murmur"}
		}
		main()
		return
	}
	os.Exit(m.Run())
}

func runMurmur(t *testing.T, args ...string) (string, int) {
	t.Helper()

	cmd := exec.Command(os.Args[0], append([]string{"--"}, args...)...)
	cmd.Env = append(os.Environ(), childEnv+"=1", "XDG_RUNTIME_DIR="+t.TempDir())
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return string(out), 0
	case errors.As(err, &exitErr):
		return string(out), exitErr.ExitCode()
	default:
		t.Fatalf("run murmur: %v", err)
		return "", -1
	}
}

func TestHelpExitsZero(t *testing.T) {
	out, code := runMurmur(t, "--help")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "Usage:")
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	out, code := runMurmur(t, "not-a-command")
	require.Equal(t, 2, code)
	require.Contains(t, out, "unknown command")
}

func TestVersionFlag(t *testing.T) {
	out, code := runMurmur(t, "--version")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "murmur ")
}
