package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withBuild(t *testing.T, version, commit, date string) {
	t.Helper()
	prev := [3]string{Version, Commit, Date}
	t.Cleanup(func() { Version, Commit, Date = prev[0], prev[1], prev[2] })
	Version, Commit, Date = version, commit, date
}

func TestStringUsesInjectedMetadata(t *testing.T) {
	withBuild(t, "1.2.3", "abc123", "2026-02-18")

	require.Regexp(t, `^murmur 1\.2\.3 \(commit=abc123, date=2026-02-18, go=go.+\)$`, String())
}

func TestStringDefaultsWithoutLdflags(t *testing.T) {
	withBuild(t, "dev", "none", "unknown")

	got := String()
	require.Contains(t, got, "murmur dev (commit=")
	require.Contains(t, got, "date=unknown")
}
