// Package version reports build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata. Without an injected commit the VCS
// revision stamped by the go tool is used when present.
func String() string {
	return fmt.Sprintf("murmur %s (commit=%s, date=%s, go=%s)", Version, commit(), Date, runtime.Version())
}

func commit() string {
	if Commit != "none" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return Commit
}
