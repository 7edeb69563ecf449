// Package version exposes build identification for the voiceloop binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time via -ldflags "-X ...". When left empty the
// commit is read from the build info the Go toolchain embeds for VCS
// checkouts.
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// GetVersionInfo renders a one-line description of this build.
func GetVersionInfo() string {
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		commit = "unknown"
	}
	info := fmt.Sprintf("voiceloop %s (commit %s, %s", Version, commit, runtime.Version())
	if BuildTime != "" {
		info += ", built " + BuildTime
	}
	return info + ")"
}

// vcsRevision returns the short embedded VCS revision, suffixed with -dirty
// for builds from a modified working tree.
func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
