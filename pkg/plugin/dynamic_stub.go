//go:build !plugindyn || !linux

package plugin

import (
	"errors"
	"log/slog"
)

// DefaultExternalDir is where LoadExternal looks when neither a directory
// nor VOICELOOP_PLUGIN_PATH is given.
const DefaultExternalDir = "/usr/local/lib/voiceloop/plugins"

// LoadExternal is unavailable without the plugindyn build tag; Go's plugin
// package only works on Linux with matching toolchain versions.
func LoadExternal(dir string, logger *slog.Logger) (int, error) {
	return 0, errors.New("external plugin loading requires a linux build with -tags=plugindyn")
}
