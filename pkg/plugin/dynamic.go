//go:build plugindyn && linux

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
)

// DefaultExternalDir is where LoadExternal looks when neither a directory
// nor VOICELOOP_PLUGIN_PATH is given.
const DefaultExternalDir = "/usr/local/lib/voiceloop/plugins"

// LoadExternal opens every .so file under dir and invokes its exported
//
//	func RegisterDetectors() error
//
// which is expected to call Register or RegisterWithMetadata. dir falls back
// to VOICELOOP_PLUGIN_PATH, then DefaultExternalDir; a missing directory is
// not an error. Returns the number of shared objects loaded.
//
// Only available on Linux builds with the plugindyn tag, since Go's plugin
// package requires matching toolchain and dependency versions between the
// host binary and the shared object.
func LoadExternal(dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = os.Getenv("VOICELOOP_PLUGIN_PATH")
	}
	if dir == "" {
		dir = DefaultExternalDir
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read plugin directory %s: %w", dir, err)
	}

	var soFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".so" {
			soFiles = append(soFiles, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(soFiles) // deterministic registration order

	for _, path := range soFiles {
		if err := loadExternalObject(path); err != nil {
			return 0, err
		}
		logger.Info("external plugin loaded", slog.String("file", path))
	}
	return len(soFiles), nil
}

func loadExternalObject(path string) error {
	so, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	sym, err := so.Lookup("RegisterDetectors")
	if err != nil {
		return fmt.Errorf("%s does not export RegisterDetectors: %w", path, err)
	}
	register, ok := sym.(func() error)
	if !ok {
		return fmt.Errorf("%s: RegisterDetectors must be func() error, is %T", path, sym)
	}
	if err := register(); err != nil {
		return fmt.Errorf("%s: registration failed: %w", path, err)
	}
	return nil
}
