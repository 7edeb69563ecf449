// Package fake registers the scripted voice activity detector with the
// plugin registry, for wiring tests and demos by name.
package fake

import (
	"github.com/hearsay-ai/voiceloop/pkg/plugin"
	vadfake "github.com/hearsay-ai/voiceloop/pkg/vad/fake"
)

func newFakeVAD(cfg map[string]any) (any, error) {
	return vadfake.NewDetector(), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "vad",
		Name:        "fake",
		Factory:     newFakeVAD,
		Description: "Scripted detector for tests; events are queued by the caller",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})
}
