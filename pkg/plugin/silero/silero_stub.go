//go:build !silero

package silero

import (
	"fmt"

	"github.com/hearsay-ai/voiceloop/pkg/plugin"
)

// newSileroVAD reports the plugin as unavailable when the silero build tag
// is not set.
func newSileroVAD(cfg map[string]any) (any, error) {
	return nil, fmt.Errorf("silero VAD plugin not available (build with -tags=silero)")
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "vad",
		Name:        "silero",
		Factory:     newSileroVAD,
		Description: "Silero VAD (disabled, build with -tags=silero to enable)",
		Version:     "1.0.0",
		Config:      map[string]any{},
		Downloader:  &ModelDownloader{},
	})
}
