package plugin

import (
	"github.com/hearsay-ai/voiceloop/pkg/vad"
)

// newEnergyVAD builds the built-in energy detector from configuration.
func newEnergyVAD(cfg map[string]any) (any, error) {
	conf := vad.Config{}
	if threshold, ok := cfg["threshold"].(float64); ok {
		conf.EnergyThreshold = threshold
	}
	if frames, ok := cfg["speech_frames"].(float64); ok {
		conf.SpeechConfirmFrames = int(frames)
	} else if frames, ok := cfg["speech_frames"].(int); ok {
		conf.SpeechConfirmFrames = frames
	}
	if frames, ok := cfg["silence_frames"].(float64); ok {
		conf.SilenceConfirmFrames = int(frames)
	} else if frames, ok := cfg["silence_frames"].(int); ok {
		conf.SilenceConfirmFrames = frames
	}
	return vad.NewEnergyDetector(conf), nil
}

func init() {
	RegisterWithMetadata(&Plugin{
		Kind:        "vad",
		Name:        "energy",
		Factory:     newEnergyVAD,
		Description: "RMS energy detector with hysteresis, no model files required",
		Version:     "1.0.0",
		Config: map[string]any{
			"threshold":      vad.DefaultEnergyThreshold,
			"speech_frames":  vad.DefaultSpeechConfirmFrames,
			"silence_frames": vad.DefaultSilenceConfirmFrames,
		},
	})
}
