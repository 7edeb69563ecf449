// Package silero provides a voice activity detector backed by the Silero
// ONNX model. The detector requires the silero build tag; without it the
// package registers a stub that reports the plugin as unavailable. The
// model downloader is available in both configurations.
package silero

import (
	"os"
	"path/filepath"
)

const (
	// ModelFileName is the expected ONNX model file name.
	ModelFileName = "silero_vad.onnx"

	// DefaultThreshold is the speech probability threshold.
	DefaultThreshold = 0.5

	// windowSamples is the model's fixed analysis window at 16 kHz.
	windowSamples = 512

	// stateSize is the flattened recurrent state shape [2, 1, 128].
	stateSize = 2 * 1 * 128
)

// defaultModelPath returns where the model file is expected on disk.
func defaultModelPath() string {
	modelDir := os.Getenv("VOICELOOP_MODEL_PATH")
	if modelDir == "" {
		homeDir, _ := os.UserHomeDir()
		modelDir = filepath.Join(homeDir, ".voiceloop", "models")
	}
	return filepath.Join(modelDir, ModelFileName)
}
