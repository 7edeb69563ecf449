package silero

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// modelURL is the published Silero VAD model (~1.7 MB, MIT-licensed repo).
const modelURL = "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"

// ModelDownloader fetches the Silero VAD model file.
type ModelDownloader struct{}

// Download fetches the model if it is not already on disk.
func (d *ModelDownloader) Download() error {
	modelPath := defaultModelPath()

	if err := os.MkdirAll(filepath.Dir(modelPath), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	if _, err := os.Stat(modelPath); err == nil {
		slog.Info("silero model already exists", slog.String("model_path", modelPath))
		return nil
	}

	slog.Info("downloading silero model",
		slog.String("url", modelURL), slog.String("model_path", modelPath))
	if err := downloadFromURL(modelURL, modelPath); err != nil {
		return err
	}
	slog.Info("silero model downloaded", slog.String("model_path", modelPath))
	return nil
}

// downloadFromURL writes the response body to a temp file and renames it
// into place, so a failed download never leaves a truncated model behind.
func downloadFromURL(url, filePath string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download from %s: HTTP %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ModelFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	return os.Rename(tmp.Name(), filePath)
}
