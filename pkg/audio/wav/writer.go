// Package wav provides minimal WAV file support for debug recordings of the
// capture pipeline and for feeding canned audio through tests and tools.
package wav

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// Writer writes 16-bit PCM WAV files.
type Writer struct {
	file          *os.File
	sampleRate    uint32
	numChannels   uint16
	bitsPerSample uint16
	bytesWritten  uint32
}

// NewWriter creates a WAV file writer. The header is finalized on Close.
func NewWriter(filename string, sampleRate uint32, numChannels uint16) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w := &Writer{
		file:          file,
		sampleRate:    sampleRate,
		numChannels:   numChannels,
		bitsPerSample: 16,
	}
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// NewCanonicalWriter creates a writer for canonical capture audio
// (mono, 16 kHz).
func NewCanonicalWriter(filename string) (*Writer, error) {
	return NewWriter(filename, rtc.SampleRate, rtc.NumChannels)
}

// WriteFrame appends one canonical audio frame.
func (w *Writer) WriteFrame(frame *rtc.AudioFrame) error {
	return w.Write(frame.Data)
}

// Write appends raw 16-bit little-endian PCM bytes.
func (w *Writer) Write(pcm []byte) error {
	if w.file == nil {
		return fmt.Errorf("WAV writer is closed")
	}
	if _, err := w.file.Write(pcm); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.bytesWritten += uint32(len(pcm))
	return nil
}

// Close finalizes the WAV header with the actual data size.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	chunkSize := w.bytesWritten + 36
	if _, err := w.file.Seek(4, 0); err != nil {
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, chunkSize); err != nil {
		return fmt.Errorf("failed to write chunk size: %w", err)
	}
	if _, err := w.file.Seek(40, 0); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.bytesWritten); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) writeHeader() error {
	byteRate := w.sampleRate * uint32(w.numChannels) * uint32(w.bitsPerSample) / 8
	blockAlign := w.numChannels * w.bitsPerSample / 8

	if _, err := w.file.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(0)); err != nil { // patched on Close
		return err
	}
	if _, err := w.file.WriteString("WAVE"); err != nil {
		return err
	}
	if _, err := w.file.WriteString("fmt "); err != nil {
		return err
	}
	for _, v := range []any{
		uint32(16),        // fmt chunk size
		uint16(1),         // PCM
		w.numChannels,
		w.sampleRate,
		byteRate,
		blockAlign,
		w.bitsPerSample,
	} {
		if err := binary.Write(w.file, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.file.WriteString("data"); err != nil {
		return err
	}
	return binary.Write(w.file, binary.LittleEndian, uint32(0)) // patched on Close
}
