package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// Header holds the fields of a WAV header this package cares about.
type Header struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Reader reads 16-bit PCM WAV files.
type Reader struct {
	file   *os.File
	header Header
}

// NewReader opens a WAV file and parses its header.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	r := &Reader{file: file}
	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return r, nil
}

// Header returns the parsed header.
func (r *Reader) Header() Header { return r.header }

// ReadFrames reads the whole file as canonical audio frames. The file must
// already be mono 16 kHz 16-bit; this reader does not convert.
func (r *Reader) ReadFrames() ([]*rtc.AudioFrame, error) {
	if r.header.SampleRate != rtc.SampleRate || r.header.NumChannels != rtc.NumChannels || r.header.BitsPerSample != 16 {
		return nil, fmt.Errorf("not canonical audio: %dHz/%dch/%d-bit",
			r.header.SampleRate, r.header.NumChannels, r.header.BitsPerSample)
	}

	data, err := io.ReadAll(r.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV data: %w", err)
	}

	frameBytes := rtc.SamplesPerFrame * rtc.BytesPerSample
	var frames []*rtc.AudioFrame
	var offs int64
	for start := 0; start+frameBytes <= len(data); start += frameBytes {
		buf := make([]byte, frameBytes)
		copy(buf, data[start:start+frameBytes])
		frames = append(frames, &rtc.AudioFrame{
			Data:      buf,
			Samples:   rtc.SamplesPerFrame,
			Timestamp: time.Duration(offs) * time.Second / rtc.SampleRate,
		})
		offs += rtc.SamplesPerFrame
	}
	return frames, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Reader) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.file, riff[:]); err != nil {
		return err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a RIFF/WAVE file")
	}

	// Walk chunks until "data"; "fmt " fills the header.
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r.file, chunk[:]); err != nil {
			return err
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			var fmtData [16]byte
			if _, err := io.ReadFull(r.file, fmtData[:]); err != nil {
				return err
			}
			r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
			r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])
			if size > 16 {
				if _, err := r.file.Seek(int64(size-16), io.SeekCurrent); err != nil {
					return err
				}
			}
		case "data":
			r.header.DataSize = size
			return nil
		default:
			if _, err := r.file.Seek(int64(size), io.SeekCurrent); err != nil {
				return err
			}
		}
	}
}
