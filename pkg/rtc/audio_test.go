package rtc

import (
	"testing"
	"time"
)

func TestNewAudioFrame(t *testing.T) {
	tests := []struct {
		name      string
		dataLen   int
		samples   int
		expectErr bool
	}{
		{"canonical frame", SamplesPerFrame * 2, SamplesPerFrame, false},
		{"short tail frame", 640, 320, false},
		{"length mismatch", 100, 1024, true},
		{"odd byte count", 2047, 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := NewAudioFrame(make([]byte, tt.dataLen), tt.samples, 0)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frame.Samples != tt.samples {
				t.Errorf("samples = %d, want %d", frame.Samples, tt.samples)
			}
		})
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	frame, err := NewAudioFrame(make([]byte, SamplesPerFrame*2), SamplesPerFrame, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := 64 * time.Millisecond
	if frame.Duration() != want {
		t.Errorf("duration = %v, want %v", frame.Duration(), want)
	}
}

func TestAudioFrame_Clone(t *testing.T) {
	data := make([]byte, 640)
	data[0] = 0x34
	data[1] = 0x12
	frame, err := NewAudioFrame(data, 320, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	clone := frame.Clone()
	clone.Data[0] = 0xFF

	if frame.Data[0] != 0x34 {
		t.Error("clone mutation leaked into original frame")
	}
	if clone.Samples != frame.Samples || clone.Timestamp != frame.Timestamp {
		t.Error("clone metadata differs from original")
	}
	if frame.Sample(0) != 0x1234 {
		t.Errorf("sample decode = %#x, want 0x1234", frame.Sample(0))
	}
}
