package audio

import (
	"math"
	"testing"
)

func TestDownmixMono(t *testing.T) {
	tests := []struct {
		name     string
		src      []float32
		channels int
		want     []float32
	}{
		{"mono passthrough", []float32{0.1, 0.2, 0.3}, 1, []float32{0.1, 0.2, 0.3}},
		{"stereo average", []float32{0.2, 0.4, -1.0, 1.0}, 2, []float32{0.3, 0}},
		{"four channel", []float32{0.4, 0.4, 0.4, 0.4}, 4, []float32{0.4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := downmixMono(tt.src, tt.channels, nil)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPCM16FromFloat(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1.0, 32767},
		{-1.0, -32767},
		{2.5, 32767},  // clamped
		{-3.0, -32767}, // clamped
		{0.5, 16383},
	}
	for _, tt := range tests {
		if got := pcm16FromFloat(tt.in); got != tt.want {
			t.Errorf("pcm16FromFloat(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// A 48 kHz input must yield one output sample per three input samples,
// within one sample of rounding, regardless of how the input is chunked.
func TestLinearResampler_RateRatio(t *testing.T) {
	tests := []struct {
		name      string
		srcRate   int
		total     int
		chunkSize int
	}{
		{"48k single buffer", 48000, 4800, 4800},
		{"48k small chunks", 48000, 4800, 480},
		{"48k odd chunks", 48000, 4800, 331},
		{"44.1k chunks", 44100, 4410, 441},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newLinearResampler(tt.srcRate, 16000)
			src := make([]float32, tt.total)
			for i := range src {
				src[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / float64(tt.srcRate)))
			}

			var out []float32
			for start := 0; start < len(src); start += tt.chunkSize {
				end := start + tt.chunkSize
				if end > len(src) {
					end = len(src)
				}
				out = r.resample(src[start:end], out)
			}

			want := int(math.Ceil(float64(tt.total) * 16000 / float64(tt.srcRate)))
			if len(out) < want-2 || len(out) > want+1 {
				t.Errorf("output samples = %d, want %d (±1)", len(out), want)
			}
		})
	}
}

// Chunked and single-buffer resampling of the same stream must agree:
// interpolation state carries across buffer boundaries.
func TestLinearResampler_ContinuityAcrossBuffers(t *testing.T) {
	src := make([]float32, 960)
	for i := range src {
		src[i] = float32(i) / float32(len(src))
	}

	whole := newLinearResampler(48000, 16000).resample(src, nil)

	r := newLinearResampler(48000, 16000)
	var chunked []float32
	for start := 0; start < len(src); start += 100 {
		end := start + 100
		if end > len(src) {
			end = len(src)
		}
		chunked = r.resample(src[start:end], chunked)
	}

	n := len(whole)
	if len(chunked) < n {
		n = len(chunked)
	}
	for i := 0; i < n; i++ {
		if math.Abs(float64(whole[i]-chunked[i])) > 1e-5 {
			t.Fatalf("sample %d diverges: whole=%v chunked=%v", i, whole[i], chunked[i])
		}
	}
}

func TestLinearResampler_Passthrough(t *testing.T) {
	r := newLinearResampler(16000, 16000)
	src := []float32{0.1, 0.2, 0.3}
	out := r.resample(src, nil)
	if len(out) != 3 || out[0] != 0.1 || out[2] != 0.3 {
		t.Errorf("passthrough mangled samples: %v", out)
	}
}
