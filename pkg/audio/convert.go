package audio

import "math"

// downmixMono averages interleaved channels into mono, appending to dst.
// channels == 1 copies straight through.
func downmixMono(src []float32, channels int, dst []float32) []float32 {
	if channels <= 1 {
		return append(dst, src...)
	}
	frames := len(src) / channels
	inv := 1.0 / float32(channels)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += src[base+ch]
		}
		dst = append(dst, sum*inv)
	}
	return dst
}

// pcm16FromFloat clamps s to [-1, 1] and scales to the int16 range.
func pcm16FromFloat(s float32) int16 {
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int16(s * 32767)
}

// linearResampler converts a stream of mono float samples from the source
// rate to the destination rate by linear interpolation. State carries over
// between buffers so the output is continuous across callback boundaries.
type linearResampler struct {
	step   float64 // source samples advanced per output sample
	pos    float64 // fractional read position; -1 addresses last
	last   float32 // final sample of the previous buffer
	primed bool
}

func newLinearResampler(srcRate, dstRate int) *linearResampler {
	return &linearResampler{step: float64(srcRate) / float64(dstRate)}
}

// resample consumes src and appends interpolated output samples to dst.
// Pass-through when the rates match.
func (r *linearResampler) resample(src []float32, dst []float32) []float32 {
	if r.step == 1 {
		return append(dst, src...)
	}
	if len(src) == 0 {
		return dst
	}
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= len(src) {
			// read position needs the next buffer
			break
		}
		frac := float32(r.pos - float64(i))
		var s0 float32
		switch {
		case i >= 0:
			s0 = src[i]
		case r.primed:
			s0 = r.last
		default:
			s0 = src[0]
		}
		dst = append(dst, s0+frac*(src[i+1]-s0))
		r.pos += r.step
	}
	r.last = src[len(src)-1]
	r.primed = true
	r.pos -= float64(len(src))
	return dst
}
