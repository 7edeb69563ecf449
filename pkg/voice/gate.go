package voice

import "sync/atomic"

// MuteGate controls whether captured microphone frames should be discarded.
// The capture fan-out consults the gate on its real-time path, so the
// implementation is a single atomic load.
type MuteGate interface {
	// SetMuted sets whether the microphone is logically muted.
	SetMuted(muted bool)

	// ShouldDiscardAudio returns true if microphone frames should be dropped.
	ShouldDiscardAudio() bool
}

// NewMuteGate creates a MuteGate that starts unmuted.
func NewMuteGate() MuteGate {
	return &defaultGate{}
}

type defaultGate struct {
	muted atomic.Bool
}

func (g *defaultGate) SetMuted(muted bool) {
	g.muted.Store(muted)
}

func (g *defaultGate) ShouldDiscardAudio() bool {
	return g.muted.Load()
}
