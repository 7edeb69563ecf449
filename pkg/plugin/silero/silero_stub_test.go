//go:build !silero

package silero

import (
	"strings"
	"testing"

	"github.com/hearsay-ai/voiceloop/pkg/plugin"
)

func TestStubRegistersButRefusesConstruction(t *testing.T) {
	p, ok := plugin.Lookup("vad", "silero")
	if !ok {
		t.Fatal("silero plugin not registered")
	}
	if p.Downloader == nil {
		t.Error("downloader should be available without the build tag")
	}

	_, err := p.Factory(nil)
	if err == nil {
		t.Fatal("stub factory should fail")
	}
	if !strings.Contains(err.Error(), "-tags=silero") {
		t.Errorf("error should point at the build tag, got %q", err)
	}
}
