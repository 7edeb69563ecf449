package asr

import (
	"strconv"
	"testing"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

func TestBearerProtocolDecode(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Inbound
	}{
		{"ready", `{"event":"asr_ready"}`, Inbound{Kind: InboundReady}},
		{"partial", `{"event":"asr_partial","text":"hel"}`, Inbound{Kind: InboundPartial, Text: "hel"}},
		{"final", `{"event":"asr_final","text":"hello"}`, Inbound{Kind: InboundFinal, Text: "hello"}},
		{"error", `{"event":"error","message":"overloaded"}`, Inbound{Kind: InboundError, Message: "overloaded"}},
		{"unknown event ignored", `{"event":"heartbeat"}`, Inbound{Kind: InboundIgnored}},
	}
	p := BearerProtocol{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Decode([]byte(tc.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Errorf("Decode(%s) = %+v, want %+v", tc.data, got, tc.want)
			}
		})
	}

	if _, err := p.Decode([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestQueryKeyProtocolDecode(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Inbound
	}{
		{"ready", `{"event":"task_started"}`, Inbound{Kind: InboundReady}},
		{"interim", `{"event":"result","text":"turn"}`, Inbound{Kind: InboundPartial, Text: "turn"}},
		{"commit", `{"event":"sentence_end","text":"turn it off"}`, Inbound{Kind: InboundFinal, Text: "turn it off"}},
		{"error", `{"event":"error","message":"bad key"}`, Inbound{Kind: InboundError, Message: "bad key"}},
		{"unknown event ignored", `{"event":"usage"}`, Inbound{Kind: InboundIgnored}},
	}
	p := QueryKeyProtocol{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Decode([]byte(tc.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Errorf("Decode(%s) = %+v, want %+v", tc.data, got, tc.want)
			}
		})
	}
}

func TestProtocolQueries(t *testing.T) {
	q := BearerProtocol{}.Query("secret")
	if q.Get("token") != "secret" {
		t.Errorf("bearer token = %q", q.Get("token"))
	}

	q = QueryKeyProtocol{}.Query("key123")
	if q.Get("api_key") != "key123" {
		t.Errorf("api_key = %q", q.Get("api_key"))
	}
	if q.Get("sample_rate") != strconv.Itoa(rtc.SampleRate) {
		t.Errorf("sample_rate = %q", q.Get("sample_rate"))
	}
	if q.Get("format") != "pcm" {
		t.Errorf("format = %q", q.Get("format"))
	}
}

func TestProtocolByName(t *testing.T) {
	for name, want := range map[string]string{
		"":          "bearer",
		"bearer":    "bearer",
		"query_key": "query_key",
	} {
		p, err := ProtocolByName(name)
		if err != nil {
			t.Fatalf("ProtocolByName(%q): %v", name, err)
		}
		if p.Name() != want {
			t.Errorf("ProtocolByName(%q).Name() = %q, want %q", name, p.Name(), want)
		}
	}
	if _, err := ProtocolByName("carrier_pigeon"); err == nil {
		t.Error("expected error for unknown protocol")
	}
}
