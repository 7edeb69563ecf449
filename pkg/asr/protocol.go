package asr

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// InboundKind classifies a decoded control message.
type InboundKind int

const (
	InboundIgnored InboundKind = iota
	InboundReady
	InboundPartial
	InboundFinal
	InboundError
)

// Inbound is a protocol-neutral control message.
type Inbound struct {
	Kind    InboundKind
	Text    string // transcript text for partial/final
	Message string // server message for errors
}

// Protocol adapts the channel to a recognition backend's wire vocabulary.
// The audio leg is identical across backends (binary 16 kHz mono 16-bit
// PCM); only authentication and the control-event vocabulary differ.
type Protocol interface {
	Name() string

	// Query returns the query parameters to append to the endpoint URL.
	Query(token string) url.Values

	// Decode parses one inbound text message. Unrecognized events decode
	// to InboundIgnored, never to an error: malformed traffic must not
	// kill the channel.
	Decode(data []byte) (Inbound, error)
}

// BearerProtocol is the primary backend vocabulary: token auth, events
// asr_ready / asr_partial / asr_final / error.
type BearerProtocol struct{}

func (BearerProtocol) Name() string { return "bearer" }

func (BearerProtocol) Query(token string) url.Values {
	return url.Values{"token": {token}}
}

func (BearerProtocol) Decode(data []byte) (Inbound, error) {
	var msg struct {
		Event   string `json:"event"`
		Text    string `json:"text"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("malformed control message: %w", err)
	}
	switch msg.Event {
	case "asr_ready":
		return Inbound{Kind: InboundReady}, nil
	case "asr_partial":
		return Inbound{Kind: InboundPartial, Text: msg.Text}, nil
	case "asr_final":
		return Inbound{Kind: InboundFinal, Text: msg.Text}, nil
	case "error":
		return Inbound{Kind: InboundError, Message: msg.Message}, nil
	default:
		return Inbound{Kind: InboundIgnored}, nil
	}
}

// QueryKeyProtocol is the secondary backend vocabulary: api_key,
// sample_rate and format query parameters, events task_started / result /
// sentence_end / error. result carries interim text; sentence_end commits
// the utterance.
type QueryKeyProtocol struct{}

func (QueryKeyProtocol) Name() string { return "query_key" }

func (QueryKeyProtocol) Query(token string) url.Values {
	return url.Values{
		"api_key":     {token},
		"sample_rate": {strconv.Itoa(rtc.SampleRate)},
		"format":      {"pcm"},
	}
}

func (QueryKeyProtocol) Decode(data []byte) (Inbound, error) {
	var msg struct {
		Event   string `json:"event"`
		Text    string `json:"text"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("malformed control message: %w", err)
	}
	switch msg.Event {
	case "task_started":
		return Inbound{Kind: InboundReady}, nil
	case "result":
		return Inbound{Kind: InboundPartial, Text: msg.Text}, nil
	case "sentence_end":
		return Inbound{Kind: InboundFinal, Text: msg.Text}, nil
	case "error":
		return Inbound{Kind: InboundError, Message: msg.Message}, nil
	default:
		return Inbound{Kind: InboundIgnored}, nil
	}
}

// ProtocolByName resolves a configured protocol name.
func ProtocolByName(name string) (Protocol, error) {
	switch name {
	case "", "bearer":
		return BearerProtocol{}, nil
	case "query_key":
		return QueryKeyProtocol{}, nil
	default:
		return nil, fmt.Errorf("unknown recognition protocol %q", name)
	}
}
