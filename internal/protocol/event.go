// ABOUTME: Versioned stream event union shared by every wire encoder.
// ABOUTME: Defines versions, finish reasons, usage and the sealed Event interface.

package protocol

import "fmt"

// Version identifies a wire protocol version. A run emits events of exactly one version.
type Version string

const (
	VersionDataStream Version = "data"
	VersionUIStream   Version = "sse"
)

// Mode is the client-selected output mode.
type Mode string

const (
	ModeDataStream Mode = "data"
	ModeUIStream   Mode = "sse"
	ModeText       Mode = "text"
)

// ParseMode maps a request selector to a Mode. An empty selector means the data stream.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDataStream:
		return ModeDataStream, nil
	case ModeUIStream:
		return ModeUIStream, nil
	case ModeText:
		return ModeText, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

// Version returns the event version produced for this mode.
func (m Mode) Version() Version {
	if m == ModeUIStream {
		return VersionUIStream
	}
	return VersionDataStream
}

// FinishReason explains why a step or a message ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

// Usage is token accounting carried on finish events.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Source is a citation surfaced to the client.
type Source struct {
	ID    string
	URL   string
	Title string
}

// Event is a single stream fragment. The set of implementations is closed:
// every variant lives in this package and must provide its wire payload.
type Event interface {
	Version() Version
	// payload returns the discriminator (a frame tag or an SSE type) and the JSON body.
	payload() (string, any)
}
