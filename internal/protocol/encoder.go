// ABOUTME: Wire encoders for framed-line, server-sent and text-only output.
// ABOUTME: Encoders return an empty string for events of a foreign version.

package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Encoder renders events for one output mode.
type Encoder interface {
	// Encode returns the wire text for ev, or "" if ev is not part of this mode.
	Encode(ev Event) (string, error)
	// SetHeaders writes the response headers for this mode.
	SetHeaders(h http.Header)
	// Terminator is written once after the last event.
	Terminator() string
}

// NewEncoder returns the encoder for a mode.
func NewEncoder(m Mode) Encoder {
	switch m {
	case ModeUIStream:
		return SSEEncoder{}
	case ModeText:
		return TextEncoder{}
	default:
		return FramedEncoder{}
	}
}

// FramedEncoder writes data stream events as "<tag>:<json>\n".
type FramedEncoder struct{}

func (FramedEncoder) Encode(ev Event) (string, error) {
	if ev == nil || ev.Version() != VersionDataStream {
		return "", nil
	}
	tag, body := ev.payload()
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding %s frame: %w", tag, err)
	}
	return tag + ":" + string(b) + "\n", nil
}

func (FramedEncoder) SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Vercel-AI-Data-Stream", "v1")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

func (FramedEncoder) Terminator() string { return "" }

// SSEEncoder writes UI stream events as `data: {...}\n\n`.
type SSEEncoder struct{}

// DoneMarker terminates a UI message stream.
const DoneMarker = "data: [DONE]\n\n"

func (SSEEncoder) Encode(ev Event) (string, error) {
	if ev == nil || ev.Version() != VersionUIStream {
		return "", nil
	}
	typ, body := ev.payload()
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding %s chunk: %w", typ, err)
	}
	return "data: " + string(b) + "\n\n", nil
}

func (SSEEncoder) SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
}

func (SSEEncoder) Terminator() string { return DoneMarker }

// TextEncoder writes only the literal text of text deltas.
type TextEncoder struct{}

func (TextEncoder) Encode(ev Event) (string, error) {
	switch e := ev.(type) {
	case TextPart:
		return e.Text, nil
	case TextDelta:
		return e.Delta, nil
	default:
		return "", nil
	}
}

func (TextEncoder) SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

func (TextEncoder) Terminator() string { return "" }
