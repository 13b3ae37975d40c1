// ABOUTME: Decoding of framed data stream lines back into tags and typed events.
// ABOUTME: Used by the CLI client and by round-trip tests.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedFrame is returned for lines that are not "<tag>:<json>".
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeFrame splits a framed line into its tag and JSON body.
func DecodeFrame(line string) (string, json.RawMessage, error) {
	line = strings.TrimRight(line, "\r\n")
	tag, body, ok := strings.Cut(line, ":")
	if !ok || tag == "" {
		return "", nil, ErrMalformedFrame
	}
	if !json.Valid([]byte(body)) {
		return "", nil, fmt.Errorf("%w: invalid json after tag %q", ErrMalformedFrame, tag)
	}
	return tag, json.RawMessage(body), nil
}

// ParseFrame decodes a framed line into its data stream event.
func ParseFrame(line string) (Event, error) {
	tag, body, err := DecodeFrame(line)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagText:
		var s string
		err = json.Unmarshal(body, &s)
		return TextPart{Text: s}, err
	case TagReasoning:
		var s string
		err = json.Unmarshal(body, &s)
		return ReasoningPart{Text: s}, err
	case TagError:
		var s string
		err = json.Unmarshal(body, &s)
		return ErrorPart{Message: s}, err
	case TagData:
		var v []any
		err = json.Unmarshal(body, &v)
		return DataPart{Values: v}, err
	case TagSource:
		var s sourceBody
		err = json.Unmarshal(body, &s)
		return SourcePart{Source: Source{ID: s.ID, URL: s.URL, Title: s.Title}}, err
	case TagToolCallStart:
		var e ToolCallStartPart
		err = json.Unmarshal(body, &e)
		return e, err
	case TagToolCallDelta:
		var e ToolCallDeltaPart
		err = json.Unmarshal(body, &e)
		return e, err
	case TagToolCall:
		var e ToolCallPart
		err = json.Unmarshal(body, &e)
		return e, err
	case TagToolResult:
		var e ToolResultPart
		err = json.Unmarshal(body, &e)
		return e, err
	case TagStartStep:
		var e StartStepPart
		err = json.Unmarshal(body, &e)
		return e, err
	case TagFinishStep:
		var e FinishStepPart
		err = json.Unmarshal(body, &e)
		return e, err
	case TagFinish:
		var e FinishMessagePart
		err = json.Unmarshal(body, &e)
		return e, err
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformedFrame, tag)
	}
}
