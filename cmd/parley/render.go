// ABOUTME: Terminal rendering of a framed-line data stream
// ABOUTME: Prints text inline and shows tools, sources, errors and the finish reason in color

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/protocol"
)

const maxResultPreview = 200

var errTurnFailed = errors.New("turn failed")

type renderer struct {
	out       io.Writer
	reasoning bool

	midLine bool
	sources int
	failure string
	finish  *protocol.FinishMessagePart
}

// consume renders every frame until the stream ends.
func (r *renderer) consume(body io.Reader) error {
	sc := streamScanner(body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		ev, err := protocol.ParseFrame(line)
		if err != nil {
			return fmt.Errorf("decoding stream: %w", err)
		}
		r.render(ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	r.newline()
	return nil
}

func (r *renderer) render(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.TextPart:
		fmt.Fprint(r.out, e.Text)
		if e.Text != "" {
			r.midLine = !strings.HasSuffix(e.Text, "\n")
		}
	case protocol.ReasoningPart:
		if r.reasoning {
			color.New(color.FgHiBlack).Fprint(r.out, e.Text)
			r.midLine = e.Text != "" && !strings.HasSuffix(e.Text, "\n")
		}
	case protocol.ToolCallStartPart:
		r.newline()
		color.New(color.FgYellow).Fprintf(r.out, "→ %s ", e.ToolName)
		r.midLine = true
	case protocol.ToolCallDeltaPart:
		color.New(color.FgYellow).Fprint(r.out, e.ArgsTextDelta)
		r.midLine = true
	case protocol.ToolCallPart:
		r.line(color.New(color.FgYellow), "→ %s %s", e.ToolName, compact(e.Args))
	case protocol.ToolResultPart:
		result, _ := json.Marshal(e.Result)
		r.line(color.New(color.FgYellow), "← %s", preview(compact(result)))
	case protocol.SourcePart:
		r.sources++
		title := e.Source.Title
		if title == "" {
			title = e.Source.URL
		}
		r.line(color.New(color.FgCyan), "[%d] %s %s", r.sources, title, e.Source.URL)
	case protocol.ErrorPart:
		r.failure = e.Message
		r.line(color.New(color.FgRed, color.Bold), "error: %s", e.Message)
	case protocol.FinishMessagePart:
		r.finish = &e
		r.line(color.New(color.FgHiBlack), "finish: %s (prompt %d, completion %d tokens)",
			e.FinishReason, e.Usage.PromptTokens, e.Usage.CompletionTokens)
	}
}

// err reports whether the turn ended badly.
func (r *renderer) err() error {
	switch {
	case r.failure != "":
		return fmt.Errorf("%w: %s", errTurnFailed, r.failure)
	case r.finish == nil:
		return fmt.Errorf("%w: stream ended without a finish event", errTurnFailed)
	case r.finish.FinishReason == protocol.FinishError:
		return errTurnFailed
	default:
		return nil
	}
}

func (r *renderer) line(c *color.Color, format string, args ...any) {
	r.newline()
	c.Fprintf(r.out, format+"\n", args...)
}

func (r *renderer) newline() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func compact(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "{}"
	}
	return s
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= maxResultPreview {
		return s
	}
	return string(runes[:maxResultPreview]) + "…"
}
