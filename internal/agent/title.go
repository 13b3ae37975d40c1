// ABOUTME: Background conversation title generation.
// ABOUTME: Runs after a turn is persisted and never affects the turn's outcome.

package agent

import (
	"context"
	"strings"
	"time"

	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transcript"
)

const (
	titleTimeout  = 30 * time.Second
	maxTitleRunes = 80
)

// maybeGenerateTitle starts title generation on the turn that reaches the
// threshold, or on a later turn while the conversation is still untitled.
// Titles chosen by hand are never replaced.
func (o *Orchestrator) maybeGenerateTitle(conv *store.Conversation, turn *Turn) {
	if !o.cfg.TitlesEnabled || conv.TitleLocked {
		return
	}
	if !titleDue(transcript.CountUserTurns(conv.UIMessages)+1, o.cfg.TitleAfterUserTurns, conv.Title) {
		return
	}

	history := withLatest(conv.UIMessages, turn.user)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := o.generateTitle(ctx, turn.model, history)
		if err != nil {
			o.logger.Warn("title generation failed", "conversation_id", conv.ID, "error", err)
			return
		}
		if title == "" {
			return
		}
		if err := o.store.SetTitle(ctx, conv.ID, title); err != nil {
			o.logger.Warn("saving title failed", "conversation_id", conv.ID, "error", err)
			return
		}
		o.logger.Debug("conversation titled", "conversation_id", conv.ID, "title", title)
	}()
}

func titleDue(userTurns, after int, title string) bool {
	return userTurns == after || (userTurns > after && title == "")
}

func withLatest(history []transcript.UIMessage, latest transcript.UIMessage) []transcript.UIMessage {
	out := make([]transcript.UIMessage, 0, len(history)+1)
	out = append(out, history...)
	return append(out, latest)
}

func (o *Orchestrator) generateTitle(ctx context.Context, model llm.Model, history []transcript.UIMessage) (string, error) {
	var sb strings.Builder
	for _, m := range history {
		if m.Role != transcript.RoleUser && m.Role != transcript.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(uiText(m))
		if text == "" {
			continue
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	resp, err := model.Request(ctx, llm.Request{
		Instructions: o.prompts.Title,
		Messages: []transcript.ModelMessage{&transcript.ModelRequest{Parts: []transcript.RequestPart{
			transcript.UserPromptPart{Content: []transcript.ContentItem{transcript.TextItem(sb.String())}, Timestamp: time.Now().UTC()},
		}}},
	})
	if err != nil {
		return "", err
	}
	return cleanTitle(resp.Text()), nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	s = strings.TrimRight(s, ".!")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes])
	}
	return strings.TrimSpace(s)
}

func uiText(m transcript.UIMessage) string {
	var texts []string
	for _, p := range m.Parts {
		if t, ok := p.(transcript.TextUIPart); ok {
			texts = append(texts, t.Text)
		}
	}
	if len(texts) == 0 {
		return m.Content
	}
	return strings.Join(texts, "\n")
}
