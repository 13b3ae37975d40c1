// ABOUTME: Tests for UI <-> structured transcript conversion.
// ABOUTME: Covers step splitting, tool results, rejected parts and turn counting.

package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToModelMessages_AssistantStepsSplitAtStepStart(t *testing.T) {
	c := Converter{StoragePrefix: "/files/"}
	ui := []UIMessage{
		{ID: "u1", Role: RoleUser, Parts: UIParts{TextUIPart{Text: "find go news"}}},
		{ID: "a1", Role: RoleAssistant, Parts: UIParts{
			StepStartUIPart{},
			ToolInvocationUIPart{ToolInvocation: ToolInvocation{
				State: StateResult, ToolCallID: "c1", ToolName: "web_search",
				Args: json.RawMessage(`{"query":"go"}`), Result: json.RawMessage(`{"results":[]}`),
			}},
			StepStartUIPart{},
			TextUIPart{Text: "Nothing new."},
			SourceUIPart{Source: Source{SourceType: "url", ID: "s1", URL: "https://go.dev"}},
		}},
	}

	msgs, err := c.ToModelMessages(ui)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	req := msgs[0].(*ModelRequest)
	assert.Equal(t, "find go news", req.Parts[0].(UserPromptPart).Text())

	call := msgs[1].(*ModelResponse)
	require.Len(t, call.ToolCalls(), 1)
	assert.Equal(t, "web_search", call.ToolCalls()[0].ToolName)

	ret := msgs[2].(*ModelRequest).Parts[0].(ToolReturnPart)
	assert.Equal(t, "c1", ret.ToolCallID)
	assert.JSONEq(t, `{"results":[]}`, string(ret.Content))

	assert.Equal(t, "Nothing new.", msgs[3].(*ModelResponse).Text())
	assert.Equal(t, CountUserTurns(ui), CountUserPrompts(msgs))
}

func TestToModelMessages_RejectsSourceInUserMessage(t *testing.T) {
	_, err := Converter{}.ToModelMessages([]UIMessage{{
		Role:  RoleUser,
		Parts: UIParts{TextUIPart{Text: "hi"}, SourceUIPart{Source: Source{URL: "https://x"}}},
	}})
	assert.ErrorIs(t, err, ErrUnsupportedPart)

	_, err = Converter{}.ToModelMessages([]UIMessage{{
		Role:  RoleUser,
		Parts: UIParts{StepStartUIPart{}},
	}})
	assert.ErrorIs(t, err, ErrUnsupportedPart)
}

func TestToUIMessages_FoldsStepsIntoOneAssistantMessage(t *testing.T) {
	msgs := []ModelMessage{
		&ModelRequest{Parts: []RequestPart{SystemPromptPart{Content: "be nice"}, UserPromptPart{Content: []ContentItem{TextItem("hi")}}}},
		&ModelResponse{Parts: []ResponsePart{ToolCallPart{ToolName: "web_search", ToolCallID: "c1", Args: json.RawMessage(`{}`)}}},
		&ModelRequest{Parts: []RequestPart{ToolReturnPart{ToolName: "web_search", ToolCallID: "c1", Content: json.RawMessage(`"ok"`)}}},
		&ModelResponse{Parts: []ResponsePart{ThinkingPart{Content: "hmm"}, TextPart{Content: "Hello"}}},
	}

	ui, err := Converter{}.ToUIMessages(msgs)
	require.NoError(t, err)
	require.Len(t, ui, 2)

	assert.Equal(t, RoleUser, ui[0].Role)
	assert.Equal(t, "hi", ui[0].Content)

	a := ui[1]
	assert.Equal(t, RoleAssistant, a.Role)
	assert.Equal(t, "Hello", a.Content)
	require.Len(t, a.Parts, 5)
	assert.Equal(t, StepStartUIPart{}, a.Parts[0])
	inv := a.Parts[1].(ToolInvocationUIPart).ToolInvocation
	assert.Equal(t, StateResult, inv.State)
	assert.JSONEq(t, `"ok"`, string(inv.Result))
	assert.Equal(t, StepStartUIPart{}, a.Parts[2])
	assert.Equal(t, ReasoningUIPart{Reasoning: "hmm"}, a.Parts[3])
}

func TestConverter_RoundTripAssistant(t *testing.T) {
	c := Converter{}
	original := []ModelMessage{
		&ModelRequest{Parts: []RequestPart{UserPromptPart{Content: []ContentItem{TextItem("q")}}}},
		&ModelResponse{Parts: []ResponsePart{ToolCallPart{ToolName: "t", ToolCallID: "1", Args: json.RawMessage(`{"a":1}`)}}},
		&ModelRequest{Parts: []RequestPart{ToolReturnPart{ToolName: "t", ToolCallID: "1", Content: json.RawMessage(`2`)}}},
		&ModelResponse{Parts: []ResponsePart{TextPart{Content: "answer"}}},
	}

	ui, err := c.ToUIMessages(original)
	require.NoError(t, err)
	back, err := c.ToModelMessages(ui)
	require.NoError(t, err)

	require.Len(t, back, len(original))
	for i := range original {
		assert.Equal(t, original[i].Kind(), back[i].Kind())
	}
	assert.Equal(t, "answer", back[3].(*ModelResponse).Text())
}

func TestUserPrompt_Attachments(t *testing.T) {
	c := Converter{StoragePrefix: "/files/"}
	m := UIMessage{
		Role:  RoleUser,
		Parts: UIParts{TextUIPart{Text: "summarize"}},
		Attachments: []Attachment{
			{Name: "a.pdf", ContentType: "application/pdf", URL: "/files/conv-1/a.pdf"},
			{Name: "b.png", ContentType: "image/png", URL: "data:image/png;base64,aGVsbG8="},
		},
	}

	p, err := c.UserPrompt(m)
	require.NoError(t, err)
	require.Len(t, p.Content, 3)
	assert.Equal(t, ContentDocument, p.Content[1].Kind)
	assert.Equal(t, SourceStorage, p.Content[1].Source)
	assert.Equal(t, "conv-1/a.pdf", p.Content[1].Key)
	assert.Equal(t, ContentImage, p.Content[2].Kind)
	assert.Equal(t, []byte("hello"), p.Content[2].Data)
}
