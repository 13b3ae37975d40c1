// ABOUTME: Document tools backed by the retrieval index and the markdown copies in blob storage.
// ABOUTME: document_search finds passages; summarize and translate rewrite whole documents via the model.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/ingest"
	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/retrieval"
	"github.com/2389/parley/internal/transcript"
)

// ErrNoDocuments is returned when a document tool runs without a collection.
var ErrNoDocuments = errors.New("no documents are attached to this conversation")

const maxDocumentChars = 24000

// NewDocumentSearchTool creates the document_search tool.
func NewDocumentSearchTool(index retrieval.Index, limit int) *Tool {
	return &Tool{
		Definition: llm.ToolDefinition{
			Name:        DocumentSearch,
			Description: "Search the documents attached to this conversation. Returns matching passages.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"What to look for"}},"required":["query"]}`),
		},
		Handler: func(ctx context.Context, env Env, input json.RawMessage) (*Output, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeInput(input, &args); err != nil {
				return nil, err
			}
			if env.CollectionID == "" {
				return nil, ErrNoDocuments
			}
			res, err := index.Search(ctx, env.CollectionID, args.Query, limit)
			if err != nil {
				return nil, err
			}
			passages := res.Snippets
			if passages == nil {
				passages = []retrieval.Snippet{}
			}
			return &Output{Payload: map[string]any{"passages": passages}}, nil
		},
	}
}

// Documents gives the document tools their sources. Blobs may be nil, in
// which case document text comes from the index alone.
type Documents struct {
	Index retrieval.Index
	Blobs blob.Store
}

// NewSummarizeTool creates the summarize tool.
func NewSummarizeTool(docs Documents) *Tool {
	return &Tool{
		Definition: llm.ToolDefinition{
			Name:        Summarize,
			Description: "Summarize an attached document, or the most recent one when no document is named.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"document":{"type":"string","description":"Document id or file name"},"focus":{"type":"string","description":"Optional aspect to focus on"}}}`),
		},
		Handler: func(ctx context.Context, env Env, input json.RawMessage) (*Output, error) {
			var args struct {
				Document string `json:"document"`
				Focus    string `json:"focus"`
			}
			if err := decodeInput(input, &args); err != nil {
				return nil, err
			}
			doc, err := docs.find(ctx, env, args.Document)
			if err != nil {
				return nil, err
			}
			instructions := "Summarize the document the user provides. Use short paragraphs and keep key figures."
			if args.Focus != "" {
				instructions += " Focus on: " + args.Focus + "."
			}
			summary, usage, err := complete(ctx, env.Model, instructions, doc.Markdown)
			if err != nil {
				return nil, err
			}
			return &Output{Payload: map[string]any{"document": doc.Name, "summary": summary}, Usage: usage}, nil
		},
	}
}

// NewTranslateTool creates the translate tool.
func NewTranslateTool(docs Documents) *Tool {
	return &Tool{
		Definition: llm.ToolDefinition{
			Name:        Translate,
			Description: "Translate text, or an attached document when no text is given, into the target language.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"target_language":{"type":"string"},"text":{"type":"string"},"document":{"type":"string","description":"Document id or file name"}},"required":["target_language"]}`),
		},
		Handler: func(ctx context.Context, env Env, input json.RawMessage) (*Output, error) {
			var args struct {
				TargetLanguage string `json:"target_language"`
				Text           string `json:"text"`
				Document       string `json:"document"`
			}
			if err := decodeInput(input, &args); err != nil {
				return nil, err
			}
			if args.TargetLanguage == "" {
				return nil, fmt.Errorf("%w: target_language is required", ErrInvalidInput)
			}
			source, name := args.Text, ""
			if source == "" {
				doc, err := docs.find(ctx, env, args.Document)
				if err != nil {
					return nil, err
				}
				source, name = doc.Markdown, doc.Name
			}
			instructions := "Translate the user's text into " + args.TargetLanguage + ". Keep the markdown structure. Reply with the translation only."
			translation, usage, err := complete(ctx, env.Model, instructions, source)
			if err != nil {
				return nil, err
			}
			payload := map[string]any{"language": args.TargetLanguage, "translation": translation}
			if name != "" {
				payload["document"] = name
			}
			return &Output{Payload: payload, Usage: usage}, nil
		},
	}
}

// find resolves ref and prefers the markdown copy written at ingestion over
// the text held by the index.
func (d Documents) find(ctx context.Context, env Env, ref string) (*retrieval.Document, error) {
	doc, err := findDocument(ctx, d.Index, env.CollectionID, ref)
	if err != nil {
		return nil, err
	}
	if d.Blobs == nil {
		return doc, nil
	}
	data, err := d.Blobs.Read(ctx, ingest.MarkdownKey(env.ConversationID, doc.ID))
	switch {
	case err == nil:
		doc.Markdown = string(data)
	case !errors.Is(err, blob.ErrNotFound):
		return nil, fmt.Errorf("reading %s: %w", doc.Name, err)
	}
	return doc, nil
}

// findDocument resolves ref as a document id, then a file name. An empty ref
// selects the most recently added document.
func findDocument(ctx context.Context, index retrieval.Index, collectionID, ref string) (*retrieval.Document, error) {
	if collectionID == "" {
		return nil, ErrNoDocuments
	}
	if ref != "" {
		doc, err := index.GetDocument(ctx, collectionID, ref)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, retrieval.ErrNotFound) {
			return nil, err
		}
	}

	docs, err := index.ListDocuments(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	pick := docs[len(docs)-1]
	if ref != "" {
		found := false
		for _, d := range docs {
			if strings.EqualFold(d.Name, ref) {
				pick, found = d, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no document named %q", ErrInvalidInput, ref)
		}
	}
	return index.GetDocument(ctx, collectionID, pick.ID)
}

// complete runs a single non-streaming model call over text.
func complete(ctx context.Context, model llm.Model, instructions, text string) (string, transcript.Usage, error) {
	if model == nil {
		return "", transcript.Usage{}, errors.New("no model available")
	}
	resp, err := model.Request(ctx, llm.Request{
		Instructions: instructions,
		Messages: []transcript.ModelMessage{
			&transcript.ModelRequest{Parts: []transcript.RequestPart{
				transcript.UserPromptPart{Content: []transcript.ContentItem{transcript.TextItem(clip(text, maxDocumentChars))}},
			}},
		},
	})
	if err != nil {
		return "", transcript.Usage{}, err
	}
	return strings.TrimSpace(resp.Text()), resp.Usage, nil
}
