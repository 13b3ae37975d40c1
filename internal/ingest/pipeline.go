// ABOUTME: Ingestion pipeline that validates, parses and indexes a turn's documents.
// ABOUTME: Reports progress as one document_parsing tool call and tool result.

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/retrieval"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transcript"
)

// ToolName is the pseudo tool announced while documents are parsed.
const ToolName = "document_parsing"

var (
	// ErrOwnership is returned for storage references outside the conversation's namespace.
	ErrOwnership = errors.New("attachment does not belong to this conversation")
	// ErrRemoteReference is returned for externally hosted documents.
	ErrRemoteReference = errors.New("remote document references are not supported")
	// ErrNotReady is returned for attachments that have not passed scanning.
	ErrNotReady = errors.New("attachment is not ready")
)

// CollectionBinder binds a retrieval collection to a conversation.
type CollectionBinder interface {
	BindCollection(ctx context.Context, id, collectionID string) (string, error)
}

// AttachmentLookup finds the upload record for a storage key.
type AttachmentLookup interface {
	GetAttachmentByKey(ctx context.Context, storageKey string) (*store.Attachment, error)
}

// Request is the set of documents attached to one user turn.
type Request struct {
	ConversationID string
	// CollectionID is the collection already bound to the conversation, if any.
	CollectionID string
	Documents    []transcript.ContentItem
}

// Result is the outcome of one ingestion.
type Result struct {
	OK bool
	// HasDocuments reports whether the conversation now has a retrievable document.
	HasDocuments bool
	CollectionID string
	DocumentIDs  []string
	Err          error
}

// Pipeline ingests documents into the retrieval index.
type Pipeline struct {
	conversations CollectionBinder
	attachments   AttachmentLookup
	blobs         blob.Store
	index         retrieval.Index
	parser        *Parser
	logger        *slog.Logger
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(conversations CollectionBinder, attachments AttachmentLookup, blobs blob.Store, index retrieval.Index, parser *Parser, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		conversations: conversations,
		attachments:   attachments,
		blobs:         blobs,
		index:         index,
		parser:        parser,
		logger:        logger.With("component", "ingest"),
	}
}

type parsingDocument struct {
	Name      string `json:"name,omitempty"`
	Reference string `json:"reference"`
}

// Ingest processes req and emits the document_parsing events through b.
// The returned error is non-nil only when emit fails; ingestion failures are
// reported in Result.
func (p *Pipeline) Ingest(ctx context.Context, req Request, b protocol.Builder, emit func(protocol.Event) error) (Result, error) {
	if len(req.Documents) == 0 {
		return Result{OK: true, HasDocuments: req.CollectionID != "", CollectionID: req.CollectionID}, nil
	}

	callID := "call_" + uuid.NewString()
	docs := make([]parsingDocument, len(req.Documents))
	for i, item := range req.Documents {
		docs[i] = parsingDocument{Name: item.Name, Reference: reference(item)}
	}
	args, err := json.Marshal(map[string]any{"documents": docs})
	if err != nil {
		return Result{}, fmt.Errorf("encoding parsing arguments: %w", err)
	}
	if err := emitAll(emit, b.ToolCall(callID, ToolName, args)); err != nil {
		return Result{}, err
	}

	res := p.ingest(ctx, req)
	res.HasDocuments = res.CollectionID != ""

	var payload any
	if res.Err != nil {
		p.logger.Warn("ingestion failed", "conversation_id", req.ConversationID, "error", res.Err)
		payload = map[string]any{"error": res.Err.Error()}
	} else {
		payload = map[string]any{"status": "success", "documents": res.DocumentIDs}
	}
	if err := emitAll(emit, b.ToolResult(callID, payload)); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, req Request) Result {
	res := Result{CollectionID: req.CollectionID}
	fail := func(err error) Result {
		res.Err = err
		return res
	}

	for _, item := range req.Documents {
		if err := checkReference(req.ConversationID, item); err != nil {
			return fail(err)
		}
	}

	loaded := make([]Document, 0, len(req.Documents))
	for _, item := range req.Documents {
		doc, err := p.load(ctx, item)
		if err != nil {
			return fail(err)
		}
		loaded = append(loaded, doc)
	}

	// Every document is parsed before anything is stored, so a bad document
	// leaves no trace of the others.
	parsed := make([]parsedDocument, 0, len(loaded))
	for _, doc := range loaded {
		pd, err := p.render(ctx, doc)
		if err != nil {
			return fail(err)
		}
		parsed = append(parsed, pd)
	}

	w := &ingestWrite{p: p, conversationID: req.ConversationID, collectionID: req.CollectionID}
	if err := w.commit(ctx, parsed); err != nil {
		w.rollback(context.WithoutCancel(ctx))
		return fail(err)
	}

	res.CollectionID = w.collectionID
	for _, pd := range parsed {
		res.DocumentIDs = append(res.DocumentIDs, pd.doc.ID)
	}
	res.OK = true
	return res
}

type parsedDocument struct {
	doc      Document
	markdown string
	// copied reports whether a markdown copy belongs in the blob store.
	copied bool
}

// ingestWrite tracks what one ingestion stored so a failure can undo it.
type ingestWrite struct {
	p              *Pipeline
	conversationID string
	collectionID   string
	created        string
	added          []string
	copies         []string
}

func (w *ingestWrite) commit(ctx context.Context, parsed []parsedDocument) error {
	if w.collectionID == "" {
		created, err := w.p.index.CreateCollection(ctx, w.conversationID)
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		w.created, w.collectionID = created, created
	}

	if err := w.index(ctx, parsed); err != nil {
		return err
	}

	for _, pd := range parsed {
		if !pd.copied {
			continue
		}
		key := MarkdownKey(w.conversationID, pd.doc.ID)
		if err := w.p.blobs.Write(ctx, key, []byte(pd.markdown)); err != nil {
			return fmt.Errorf("storing markdown copy: %w", err)
		}
		w.copies = append(w.copies, key)
	}

	if w.created == "" {
		return nil
	}
	bound, err := w.p.conversations.BindCollection(ctx, w.conversationID, w.created)
	if err != nil {
		return fmt.Errorf("binding collection: %w", err)
	}
	if bound == w.created {
		w.created = ""
		return nil
	}

	// A concurrent turn bound its own collection first; move the documents there.
	w.p.logger.Info("collection already bound by a concurrent turn", "conversation_id", w.conversationID, "collection_id", bound)
	orphan := w.created
	w.collectionID, w.created, w.added = bound, "", nil
	if err := w.index(ctx, parsed); err != nil {
		w.created = orphan
		return err
	}
	if err := w.p.index.DeleteCollection(ctx, orphan); err != nil {
		w.p.logger.Warn("could not drop unbound collection", "collection_id", orphan, "error", err)
	}
	return nil
}

func (w *ingestWrite) index(ctx context.Context, parsed []parsedDocument) error {
	for _, pd := range parsed {
		_, err := w.p.index.GetDocument(ctx, w.collectionID, pd.doc.ID)
		existed := err == nil
		doc := retrieval.Document{ID: pd.doc.ID, Name: pd.doc.Name, Markdown: pd.markdown}
		if err := w.p.index.AddDocument(ctx, w.collectionID, doc); err != nil {
			return fmt.Errorf("indexing %s: %w", pd.doc.Name, err)
		}
		// A re-attached document replaces its earlier copy and is not ours to remove.
		if !existed {
			w.added = append(w.added, pd.doc.ID)
		}
	}
	return nil
}

// rollback removes everything commit stored. Failures are logged only.
func (w *ingestWrite) rollback(ctx context.Context) {
	logger := w.p.logger.With("conversation_id", w.conversationID)
	for _, id := range w.added {
		if err := w.p.index.DeleteDocument(ctx, w.collectionID, id); err != nil {
			logger.Warn("could not remove indexed document", "document_id", id, "error", err)
		}
	}
	if w.created != "" {
		if err := w.p.index.DeleteCollection(ctx, w.created); err != nil {
			logger.Warn("could not drop collection", "collection_id", w.created, "error", err)
		}
	}
	for _, key := range w.copies {
		if err := w.p.blobs.Delete(ctx, key); err != nil {
			logger.Warn("could not remove markdown copy", "key", key, "error", err)
		}
	}
}

// checkReference rejects remote documents and storage keys outside the
// conversation's namespace.
func checkReference(conversationID string, item transcript.ContentItem) error {
	switch item.Source {
	case transcript.SourceURL:
		return fmt.Errorf("%w: %s", ErrRemoteReference, item.URL)
	case transcript.SourceStorage:
		if !strings.HasPrefix(item.Key, conversationID+"/") || strings.Contains(item.Key, "..") {
			return fmt.Errorf("%w: %s", ErrOwnership, item.Key)
		}
	}
	return nil
}

func (p *Pipeline) load(ctx context.Context, item transcript.ContentItem) (Document, error) {
	doc := Document{ID: uuid.NewString(), Name: item.Name, MediaType: item.MediaType}
	if item.Source != transcript.SourceStorage {
		doc.Data = item.Data
		return doc, nil
	}

	rec, err := p.attachments.GetAttachmentByKey(ctx, item.Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Document{}, fmt.Errorf("looking up attachment: %w", err)
	case rec.Status != store.AttachmentReady:
		return Document{}, fmt.Errorf("%w: %s is %s", ErrNotReady, item.Key, rec.Status)
	default:
		doc.ID = rec.ID
		if doc.Name == "" {
			doc.Name = rec.Name
		}
		if doc.MediaType == "" {
			doc.MediaType = rec.ContentType
		}
	}
	if doc.Name == "" {
		doc.Name = path.Base(item.Key)
	}

	data, err := p.blobs.Read(ctx, item.Key)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", item.Key, err)
	}
	doc.Data = data
	return doc, nil
}

// render converts doc to markdown. Parsed binaries are marked for a copy
// next to the originals.
func (p *Pipeline) render(ctx context.Context, doc Document) (parsedDocument, error) {
	if IsPlainText(doc.MediaType) {
		return parsedDocument{doc: doc, markdown: string(doc.Data)}, nil
	}

	markdown, err := p.parser.Parse(ctx, doc)
	if err != nil {
		return parsedDocument{}, fmt.Errorf("parsing %s: %w", doc.Name, err)
	}
	return parsedDocument{doc: doc, markdown: markdown, copied: true}, nil
}

// MarkdownKey is the blob key of a document's markdown copy.
func MarkdownKey(conversationID, documentID string) string {
	return conversationID + "/" + documentID + ".md"
}

func reference(item transcript.ContentItem) string {
	switch item.Source {
	case transcript.SourceStorage:
		return item.Key
	case transcript.SourceURL:
		return item.URL
	default:
		return "inline:" + item.Name
	}
}

func emitAll(emit func(protocol.Event) error, events []protocol.Event) error {
	for _, e := range events {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}
