// ABOUTME: Tests for the ingestion pipeline
// ABOUTME: Covers ownership, remote and scan-status failures plus successful indexing

package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/retrieval"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transcript"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *store.SQLiteStore
	blobs    *blob.AFS
	index    *retrieval.SQLiteIndex
	ocr      *fakeOCR
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateConversation(context.Background(), &store.Conversation{ID: "conv-1"}))

	idx, err := retrieval.NewSQLiteIndex(s.DB(), 500, nil)
	require.NoError(t, err)

	blobs := blob.NewAFS("mem://localhost/ingest-"+t.Name(), nil)
	backend := &fakeOCR{}
	parser := NewParser(backend, testIngestionConfig(), nil).WithPageExtractor(fixedPages("", "", ""))

	return &pipelineFixture{
		pipeline: NewPipeline(s, s, blobs, idx, parser, nil),
		store:    s,
		blobs:    blobs,
		index:    idx,
		ocr:      backend,
	}
}

func (f *pipelineFixture) run(t *testing.T, req Request) (Result, []protocol.Event) {
	t.Helper()
	var events []protocol.Event
	res, err := f.pipeline.Ingest(context.Background(), req, protocol.NewBuilder(protocol.VersionDataStream),
		func(e protocol.Event) error {
			events = append(events, e)
			return nil
		})
	require.NoError(t, err)
	return res, events
}

func requireParsingPair(t *testing.T, events []protocol.Event) (protocol.ToolCallPart, protocol.ToolResultPart) {
	t.Helper()
	require.Len(t, events, 2)
	call, ok := events[0].(protocol.ToolCallPart)
	require.True(t, ok, "first event is %T", events[0])
	result, ok := events[1].(protocol.ToolResultPart)
	require.True(t, ok, "second event is %T", events[1])
	assert.Equal(t, ToolName, call.ToolName)
	assert.Equal(t, call.ToolCallID, result.ToolCallID)
	return call, result
}

func TestPipeline_NoDocuments(t *testing.T) {
	f := newPipelineFixture(t)

	res, events := f.run(t, Request{ConversationID: "conv-1"})

	assert.True(t, res.OK)
	assert.False(t, res.HasDocuments)
	assert.Empty(t, events)
}

func TestPipeline_ForeignStorageKeyFails(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.blobs.Write(context.Background(), "conv-2/secret.txt", []byte("not yours")))

	res, events := f.run(t, Request{
		ConversationID: "conv-1",
		Documents: []transcript.ContentItem{
			{Kind: transcript.ContentDocument, Source: transcript.SourceStorage, Key: "conv-2/secret.txt", MediaType: "text/plain"},
		},
	})

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrOwnership)
	call, result := requireParsingPair(t, events)
	assert.Contains(t, string(call.Args), "conv-2/secret.txt")
	assert.Contains(t, result.Result.(map[string]any)["error"], "does not belong")

	conv, err := f.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, conv.CollectionID)
}

func TestPipeline_PrefixLookalikeKeyFails(t *testing.T) {
	f := newPipelineFixture(t)

	res, _ := f.run(t, Request{
		ConversationID: "conv-1",
		Documents: []transcript.ContentItem{
			{Kind: transcript.ContentDocument, Source: transcript.SourceStorage, Key: "conv-10/a.txt"},
		},
	})

	assert.ErrorIs(t, res.Err, ErrOwnership)
}

func TestPipeline_RemoteReferenceFails(t *testing.T) {
	f := newPipelineFixture(t)

	res, events := f.run(t, Request{
		ConversationID: "conv-1",
		Documents: []transcript.ContentItem{
			{Kind: transcript.ContentDocument, Source: transcript.SourceURL, URL: "https://example.com/a.pdf"},
		},
	})

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrRemoteReference)
	requireParsingPair(t, events)
}

func TestPipeline_AttachmentStatus(t *testing.T) {
	tests := []struct {
		status store.AttachmentStatus
		ok     bool
	}{
		{store.AttachmentPending, false},
		{store.AttachmentAnalyzing, false},
		{store.AttachmentSuspicious, false},
		{store.AttachmentReady, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newPipelineFixture(t)
			ctx := context.Background()
			require.NoError(t, f.blobs.Write(ctx, "conv-1/notes.txt", []byte("meeting notes about budgets")))
			require.NoError(t, f.store.CreateAttachment(ctx, &store.Attachment{
				ID: "att-1", ConversationID: "conv-1", StorageKey: "conv-1/notes.txt",
				Name: "notes.txt", ContentType: "text/plain", Status: tt.status,
			}))

			res, _ := f.run(t, Request{
				ConversationID: "conv-1",
				Documents: []transcript.ContentItem{
					{Kind: transcript.ContentDocument, Source: transcript.SourceStorage, Key: "conv-1/notes.txt"},
				},
			})

			assert.Equal(t, tt.ok, res.OK)
			if !tt.ok {
				assert.ErrorIs(t, res.Err, ErrNotReady)
				return
			}
			assert.Equal(t, []string{"att-1"}, res.DocumentIDs)
		})
	}
}

func TestPipeline_IndexesDocumentsAndStoresMarkdownCopy(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.blobs.Write(ctx, "conv-1/notes.txt", []byte("budget review for the marketing team")))

	res, events := f.run(t, Request{
		ConversationID: "conv-1",
		Documents: []transcript.ContentItem{
			{Kind: transcript.ContentDocument, Source: transcript.SourceStorage, Key: "conv-1/notes.txt", MediaType: "text/plain"},
			{Kind: transcript.ContentDocument, Source: transcript.SourceInline, Name: "scan.pdf", MediaType: "application/pdf", Data: []byte("%PDF-")},
		},
	})

	require.True(t, res.OK, "ingestion failed: %v", res.Err)
	assert.True(t, res.HasDocuments)
	require.Len(t, res.DocumentIDs, 2)
	_, result := requireParsingPair(t, events)
	assert.Equal(t, "success", result.Result.(map[string]any)["status"])

	conv, err := f.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, res.CollectionID, conv.CollectionID)

	// The scanned PDF went through OCR and its markdown copy sits next to the originals.
	assert.Positive(t, f.ocr.calls.Load())
	md, err := f.blobs.Read(ctx, MarkdownKey("conv-1", res.DocumentIDs[1]))
	require.NoError(t, err)
	assert.Contains(t, string(md), "ocr page 2")

	// Plain text is indexed as-is without a copy.
	_, err = f.blobs.Read(ctx, MarkdownKey("conv-1", res.DocumentIDs[0]))
	assert.ErrorIs(t, err, blob.ErrNotFound)

	found, err := f.index.Search(ctx, res.CollectionID, "budget", 5)
	require.NoError(t, err)
	require.Len(t, found.Snippets, 1)
	assert.Equal(t, "notes.txt", found.Snippets[0].DocumentName)
}

func TestPipeline_ReusesBoundCollection(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	coll, err := f.index.CreateCollection(ctx, "conv-1")
	require.NoError(t, err)
	_, err = f.store.BindCollection(ctx, "conv-1", coll)
	require.NoError(t, err)

	res, _ := f.run(t, Request{
		ConversationID: "conv-1",
		CollectionID:   coll,
		Documents: []transcript.ContentItem{
			{Kind: transcript.ContentDocument, Source: transcript.SourceInline, Name: "a.md", MediaType: "text/markdown", Data: []byte("# A\n\nalpha")},
		},
	})

	require.True(t, res.OK)
	assert.Equal(t, coll, res.CollectionID)
}

func TestPipeline_EmitErrorStops(t *testing.T) {
	f := newPipelineFixture(t)
	gone := errors.New("client gone")

	_, err := f.pipeline.Ingest(context.Background(), Request{
		ConversationID: "conv-1",
		Documents:      []transcript.ContentItem{{Source: transcript.SourceURL, URL: "https://x"}},
	}, protocol.NewBuilder(protocol.VersionDataStream), func(protocol.Event) error { return gone })

	assert.ErrorIs(t, err, gone)
}

// failingIndex fails AddDocument once a number of documents were added.
type failingIndex struct {
	*retrieval.SQLiteIndex
	allow int32
	added atomic.Int32
}

func (x *failingIndex) AddDocument(ctx context.Context, collectionID string, doc retrieval.Document) error {
	if x.added.Add(1) > x.allow {
		return errors.New("disk full")
	}
	return x.SQLiteIndex.AddDocument(ctx, collectionID, doc)
}

func (f *pipelineFixture) documentCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM retrieval_documents`).Scan(&n))
	return n
}

func (f *pipelineFixture) collectionCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM retrieval_collections`).Scan(&n))
	return n
}

func textThenPDF() []transcript.ContentItem {
	return []transcript.ContentItem{
		{Kind: transcript.ContentDocument, Source: transcript.SourceInline, Name: "notes.txt", MediaType: "text/plain", Data: []byte("the secret launch date")},
		{Kind: transcript.ContentDocument, Source: transcript.SourceInline, Name: "bad.pdf", MediaType: "application/pdf", Data: []byte("%PDF-")},
	}
}

func TestPipeline_UnreadableDocumentStoresNothing(t *testing.T) {
	f := newPipelineFixture(t)
	f.pipeline.parser.WithPageExtractor(func([]byte) ([]string, error) { return nil, errors.New("corrupt xref table") })

	res, events := f.run(t, Request{ConversationID: "conv-1", Documents: textThenPDF()})

	assert.False(t, res.OK)
	assert.Empty(t, res.CollectionID)
	assert.Empty(t, res.DocumentIDs)
	_, result := requireParsingPair(t, events)
	assert.Contains(t, result.Result.(map[string]any)["error"], "bad.pdf")

	conv, err := f.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, conv.CollectionID)
	assert.Zero(t, f.collectionCount(t))
	assert.Zero(t, f.documentCount(t))
}

func TestPipeline_IndexingFailureRollsBack(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	idx := &failingIndex{SQLiteIndex: f.index, allow: 1}
	f.pipeline = NewPipeline(f.store, f.store, f.blobs, idx, f.pipeline.parser, nil)

	res, _ := f.run(t, Request{ConversationID: "conv-1", Documents: textThenPDF()})

	assert.False(t, res.OK)
	assert.ErrorContains(t, res.Err, "disk full")

	conv, err := f.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, conv.CollectionID)
	assert.Zero(t, f.collectionCount(t))
	assert.Zero(t, f.documentCount(t))
}

func TestPipeline_FailureKeepsEarlierDocuments(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	coll, err := f.index.CreateCollection(ctx, "conv-1")
	require.NoError(t, err)
	_, err = f.store.BindCollection(ctx, "conv-1", coll)
	require.NoError(t, err)
	require.NoError(t, f.index.AddDocument(ctx, coll, retrieval.Document{ID: "old", Name: "old.md", Markdown: "earlier turn"}))

	idx := &failingIndex{SQLiteIndex: f.index, allow: 1}
	f.pipeline = NewPipeline(f.store, f.store, f.blobs, idx, f.pipeline.parser, nil)

	res, _ := f.run(t, Request{ConversationID: "conv-1", CollectionID: coll, Documents: textThenPDF()})

	assert.False(t, res.OK)
	assert.Equal(t, coll, res.CollectionID)
	docs, err := f.index.ListDocuments(ctx, coll)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "old", docs[0].ID)
}

func TestPipeline_ConcurrentBindMovesDocuments(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	winner, err := f.index.CreateCollection(ctx, "conv-1")
	require.NoError(t, err)
	_, err = f.store.BindCollection(ctx, "conv-1", winner)
	require.NoError(t, err)

	// The request still carries the empty collection id read before the other turn bound one.
	res, _ := f.run(t, Request{ConversationID: "conv-1", Documents: textThenPDF()[:1]})

	require.True(t, res.OK, "ingestion failed: %v", res.Err)
	assert.Equal(t, winner, res.CollectionID)
	found, err := f.index.Search(ctx, winner, "secret", 5)
	require.NoError(t, err)
	assert.Len(t, found.Snippets, 1)
	assert.Equal(t, 1, f.collectionCount(t))
}
