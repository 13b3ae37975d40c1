// ABOUTME: Tests for the SQLite FTS5 retrieval index
// ABOUTME: Covers collections, document replacement and ranked search

package retrieval

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func createTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx, err := NewSQLiteIndex(db, 500, nil)
	require.NoError(t, err)
	return idx
}

func TestSQLiteIndex_SearchRanksMatches(t *testing.T) {
	ctx := context.Background()
	idx := createTestIndex(t)

	coll, err := idx.CreateCollection(ctx, "conv-1")
	require.NoError(t, err)
	other, err := idx.CreateCollection(ctx, "conv-2")
	require.NoError(t, err)

	require.NoError(t, idx.AddDocument(ctx, coll, Document{
		ID: "d1", Name: "report.pdf",
		Markdown: "# Revenue\n\nRevenue grew twelve percent in the third quarter.\n\n# Staff\n\nHeadcount was flat.",
	}))
	require.NoError(t, idx.AddDocument(ctx, other, Document{
		ID: "d2", Name: "other.pdf", Markdown: "Revenue is unrelated here.",
	}))

	res, err := idx.Search(ctx, coll, "Revenue by quarter?", 5)
	require.NoError(t, err)
	require.Len(t, res.Snippets, 1)
	assert.Equal(t, "d1", res.Snippets[0].DocumentID)
	assert.Equal(t, "report.pdf", res.Snippets[0].DocumentName)
	assert.Equal(t, "Revenue", res.Snippets[0].Heading)
	assert.Contains(t, res.Snippets[0].Text, "twelve percent")
}

func TestSQLiteIndex_QuerySyntaxIsEscaped(t *testing.T) {
	ctx := context.Background()
	idx := createTestIndex(t)
	coll, err := idx.CreateCollection(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, idx.AddDocument(ctx, coll, Document{ID: "d", Name: "n", Markdown: "alpha beta"}))

	res, err := idx.Search(ctx, coll, `alpha" OR NEAR(`, 5)
	require.NoError(t, err)
	assert.Len(t, res.Snippets, 1)

	res, err = idx.Search(ctx, coll, "???", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Snippets)
}

func TestSQLiteIndex_AddDocumentReplaces(t *testing.T) {
	ctx := context.Background()
	idx := createTestIndex(t)
	coll, err := idx.CreateCollection(ctx, "c")
	require.NoError(t, err)

	require.NoError(t, idx.AddDocument(ctx, coll, Document{ID: "d", Name: "v1", Markdown: "zebra"}))
	require.NoError(t, idx.AddDocument(ctx, coll, Document{ID: "d", Name: "v2", Markdown: "giraffe"}))

	res, err := idx.Search(ctx, coll, "zebra", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Snippets)

	doc, err := idx.GetDocument(ctx, coll, "d")
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Name)
	assert.Equal(t, "giraffe", doc.Markdown)

	docs, err := idx.ListDocuments(ctx, coll)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d", docs[0].ID)
}

func TestSQLiteIndex_NotFound(t *testing.T) {
	ctx := context.Background()
	idx := createTestIndex(t)

	err := idx.AddDocument(ctx, "missing", Document{ID: "d", Markdown: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = idx.GetDocument(ctx, "missing", "d")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteIndex_DeleteDocumentAndCollection(t *testing.T) {
	ctx := context.Background()
	idx := createTestIndex(t)
	coll, err := idx.CreateCollection(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, idx.AddDocument(ctx, coll, Document{ID: "d1", Name: "a", Markdown: "walrus facts"}))
	require.NoError(t, idx.AddDocument(ctx, coll, Document{ID: "d2", Name: "b", Markdown: "walrus habitat"}))

	require.NoError(t, idx.DeleteDocument(ctx, coll, "d1"))
	require.NoError(t, idx.DeleteDocument(ctx, coll, "d1"))

	res, err := idx.Search(ctx, coll, "walrus", 5)
	require.NoError(t, err)
	require.Len(t, res.Snippets, 1)
	assert.Equal(t, "d2", res.Snippets[0].DocumentID)
	_, err = idx.GetDocument(ctx, coll, "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idx.DeleteCollection(ctx, coll))
	res, err = idx.Search(ctx, coll, "walrus", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Snippets)
	err = idx.AddDocument(ctx, coll, Document{ID: "d3", Markdown: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
