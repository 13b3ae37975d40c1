// ABOUTME: Tests for the afs-backed blob store using the in-memory filesystem.

package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAFS_WriteReadDelete(t *testing.T) {
	s := NewAFS("mem://localhost/blob-test-rw", nil)
	ctx := t.Context()

	_, err := s.Read(ctx, "c1/doc.md")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "c1/doc.md", []byte("# Title")))

	data, err := s.Read(ctx, "c1/doc.md")
	require.NoError(t, err)
	assert.Equal(t, "# Title", string(data))

	require.NoError(t, s.Delete(ctx, "c1/doc.md"))
	_, err = s.Read(ctx, "c1/doc.md")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is fine.
	assert.NoError(t, s.Delete(ctx, "c1/doc.md"))
	assert.ErrorIs(t, s.Delete(ctx, "../x"), ErrInvalidKey)
}

func TestAFS_RejectsInvalidKeys(t *testing.T) {
	s := NewAFS("mem://localhost/blob-test-keys", nil)
	for _, key := range []string{"", "/abs", "c1/../c2/x", "c1//x", "./x"} {
		err := s.Write(t.Context(), key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestAFS_URL(t *testing.T) {
	s := NewAFS("file:///var/lib/parley/", nil)
	assert.Equal(t, "file:///var/lib/parley/c1/a.pdf", s.URL("c1/a.pdf"))
}
