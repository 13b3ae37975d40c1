// ABOUTME: Tests for attachment reference normalization.

package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAttachment_Forms(t *testing.T) {
	inline, err := NormalizeAttachment("x.txt", "", "data:text/plain;base64,aGk=", "/files/")
	require.NoError(t, err)
	assert.Equal(t, SourceInline, inline.Source)
	assert.Equal(t, "text/plain", inline.MediaType)
	assert.Equal(t, []byte("hi"), inline.Data)
	assert.Equal(t, "data:text/plain;base64,aGk=", inline.Reference("/files/"))

	stored, err := NormalizeAttachment("r.pdf", "application/pdf", "/files/c1/r%20v2.pdf", "/files/")
	require.NoError(t, err)
	assert.Equal(t, SourceStorage, stored.Source)
	assert.Equal(t, "c1/r v2.pdf", stored.Key)
	assert.Equal(t, "/files/c1/r v2.pdf", stored.Reference("/files/"))

	remote, err := NormalizeAttachment("cat.jpg", "image/jpeg", "https://example.com/cat.jpg", "/files/")
	require.NoError(t, err)
	assert.Equal(t, SourceURL, remote.Source)
	assert.Equal(t, ContentImage, remote.Kind)

	_, err = NormalizeAttachment("x", "text/plain", "ftp://nope", "/files/")
	assert.ErrorIs(t, err, ErrUnsupportedReference)

	_, err = NormalizeAttachment("x", "", "data:text/plain;base64,!!!", "/files/")
	assert.ErrorIs(t, err, ErrUnsupportedReference)
}
