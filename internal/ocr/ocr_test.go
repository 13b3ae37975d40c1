// ABOUTME: Tests for the OCR HTTP client
// ABOUTME: Uses an httptest server standing in for the OCR API

package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RecognizePageRange(t *testing.T) {
	var got ocrRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[{"index":5,"markdown":"six"},{"index":4,"markdown":"five"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "ocr-model", nil)
	pages, err := c.Recognize(context.Background(),
		Document{Name: "scan.pdf", MediaType: "application/pdf", Data: []byte("%PDF")},
		&PageRange{Start: 4, End: 7})

	require.NoError(t, err)
	assert.Equal(t, []string{"five", "six", ""}, pages)
	assert.Equal(t, "ocr-model", got.Model)
	assert.Equal(t, "document_url", got.Document.Type)
	assert.Equal(t, "data:application/pdf;base64,JVBERg==", got.Document.DocumentURL)
	assert.Equal(t, []int{4, 5, 6}, got.Pages)
}

func TestClient_RecognizeImage(t *testing.T) {
	var got ocrRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"# Receipt"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", nil)
	pages, err := c.Recognize(context.Background(), Document{MediaType: "image/png", Data: []byte{1}}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"# Receipt"}, pages)
	assert.Equal(t, "image_url", got.Document.Type)
	assert.Empty(t, got.Pages)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, `upstream down`, nil},
		{"no pages", http.StatusOK, `{"pages":[]}`, ErrEmptyResponse},
		{"bad json", http.StatusOK, `{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", "m", nil).Recognize(context.Background(), Document{MediaType: "application/pdf"}, nil)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestPageRange(t *testing.T) {
	r := PageRange{Start: 2, End: 5}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{2, 3, 4}, r.Indexes())
}
