// ABOUTME: Multimodal content items and normalization of attachment references.
// ABOUTME: Inline data URLs, same-origin storage paths and external URLs share one shape.

package transcript

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentKind is what a content item holds.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentDocument ContentKind = "document"
)

// SourceKind is where the bytes of a non-text content item live.
type SourceKind string

const (
	SourceInline  SourceKind = "inline"
	SourceStorage SourceKind = "storage"
	SourceURL     SourceKind = "url"
)

// ContentItem is one element of a user prompt.
type ContentItem struct {
	Kind      ContentKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	Source    SourceKind  `json:"source,omitempty"`
	MediaType string      `json:"media_type,omitempty"`
	Name      string      `json:"name,omitempty"`
	Data      []byte      `json:"data,omitempty"`
	Key       string      `json:"key,omitempty"`
	URL       string      `json:"url,omitempty"`
}

// TextItem returns a text content item.
func TextItem(s string) ContentItem {
	return ContentItem{Kind: ContentText, Text: s}
}

// ErrUnsupportedReference is returned for attachment URLs of an unknown form.
var ErrUnsupportedReference = errors.New("unsupported attachment reference")

// NormalizeAttachment turns an attachment reference into a content item.
// storagePrefix is the same-origin path under which stored blobs are served.
func NormalizeAttachment(name, mediaType, ref, storagePrefix string) (ContentItem, error) {
	item := ContentItem{Kind: ContentDocument, MediaType: mediaType, Name: name}

	switch {
	case strings.HasPrefix(ref, "data:"):
		mt, data, err := decodeDataURL(ref)
		if err != nil {
			return ContentItem{}, err
		}
		if item.MediaType == "" {
			item.MediaType = mt
		}
		item.Source = SourceInline
		item.Data = data
	case storagePrefix != "" && strings.HasPrefix(ref, storagePrefix):
		key, err := url.PathUnescape(strings.TrimPrefix(ref, storagePrefix))
		if err != nil {
			return ContentItem{}, fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
		}
		item.Source = SourceStorage
		item.Key = strings.TrimPrefix(key, "/")
	case strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://"):
		item.Source = SourceURL
		item.URL = ref
	default:
		return ContentItem{}, fmt.Errorf("%w: %q", ErrUnsupportedReference, truncate(ref, 64))
	}

	if strings.HasPrefix(item.MediaType, "image/") {
		item.Kind = ContentImage
	}
	return item, nil
}

// DataURL renders an inline item as a data URL.
func (c ContentItem) DataURL() string {
	return "data:" + c.MediaType + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// Reference renders the item back into the URL form a client sent.
func (c ContentItem) Reference(storagePrefix string) string {
	switch c.Source {
	case SourceInline:
		return c.DataURL()
	case SourceStorage:
		return strings.TrimSuffix(storagePrefix, "/") + "/" + c.Key
	default:
		return c.URL
	}
}

func decodeDataURL(ref string) (string, []byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: malformed data url", ErrUnsupportedReference)
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
		}
		return mediaType, []byte(s), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
	}
	return mediaType, data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
