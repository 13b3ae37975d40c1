// ABOUTME: Adaptive document parser choosing between direct PDF text and OCR.
// ABOUTME: OCR runs in fixed-size page batches with retries and blank placeholders.

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/ocr"
)

// PageDelimiter separates pages in assembled document text.
const PageDelimiter = "\n\n---\n\n"

// Document is one attachment ready for parsing.
type Document struct {
	ID        string
	Name      string
	MediaType string
	Data      []byte
}

// PageExtractor returns the extractable text of every page of a PDF.
type PageExtractor func(data []byte) ([]string, error)

// Parser converts binary documents into markdown.
type Parser struct {
	ocr         ocr.Backend
	threshold   float64
	batchPages  int
	maxRetries  int
	retryDelay  time.Duration
	concurrency int
	pages       PageExtractor
	logger      *slog.Logger
}

// NewParser creates a parser that falls back to backend for scanned documents.
func NewParser(backend ocr.Backend, cfg config.IngestionConfig, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		ocr:         backend,
		threshold:   cfg.TextRatioThreshold,
		batchPages:  cfg.BatchPages,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		concurrency: cfg.Concurrency,
		pages:       pdfPageTexts,
		logger:      logger.With("component", "parser"),
	}
	if p.batchPages <= 0 {
		p.batchPages = 8
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p
}

// WithPageExtractor replaces the PDF text extractor.
func (p *Parser) WithPageExtractor(fn PageExtractor) *Parser {
	p.pages = fn
	return p
}

// IsPlainText reports whether a media type can be indexed without parsing.
func IsPlainText(mediaType string) bool {
	mt, _, _ := strings.Cut(mediaType, ";")
	mt = strings.TrimSpace(strings.ToLower(mt))
	return strings.HasPrefix(mt, "text/") || mt == "application/json"
}

// Parse returns the document as markdown, pages joined by PageDelimiter.
func (p *Parser) Parse(ctx context.Context, doc Document) (string, error) {
	logger := p.logger.With("document_id", doc.ID, "media_type", doc.MediaType)

	if doc.MediaType != "application/pdf" {
		logger.Info("routing to ocr", "reason", "not a pdf")
		pages := p.recognize(ctx, doc, nil, 1)
		return strings.Join(pages, PageDelimiter), ctx.Err()
	}

	texts, err := p.pages(doc.Data)
	if err != nil {
		return "", fmt.Errorf("reading pdf %s: %w", doc.Name, err)
	}
	if len(texts) == 0 {
		return "", nil
	}

	ratio := TextRatio(texts)
	if ratio >= p.threshold {
		logger.Info("extracting text directly", "pages", len(texts), "text_ratio", ratio)
		return strings.Join(texts, PageDelimiter), nil
	}

	logger.Info("routing to ocr", "pages", len(texts), "text_ratio", ratio, "threshold", p.threshold)
	return p.ocrBatches(ctx, doc, len(texts))
}

// TextRatio is the fraction of pages that carry extractable text.
func TextRatio(pages []string) float64 {
	if len(pages) == 0 {
		return 0
	}
	withText := 0
	for _, t := range pages {
		if strings.TrimSpace(t) != "" {
			withText++
		}
	}
	return float64(withText) / float64(len(pages))
}

// ocrBatches recognizes total pages in batches of batchPages. A batch that
// keeps failing contributes blank pages.
func (p *Parser) ocrBatches(ctx context.Context, doc Document, total int) (string, error) {
	var batches []ocr.PageRange
	for start := 0; start < total; start += p.batchPages {
		batches = append(batches, ocr.PageRange{Start: start, End: min(start+p.batchPages, total)})
	}

	results := make([][]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, r := range batches {
		g.Go(func() error {
			results[i] = p.recognize(gctx, doc, &r, r.Len())
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pages := make([]string, 0, total)
	for _, r := range results {
		pages = append(pages, r...)
	}
	return strings.Join(pages, PageDelimiter), nil
}

// recognize calls the OCR backend with retries. After the final failure it
// returns want blank pages.
func (p *Parser) recognize(ctx context.Context, doc Document, r *ocr.PageRange, want int) []string {
	for attempt := 0; ; attempt++ {
		pages, err := p.ocr.Recognize(ctx, ocr.Document{Name: doc.Name, MediaType: doc.MediaType, Data: doc.Data}, r)
		if err == nil {
			if r != nil && len(pages) != want {
				padded := make([]string, want)
				copy(padded, pages)
				pages = padded
			}
			return pages
		}

		logger := p.logger.With("document_id", doc.ID, "attempt", attempt+1, "error", err)
		if r != nil {
			logger = logger.With("first_page", r.Start, "last_page", r.End-1)
		}
		if attempt >= p.maxRetries || ctx.Err() != nil {
			logger.Warn("ocr batch failed, inserting blank pages", "pages", want)
			return make([]string, want)
		}
		logger.Warn("ocr batch failed, retrying", "delay", p.retryDelay)

		select {
		case <-ctx.Done():
			return make([]string, want)
		case <-time.After(p.retryDelay):
		}
	}
}

func pdfPageTexts(data []byte) (texts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := reader.NumPage()
	texts = make([]string, n)
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Unreadable pages count as image-only.
			continue
		}
		texts[i-1] = strings.TrimSpace(text)
	}
	return texts, nil
}
