// ABOUTME: Package ocr converts scanned documents and images into page markdown.
// ABOUTME: The Backend interface hides the remote OCR service from the ingestion pipeline.
package ocr
