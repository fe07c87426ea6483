// Package ingest turns an uploaded source document into a playable world
// template: text extraction, LLM world-document generation, and object-store
// uploads. The task manager drives these steps as a resumable workflow.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// TextExtractor pulls plain text from an uploaded document. Real deployments
// plug in a document-parsing service (PDF, DOCX, EPUB); [PlainTextExtractor]
// covers plain-text and markdown uploads.
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (string, error)
}

// PlainTextExtractor treats the upload as UTF-8 text.
type PlainTextExtractor struct{}

var _ TextExtractor = (*PlainTextExtractor)(nil)

// Extract implements [TextExtractor]. Binary uploads are rejected rather
// than garbled.
func (PlainTextExtractor) Extract(_ context.Context, fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("ingest: %s: empty document", fileName)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("ingest: %s: not valid utf-8 text", fileName)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("ingest: %s: document contains no text", fileName)
	}
	return text, nil
}

// Uploader stores a blob under a key and returns its serving URL. Real
// deployments plug in an object-storage client; [FSUploader] backs local and
// test runs.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) (url string, err error)
}

// FSUploader writes uploads under a local directory. The returned URL is the
// key joined onto the configured prefix.
type FSUploader struct {
	// Dir is the root directory for stored blobs.
	Dir string

	// URLPrefix is prepended to keys in returned URLs. Default "/uploads".
	URLPrefix string
}

var _ Uploader = (*FSUploader)(nil)

// Upload implements [Uploader]. Writes go through a temp file and a rename.
func (u *FSUploader) Upload(_ context.Context, key string, data []byte) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("ingest: invalid upload key %q", key)
	}
	dst := filepath.Join(u.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("ingest: create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("ingest: create temp upload: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: finalize upload: %w", err)
	}

	prefix := u.URLPrefix
	if prefix == "" {
		prefix = "/uploads"
	}
	return strings.TrimRight(prefix, "/") + "/" + key, nil
}
