// Package storage persists fetched content through pluggable blob stores.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// BlobStore writes opaque objects and reports where they landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ContentPath returns the object path for a fetched URL:
// prefix/runID/sha256(url).body. Empty segments are skipped.
func ContentPath(prefix, runID, rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	name := hex.EncodeToString(sum[:]) + ".body"
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, name)
	return path.Join(parts...)
}

// ContentStore adapts a BlobStore to crawler.ContentSink.
type ContentStore struct {
	blobs  BlobStore
	prefix string
}

// NewContentStore wraps blobs, placing every object under prefix.
func NewContentStore(blobs BlobStore, prefix string) (*ContentStore, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	return &ContentStore{blobs: blobs, prefix: prefix}, nil
}

// PutContent writes the fetched body keyed by the record URL.
func (s *ContentStore) PutContent(ctx context.Context, runID string, content crawler.FetchedContent) (string, error) {
	if content.Fetched == nil {
		return "", errors.New("content has no fetched body")
	}
	objectPath := ContentPath(s.prefix, runID, content.Record.URL)
	uri, err := s.blobs.PutObject(ctx, objectPath, content.Fetched.MimeType, bytes.NewReader(content.Fetched.Body))
	if err != nil {
		return "", fmt.Errorf("put content for %s: %w", content.Record.URL, err)
	}
	return uri, nil
}

// StatusSinks fans status records out to every sink, in order. Each sink is
// always called; their errors are joined.
type StatusSinks []crawler.StatusSink

// WriteStatuses implements crawler.StatusSink.
func (s StatusSinks) WriteStatuses(ctx context.Context, runID string, records []crawler.StatusRecord) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.WriteStatuses(ctx, runID, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
