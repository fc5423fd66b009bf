// Package document handles identity-document uploads: validation, object
// storage and the optional name-extraction pass.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxSize is the upload ceiling, checked before any storage call.
const MaxSize = 10 << 20

// SignedURLTTL bounds how long a private document link stays valid.
const SignedURLTTL = time.Hour

var (
	// ErrUnsupportedType rejects files outside the MIME allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge rejects files over MaxSize.
	ErrTooLarge = errors.New("file exceeds 10MB limit")
)

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Allowed reports whether the MIME type is accepted for identity documents.
func Allowed(contentType string) bool {
	_, ok := allowedTypes[strings.ToLower(contentType)]
	return ok
}

// Validate runs the client-visible preconditions without touching storage.
func Validate(contentType string, size int) error {
	if !Allowed(contentType) {
		return ErrUnsupportedType
	}
	if size > MaxSize {
		return ErrTooLarge
	}
	return nil
}

// Store abstracts the object storage bucket documents are written to.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// Name holds an extracted person name. Zero value means nothing was detected.
type Name struct {
	FirstName string
	LastName  string
}

// NameExtractor attempts to detect the holder's name on an uploaded document.
// Failure to detect is not an error, just an absent result.
type NameExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (Name, error)
}

// LoggerExtractor is a stub extractor that records the request and detects
// nothing. Stands in until an OCR backend is wired.
type LoggerExtractor struct {
	logger *slog.Logger
}

// NewLoggerExtractor constructs the logging extractor stub.
func NewLoggerExtractor(logger *slog.Logger) *LoggerExtractor {
	return &LoggerExtractor{logger: logger}
}

// Extract logs the attempt and returns an empty Name.
func (e *LoggerExtractor) Extract(_ context.Context, data []byte, contentType string) (Name, error) {
	if e != nil && e.logger != nil {
		e.logger.Info("name extraction requested", "content_type", contentType, "bytes", len(data))
	}
	return Name{}, nil
}

// Upload is the outcome of a stored document.
type Upload struct {
	Key       string
	URL       string
	Extracted Name
}

// Service validates and stores identity documents.
type Service struct {
	store     Store
	extractor NameExtractor
	logger    *slog.Logger
}

// NewService builds the document service. A nil extractor disables detection.
func NewService(store Store, extractor NameExtractor, logger *slog.Logger) *Service {
	return &Service{store: store, extractor: extractor, logger: logger}
}

// Upload validates, stores and optionally analyzes a document. Keys are
// namespaced by user id so per-user cleanup stays a prefix operation.
func (s *Service) Upload(ctx context.Context, userID, contentType string, data []byte) (Upload, error) {
	if err := Validate(contentType, len(data)); err != nil {
		return Upload{}, err
	}

	key := fmt.Sprintf("documents/%s/%s%s", userID, uuid.NewString(), allowedTypes[strings.ToLower(contentType)])
	if err := s.store.Put(ctx, key, contentType, data); err != nil {
		return Upload{}, err
	}

	url, err := s.store.SignedURL(ctx, key, SignedURLTTL)
	if err != nil {
		return Upload{}, err
	}

	out := Upload{Key: key, URL: url}
	if s.extractor != nil {
		name, err := s.extractor.Extract(ctx, data, contentType)
		if err != nil {
			s.logger.Info("name extraction failed", "key", key, "error", err)
		} else {
			out.Extracted = name
		}
	}
	return out, nil
}

// Remove deletes a stored document.
func (s *Service) Remove(ctx context.Context, key string) error {
	return s.store.Remove(ctx, key)
}
