// Package upload deduplicates uploads by content hash, sends new content to
// object storage and keeps a bounded history of what was uploaded.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/imagehost/service/internal/logger"
	"github.com/imagehost/service/internal/storage"
)

const octetStream = "application/octet-stream"

var (
	// ErrNotConfigured is returned while no storage backend has been supplied.
	ErrNotConfigured = errors.New("storage backend not configured")
	// ErrMalformedRequest marks caller input that cannot be processed.
	ErrMalformedRequest = errors.New("malformed request")
)

// Uploader sends bytes to object storage and returns the public URL.
// *storage.Client is the production implementation.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

// Store is the dedup cache. *Repository is the production implementation.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	FindByHash(ctx context.Context, hash string) (*Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Clear(ctx context.Context) error
}

// Result is the outcome of one upload request, on either the native or the HTTP path.
type Result struct {
	Success   bool    `json:"success"`
	URL       *string `json:"url"`
	Error     *string `json:"error"`
	FromCache bool    `json:"from_cache"`

	err error
}

// Err returns the failure behind an unsuccessful result, for classification with errors.Is.
func (r Result) Err() error {
	return r.err
}

func succeeded(url string, fromCache bool) Result {
	return Result{Success: true, URL: &url, FromCache: fromCache}
}

func failed(err error) Result {
	msg := err.Error()
	return Result{Success: false, Error: &msg, err: err}
}

// Service is the pipeline shared by the CLI and the proxy: check the cache,
// upload on a miss, remember the upload on success.
type Service struct {
	mu       sync.RWMutex
	uploader Uploader

	store      Store
	flight     singleflight.Group
	log        zerolog.Logger
	storageLog zerolog.Logger
	now        func() time.Time
}

// NewService creates a Service. store may be nil, in which case uploads still
// work but nothing is cached. log is the base logger; the service and the
// storage clients it builds tag their lines with their own component.
func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		log:        logger.Component(log, "upload"),
		storageLog: logger.Component(log, "storage"),
		now:        time.Now,
	}
}

// SetUploader swaps the backend client. Requests already holding the previous
// client finish with it; nil leaves the service unconfigured.
func (s *Service) SetUploader(u Uploader) {
	s.mu.Lock()
	s.uploader = u
	s.mu.Unlock()
}

// Configure builds a storage client for cfg and swaps it in. On error the
// current client, if any, stays in place.
func (s *Service) Configure(ctx context.Context, cfg storage.Config, timeout time.Duration) error {
	client, err := storage.New(ctx, cfg, s.storageLog, timeout)
	if err != nil {
		return err
	}
	s.SetUploader(client)
	s.log.Info().Str("bucket", cfg.BucketName).Str("endpoint", cfg.Endpoint).Msg("storage backend configured")
	return nil
}

// Uploader returns the current backend client, if one is configured.
func (s *Service) Uploader() (Uploader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploader, s.uploader != nil
}

// Configured reports whether uploads can reach a backend.
func (s *Service) Configured() bool {
	_, ok := s.Uploader()
	return ok
}

// Upload runs the pipeline with a content type inferred from filename.
func (s *Service) Upload(ctx context.Context, data []byte, filename string) Result {
	return s.UploadWithType(ctx, data, filename, "")
}

// UploadWithType runs the pipeline. An empty contentType is inferred from the
// filename extension. It never returns an error; failures are in the Result.
func (s *Service) UploadWithType(ctx context.Context, data []byte, filename, contentType string) Result {
	log := s.log.With().Str("filename", filename).Int("size", len(data)).Logger()

	uploader, ok := s.Uploader()
	if !ok {
		log.Warn().Msg("upload rejected, no storage backend configured")
		return failed(ErrNotConfigured)
	}

	hash := storage.Hash(data)
	if rec := s.lookup(ctx, hash); rec != nil {
		log.Info().Str("hash", hash).Str("url", rec.URL).Msg("served from cache")
		return succeeded(rec.URL, true)
	}

	if contentType == "" {
		contentType = ContentType(filename)
	}

	// Concurrent requests for the same new content share one backend upload.
	leader := false
	v, err, _ := s.flight.Do(hash, func() (any, error) {
		leader = true
		if rec := s.lookup(ctx, hash); rec != nil {
			return cached{url: rec.URL, hit: true}, nil
		}

		// Shutdown of the caller must not abort an upload already handed to the backend.
		url, err := uploader.Upload(context.WithoutCancel(ctx), data, filename, contentType)
		if err != nil {
			return nil, err
		}
		s.remember(context.WithoutCancel(ctx), Record{
			ID:               uuid.NewString(),
			OriginalFilename: filename,
			FileHash:         hash,
			FileSize:         int64(len(data)),
			URL:              url,
			UploadTime:       s.now().Unix(),
		})
		return cached{url: url}, nil
	})
	if err != nil {
		log.Error().Err(err).Str("hash", hash).Msg("upload failed")
		if !errors.Is(err, storage.ErrUploadFailed) {
			err = fmt.Errorf("%w: %w", storage.ErrUploadFailed, err)
		}
		return failed(err)
	}

	res := v.(cached)
	fromCache := res.hit || !leader
	log.Info().Str("hash", hash).Str("url", res.url).Bool("from_cache", fromCache).Msg("upload complete")
	return succeeded(res.url, fromCache)
}

type cached struct {
	url string
	hit bool
}

// History returns up to limit records, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]Record, error) {
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}
	return s.store.ListRecent(ctx, limit)
}

// ClearHistory forgets every recorded upload. Objects already in the bucket are untouched.
func (s *Service) ClearHistory(ctx context.Context) error {
	if s.store == nil {
		return ErrStoreUnavailable
	}
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("upload history cleared")
	return nil
}

// lookup treats any store failure as a cache miss.
func (s *Service) lookup(ctx context.Context, hash string) *Record {
	if s.store == nil {
		return nil
	}
	rec, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn().Err(err).Str("hash", hash).Msg("cache lookup failed, uploading without cache")
		}
		return nil
	}
	return rec
}

// remember persists rec. Failures are logged only; the upload itself already succeeded.
func (s *Service) remember(ctx context.Context, rec Record) {
	if s.store == nil {
		return
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("hash", rec.FileHash).Str("url", rec.URL).Msg("failed to save upload record")
	}
}

// ContentType infers a MIME type from the filename extension.
func ContentType(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return octetStream
}
