// Package storage turns raw bytes into publicly addressable objects on an
// S3-compatible backend (Cloudflare R2 in production, MinIO locally).
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// defaultExtension is used for keys when the filename carries no extension.
const defaultExtension = "jpg"

// r2HostSuffix is the host pattern of Cloudflare R2 S3 endpoints.
const r2HostSuffix = ".r2.cloudflarestorage.com"

var (
	// ErrInvalidConfig is returned when credentials or the bucket are missing.
	ErrInvalidConfig = errors.New("invalid storage config")
	// ErrUploadFailed wraps any backend failure during an upload, including timeouts.
	ErrUploadFailed = errors.New("upload failed")
)

// Config describes how to reach the backend. It is treated as immutable once a
// Client is built from it; reconfiguring means building a new Client.
type Config struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Endpoint        string `json:"endpoint"`
	BucketName      string `json:"bucket_name"`
	PublicURLBase   string `json:"public_url_base"`
}

// Validate checks the required fields and returns non-fatal warnings about the endpoint.
func (c Config) Validate() (warnings []string, err error) {
	var errs []error
	if c.AccessKeyID == "" {
		errs = append(errs, errors.New("access key id is empty"))
	}
	if c.SecretAccessKey == "" {
		errs = append(errs, errors.New("secret access key is empty"))
	}
	if c.BucketName == "" {
		errs = append(errs, errors.New("bucket name is empty"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	if !strings.HasPrefix(c.Endpoint, "https://") {
		warnings = append(warnings, "endpoint should start with https://")
	}
	if !strings.Contains(c.Endpoint, r2HostSuffix) {
		warnings = append(warnings, "endpoint does not look like https://<account_id>"+r2HostSuffix)
	}
	if u, err := url.Parse(c.Endpoint); err == nil && strings.Trim(u.Path, "/") != "" {
		warnings = append(warnings, fmt.Sprintf("endpoint path %q is ignored, set the bucket name separately", u.Path))
	}
	return warnings, nil
}

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey returns a fresh "<uuid>.<ext>" key. The extension comes from
// filename, or "jpg" when it has none. Keys never depend on content.
func ObjectKey(filename string) string {
	return uuid.NewString() + "." + extension(filename)
}

func extension(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := filepath.Ext(base)
	// A leading dot names a hidden file, not an extension.
	if ext == base {
		return defaultExtension
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return defaultExtension
	}
	return ext
}
