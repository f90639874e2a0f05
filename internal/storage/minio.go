package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// R2 accepts "auto"; pinning a region also stops minio from issuing bucket-location lookups.
const region = "auto"

const (
	defaultUploadTimeout = 60 * time.Second
	probeTimeout         = 10 * time.Second
)

// Client uploads objects to the configured bucket. It holds only immutable
// state plus minio's pooled transport, so a *Client is safe to share between
// goroutines and cheap to hand out.
type Client struct {
	client     *minio.Client
	cfg        Config
	publicBase string
	timeout    time.Duration
	log        zerolog.Logger
}

// New validates cfg, builds a minio client and probes the bucket with a
// one-key listing. A failed probe is logged and does not fail construction;
// problems surface on the first upload instead.
func New(ctx context.Context, cfg Config, log zerolog.Logger, timeout time.Duration) (*Client, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn().Str("endpoint", cfg.Endpoint).Msg(w)
	}

	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	mc, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}

	c := &Client{
		client:     mc,
		cfg:        cfg,
		publicBase: strings.TrimRight(cfg.PublicURLBase, "/"),
		timeout:    timeout,
		log:        log,
	}

	if err := c.probe(ctx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.BucketName).Msg("bucket access probe failed, check storage configuration")
	} else {
		log.Debug().Str("bucket", cfg.BucketName).Msg("bucket access probe succeeded")
	}

	return c, nil
}

// Config returns the backend settings this client was built from.
func (c *Client) Config() Config {
	return c.cfg
}

// Upload stores data under a fresh key and returns its public URL.
func (c *Client) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	key := ObjectKey(filename)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.client.PutObject(ctx, c.cfg.BucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timeout after %s", ErrUploadFailed, c.timeout)
		}
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, err.Error())
	}

	c.log.Debug().
		Str("key", key).
		Int("size", len(data)).
		Str("content_type", contentType).
		Dur("took", time.Since(start)).
		Msg("object stored")

	return c.PublicURL(key), nil
}

// PublicURL returns the browser-accessible URL for the given key.
func (c *Client) PublicURL(key string) string {
	return c.publicBase + "/" + key
}

func (c *Client) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	// cancel() on return stops minio's listing goroutine after the first key.
	obj, ok := <-c.client.ListObjects(ctx, c.cfg.BucketName, minio.ListObjectsOptions{MaxKeys: 1})
	if !ok {
		return nil
	}
	return obj.Err
}

// splitEndpoint turns "https://host[:port][/path]" into the host and TLS flag
// minio expects. A bare "host:port" is treated as plain HTTP.
func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, errors.New("endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), false, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("endpoint scheme %q is not http or https", u.Scheme)
	}
}
