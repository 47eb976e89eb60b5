// Package publish uploads finished clips to object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/heimdex/heimdex-clipper/internal/playback"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// Publisher stores a local clip under key and returns its remote URL.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (string, error)
	Enabled() bool
}

// UploadError represents a failed object upload.
type UploadError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upload %s failed: HTTP %d: %v", e.Key, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

type Config struct {
	BucketURL string
	SecretID  string
	SecretKey string
	Prefix    string
	Retries   int
	// RetryDelay is the wait before the second attempt; it doubles after
	// every further failure.
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.BucketURL != "" }

// COSPublisher uploads to a Tencent Cloud COS bucket.
type COSPublisher struct {
	client *cos.Client
	bucket *url.URL
	cfg    Config
}

func NewCOS(cfg Config) (*COSPublisher, error) {
	u, err := url.Parse(cfg.BucketURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid bucket url %q", cfg.BucketURL)
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: cfg.Timeout,
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSPublisher{client: client, bucket: u, cfg: cfg}, nil
}

func (p *COSPublisher) Enabled() bool { return true }

// Publish uploads localPath to {prefix}/{key}, retrying transient failures.
func (p *COSPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	objectKey := ObjectKey(p.cfg.Prefix, key)

	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: playback.ContentType(localPath),
		},
	}

	var uerr *UploadError
	delay := p.cfg.RetryDelay
	for attempt := 1; attempt <= p.cfg.Retries; attempt++ {
		uerr = p.put(ctx, objectKey, localPath, opt)
		if uerr == nil || !uerr.IsRetryable() || attempt == p.cfg.Retries {
			break
		}
		p.cfg.Logger.Warn("clip upload failed, retrying", "key", objectKey, "attempt", attempt, "delay", delay, "error", uerr.Err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &UploadError{Key: objectKey, Err: ctx.Err()}
		case <-timer.C:
		}
		delay *= 2
	}
	if uerr != nil {
		return "", uerr
	}

	remote := p.bucket.JoinPath(objectKey).String()
	p.cfg.Logger.Info("clip published", "key", objectKey, "url", remote)
	return remote, nil
}

func (p *COSPublisher) put(ctx context.Context, objectKey, localPath string, opt *cos.ObjectPutOptions) *UploadError {
	f, err := os.Open(localPath)
	if err != nil {
		return &UploadError{Key: objectKey, StatusCode: http.StatusBadRequest, Err: err}
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil {
		p.cfg.Logger.Debug("uploading clip", "key", objectKey, "size", humanize.Bytes(uint64(st.Size())))
	}

	_, err = p.client.Object.Put(ctx, objectKey, f, opt)
	if err == nil {
		return nil
	}
	if cosErr, ok := cos.IsCOSError(err); ok && cosErr.Response != nil {
		return &UploadError{Key: objectKey, StatusCode: cosErr.Response.StatusCode, Err: errors.New(cosErr.Message)}
	}
	return &UploadError{Key: objectKey, Err: err}
}

// ObjectKey joins prefix and key into a slash separated object name.
func ObjectKey(prefix, key string) string {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// Noop is the Publisher used when no bucket is configured.
type Noop struct{}

func (Noop) Enabled() bool { return false }

func (Noop) Publish(ctx context.Context, localPath, key string) (string, error) {
	return "", nil
}

// New returns a COS publisher when cfg names a bucket and Noop otherwise.
func New(cfg Config) (Publisher, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	return NewCOS(cfg)
}
