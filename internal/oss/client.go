// Package oss lists and fetches session objects from object storage
package oss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/franz/fpvscan/internal/util"
)

// Backend names accepted by New
const (
	BackendAliyun = "aliyun"
	BackendS3     = "s3"
)

// Page is one page of a listing
type Page struct {
	Prefixes  []string // common prefixes, only for delimited listings
	Keys      []string
	NextToken string
	Truncated bool
}

// Backend is a single-call object storage API. Implementations do not retry.
type Backend interface {
	Bucket() string
	ListPage(ctx context.Context, prefix string, delimited bool, token string) (Page, error)
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context, key string) (int64, error)
	Download(ctx context.Context, key, localPath string) error
}

// Config selects and configures a backend
type Config struct {
	Backend         string // aliyun (default), s3 or local
	Endpoint        string
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Client wraps a Backend with retries and exhausts listings page by page.
// Every call is retried with exponential backoff on transient errors.
type Client struct {
	backend Backend
	retry   *util.RetryConfig
	logger  *slog.Logger
}

// New builds a Client for the configured backend
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", BackendAliyun:
		b, err = NewAliyun(cfg)
	case BackendS3:
		b, err = NewS3(cfg)
	case BackendLocal:
		b, err = NewLocal(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown OSS backend %q", util.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(b, util.RemoteRetryConfig(), logger), nil
}

// WithRetry wraps b with the given retry policy. Transient errors are
// classified by IsTransient.
func WithRetry(b Backend, cfg *util.RetryConfig, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = util.RemoteRetryConfig()
	}
	logger = util.OrNop(logger)
	rc := cfg.WithLogger(logger)
	rc.Retryable = IsTransient
	return &Client{backend: b, retry: rc, logger: logger}
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.backend.Bucket()
}

// Path returns the oss:// location of a key in this client's bucket
func (c *Client) Path(key string) string {
	return Path(c.backend.Bucket(), key)
}

// Path formats an object location as oss://bucket/key
func Path(bucket, key string) string {
	return "oss://" + bucket + "/" + key
}

// Key splits an oss://bucket/key location into its object key
func Key(location string) (string, bool) {
	rest, ok := strings.CutPrefix(location, "oss://")
	if !ok {
		return "", false
	}
	_, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// ListPrefixes returns the immediate child prefixes of prefix
func (c *Client) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := c.walk(ctx, prefix, true, func(p Page) error {
		out = append(out, p.Prefixes...)
		return nil
	})
	return out, err
}

// ListObjects returns every key under prefix, recursively
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := c.EachObject(ctx, prefix, func(key string) error {
		out = append(out, key)
		return nil
	})
	return out, err
}

// EachObject calls fn for every key under prefix, fetching the next page
// only after fn has seen the previous one. An error from fn stops the walk.
func (c *Client) EachObject(ctx context.Context, prefix string, fn func(key string) error) error {
	return c.walk(ctx, prefix, false, func(p Page) error {
		for _, k := range p.Keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) walk(ctx context.Context, prefix string, delimited bool, fn func(Page) error) error {
	token := ""
	for {
		page, err := util.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) (Page, error) {
			return c.backend.ListPage(ctx, prefix, delimited, token)
		}, "list "+prefix)
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		if err := fn(page); err != nil {
			return err
		}
		if !page.Truncated || page.NextToken == "" || page.NextToken == token {
			return nil
		}
		token = page.NextToken
	}
}

// ObjectExists reports whether key exists
func (c *Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	ok, err := util.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) (bool, error) {
		return c.backend.Exists(ctx, key)
	}, "exists "+key)
	if err != nil {
		return false, fmt.Errorf("failed to check %q: %w", key, err)
	}
	return ok, nil
}

// ObjectSize returns the size of key in bytes
func (c *Client) ObjectSize(ctx context.Context, key string) (int64, error) {
	n, err := util.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) (int64, error) {
		return c.backend.Size(ctx, key)
	}, "size "+key)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return n, nil
}

// Download copies key to localPath
func (c *Client) Download(ctx context.Context, key, localPath string) error {
	err := util.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.backend.Download(ctx, key, localPath)
	}, "download "+key)
	if err != nil {
		return fmt.Errorf("failed to download %q: %w", key, err)
	}
	return nil
}

// statusError is implemented by SDK errors carrying an HTTP status
type statusError interface {
	StatusCode() int
}

// IsTransient classifies object storage errors worth retrying: 5xx and
// 429 responses, network failures, and the generic transient patterns.
// Not-found and permission errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, util.ErrNotFound) {
		return false
	}

	if code, ok := aliyunStatus(err); ok {
		return code >= 500 || code == 429
	}
	if retryable, ok := awsRetryable(err); ok {
		return retryable
	}

	var se statusError
	if errors.As(err, &se) {
		code := se.StatusCode()
		return code >= 500 || code == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return util.IsRetryableError(err)
}
