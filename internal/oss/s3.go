package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/franz/fpvscan/internal/util"
)

// S3 is a Backend for S3-compatible storage
type S3 struct {
	api  *s3.S3
	name string
}

// NewS3 creates an S3 backend. A custom endpoint switches to path-style
// addressing.
func NewS3(cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: OSS bucket is required", util.ErrInvalidConfig)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := &aws.Config{
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		Region:      aws.String(region),
		MaxRetries:  aws.Int(0),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3{api: s3.New(sess), name: cfg.Bucket}, nil
}

func (b *S3) Bucket() string {
	return b.name
}

func (b *S3) ListPage(ctx context.Context, prefix string, delimited bool, token string) (Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.name),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(listPageSize),
	}
	if delimited {
		in.Delimiter = aws.String("/")
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}

	out, err := b.api.ListObjectsV2WithContext(ctx, in)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Truncated: aws.BoolValue(out.IsTruncated),
		NextToken: aws.StringValue(out.NextContinuationToken),
	}
	for _, cp := range out.CommonPrefixes {
		page.Prefixes = append(page.Prefixes, aws.StringValue(cp.Prefix))
	}
	for _, obj := range out.Contents {
		page.Keys = append(page.Keys, aws.StringValue(obj.Key))
	}
	return page, nil
}

func (b *S3) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := b.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", key, util.ErrNotFound)
		}
		return nil, err
	}
	return out, nil
}

func (b *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.head(ctx, key)
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *S3) Size(ctx context.Context, key string) (int64, error) {
	out, err := b.head(ctx, key)
	if err != nil {
		return 0, err
	}
	return aws.Int64Value(out.ContentLength), nil
}

// Download streams the object into a temp file next to localPath and
// renames it into place
func (b *S3) Download(ctx context.Context, key, localPath string) error {
	out, err := b.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".*.part")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), localPath)
}

// awsRetryable classifies AWS SDK errors. The second value is false when
// err is not an AWS error.
func awsRetryable(err error) (bool, bool) {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false, false
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		code := reqErr.StatusCode()
		if code == http.StatusNotFound || code == http.StatusForbidden {
			return false, true
		}
		if code >= 500 || code == http.StatusTooManyRequests {
			return true, true
		}
	}
	return request.IsErrorRetryable(err) || request.IsErrorThrottle(err), true
}
