package oss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/franz/fpvscan/internal/util"
)

const listPageSize = 1000

// Aliyun is a Backend for Aliyun OSS
type Aliyun struct {
	bucket *alioss.Bucket
	name   string
}

// NewAliyun connects to an Aliyun OSS bucket
func NewAliyun(cfg Config) (*Aliyun, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: OSS endpoint and bucket are required", util.ErrInvalidConfig)
	}

	client, err := alioss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", cfg.Bucket, err)
	}

	return &Aliyun{bucket: bucket, name: cfg.Bucket}, nil
}

func (a *Aliyun) Bucket() string {
	return a.name
}

// ListPage lists one page using the marker returned by the previous page
func (a *Aliyun) ListPage(_ context.Context, prefix string, delimited bool, token string) (Page, error) {
	opts := []alioss.Option{
		alioss.Prefix(prefix),
		alioss.MaxKeys(listPageSize),
		alioss.Marker(token),
	}
	if delimited {
		opts = append(opts, alioss.Delimiter("/"))
	}

	res, err := a.bucket.ListObjects(opts...)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Prefixes:  res.CommonPrefixes,
		Truncated: res.IsTruncated,
		NextToken: res.NextMarker,
	}
	for _, obj := range res.Objects {
		page.Keys = append(page.Keys, obj.Key)
	}
	return page, nil
}

func (a *Aliyun) Exists(_ context.Context, key string) (bool, error) {
	return a.bucket.IsObjectExist(key)
}

func (a *Aliyun) Size(_ context.Context, key string) (int64, error) {
	header, err := a.bucket.GetObjectMeta(key)
	if err != nil {
		if code, ok := aliyunStatus(err); ok && code == http.StatusNotFound {
			return 0, fmt.Errorf("%s: %w", key, util.ErrNotFound)
		}
		return 0, err
	}

	n, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Length for %s: %w", key, err)
	}
	return n, nil
}

func (a *Aliyun) Download(_ context.Context, key, localPath string) error {
	return a.bucket.GetObjectToFile(key, localPath)
}

// aliyunStatus extracts the HTTP status of an OSS service error
func aliyunStatus(err error) (int, bool) {
	var svcErr alioss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode, true
	}
	var svcPtr *alioss.ServiceError
	if errors.As(err, &svcPtr) && svcPtr != nil {
		return svcPtr.StatusCode, true
	}
	return 0, false
}
