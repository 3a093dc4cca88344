// Package s3 stores file contents as objects in an S3 or S3-compatible
// bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// API is the subset of the S3 client the store uses.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Config configures the S3 content store.
type Config struct {
	// Client is the configured S3 client.
	Client API

	// Bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key.
	KeyPrefix string

	// Capacity is the size reported to FSSTAT. Buckets have no intrinsic
	// limit, so zero reports no capacity.
	Capacity uint64
}

// ContentStore keeps each content id in one object. Objects have no random
// write access: WriteAt reads the object, patches it and uploads it again.
type ContentStore struct {
	client    API
	bucket    string
	keyPrefix string
	capacity  uint64
}

var (
	_ store.ContentStore  = (*ContentStore)(nil)
	_ store.ContentLister = (*ContentStore)(nil)
)

// New verifies bucket access and returns the store.
func New(ctx context.Context, cfg Config) (*ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		capacity:  cfg.Capacity,
	}, nil
}

func (s *ContentStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *ContentStore) ReadAt(ctx context.Context, id string, offset uint64, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(n)-1)),
	})
	if isMissing(err) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", s.key(id), err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", s.key(id), err)
	}
	return data, nil
}

func (s *ContentStore) WriteAt(ctx context.Context, id string, offset uint64, data []byte) error {
	current, err := s.readAll(ctx, id)
	if err != nil {
		return err
	}

	end := offset + uint64(len(data))
	if end > uint64(len(current)) {
		grown := make([]byte, end)
		copy(grown, current)
		current = grown
	}
	copy(current[offset:], data)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(current),
		ContentLength: aws.Int64(int64(len(current))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", s.key(id), err)
	}
	return nil
}

func (s *ContentStore) readAll(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", s.key(id), err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *ContentStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil && !isMissing(err) {
		return fmt.Errorf("failed to delete object %s: %w", s.key(id), err)
	}
	return nil
}

// Sync is a no-op: a successful PutObject is already durable.
func (s *ContentStore) Sync(ctx context.Context, id string) error { return nil }

// List returns the content id of every object under the key prefix.
func (s *ContentStore) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
		}
	}
	return ids, nil
}

// Usage sums the size of every object under the key prefix.
func (s *ContentStore) Usage(ctx context.Context) (store.Usage, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	var used uint64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return store.Usage{}, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			used += uint64(aws.ToInt64(obj.Size))
		}
	}
	logger.Debug("S3 usage: bucket=%s prefix=%s used=%d", s.bucket, s.keyPrefix, used)
	return store.Usage{Capacity: s.capacity, Used: used}, nil
}

// isMissing reports errors meaning the object or the requested range does
// not exist.
func isMissing(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "InvalidRange":
			return true
		}
	}
	return false
}
