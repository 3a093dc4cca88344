package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/nfs3gw/pkg/store"
	"github.com/marmos91/nfs3gw/pkg/store/metadata/memory"
	"github.com/marmos91/nfs3gw/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// In-memory S3 API
// ============================================================================

type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if in.Range != nil {
		var start, end int
		if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if start >= len(data) {
			return nil, &smithy.GenericAPIError{Code: "InvalidRange"}
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func newTestStore(t *testing.T) (*ContentStore, *fakeS3) {
	t.Helper()
	api := newFakeS3("bucket")
	s, err := New(context.Background(), Config{Client: api, Bucket: "bucket", KeyPrefix: "nfs3gw/", Capacity: 1 << 20})
	require.NoError(t, err)
	return s, api
}

// ============================================================================
// Tests
// ============================================================================

func TestS3ContentStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewMetadata: func(t *testing.T) store.MetadataStore { return memory.New() },
		NewContent: func(t *testing.T) store.ContentStore {
			s, _ := newTestStore(t)
			return s
		},
	}
	suite.Run(t)
}

func TestContentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresBucketAccess", func(t *testing.T) {
		_, err := New(ctx, Config{Client: newFakeS3("other"), Bucket: "bucket"})
		require.Error(t, err)
		var notFound *types.NotFound
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("KeysArePrefixed", func(t *testing.T) {
		s, api := newTestStore(t)
		require.NoError(t, s.WriteAt(ctx, "abc", 0, []byte("data")))
		assert.Contains(t, api.objects, "nfs3gw/abc")
	})

	t.Run("RangeRead", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.WriteAt(ctx, "abc", 0, []byte("0123456789")))

		data, err := s.ReadAt(ctx, "abc", 2, 3)
		require.NoError(t, err)
		assert.Equal(t, []byte("234"), data)

		data, err = s.ReadAt(ctx, "abc", 50, 3)
		require.NoError(t, err)
		assert.Empty(t, data)

		data, err = s.ReadAt(ctx, "missing", 0, 3)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("PatchInPlace", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.WriteAt(ctx, "abc", 0, []byte("hello")))
		require.NoError(t, s.WriteAt(ctx, "abc", 1, []byte("EL")))
		data, err := s.ReadAt(ctx, "abc", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []byte("hELlo"), data)
	})

	t.Run("Usage", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.WriteAt(ctx, "a", 0, []byte("12345")))
		require.NoError(t, s.WriteAt(ctx, "b", 0, []byte("123")))
		u, err := s.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, store.Usage{Capacity: 1 << 20, Used: 8}, u)

		require.NoError(t, s.Delete(ctx, "a"))
		u, err = s.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), u.Used)
	})
}
