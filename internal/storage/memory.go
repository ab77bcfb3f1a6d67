package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
	"github.com/bleepstore/bucketwalk/internal/naming"
)

// memObject holds the raw data and upload attributes of an in-memory object.
type memObject struct {
	Data        []byte
	ACL         ACL
	ContentType string
}

type memBucket struct {
	region    string
	createdAt time.Time
	objects   map[string]memObject
}

// MemoryBackend implements Backend using in-memory maps. It behaves like a
// strongly consistent provider and is the default backend for walkthroughs
// and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	region  string
	buckets map[string]*memBucket
}

// NewMemoryBackend creates an empty MemoryBackend reporting region.
func NewMemoryBackend(region string) *MemoryBackend {
	return &MemoryBackend{
		region:  region,
		buckets: make(map[string]*memBucket),
	}
}

// Region returns the region the backend was configured with.
func (b *MemoryBackend) Region() string {
	return b.region
}

// CreateBucket records a new bucket. Names follow S3 rules and
// must be unique within the backend.
func (b *MemoryBackend) CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error) {
	if err := naming.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if region == "" {
		region = b.region
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.buckets[bucket]; ok {
		return nil, s3err.ErrBucketAlreadyOwnedByYou.WithMessage("bucket %q already exists", bucket)
	}
	mb := &memBucket{
		region:    region,
		createdAt: time.Now().UTC(),
		objects:   make(map[string]memObject),
	}
	b.buckets[bucket] = mb
	return &BucketInfo{
		Name:      bucket,
		Region:    region,
		Location:  "/" + bucket,
		CreatedAt: mb.createdAt,
	}, nil
}

// PutObject reads all data from the reader and stores it under bucket/key,
// replacing any existing object.
func (b *MemoryBackend) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (int64, error) {
	if err := validateACL(opts.ACL); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, fmt.Errorf("reading object data: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.buckets[bucket]
	if !ok {
		return 0, fmt.Errorf("%w: %s", s3err.ErrNoSuchBucket, bucket)
	}
	mb.objects[key] = memObject{Data: data, ACL: opts.ACL, ContentType: opts.ContentType}
	return int64(len(data)), nil
}

// GetObject returns a reader over a copy of the object's data.
func (b *MemoryBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, err := b.lookupLocked(bucket, key)
	if err != nil {
		return nil, 0, err
	}
	data := bytes.Clone(obj.Data)
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// CopyObject duplicates srcBucket/key into dstBucket/key. The copy carries
// the source content type and the default ACL, as S3 does.
func (b *MemoryBackend) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookupLocked(srcBucket, key)
	if err != nil {
		return err
	}
	dst, ok := b.buckets[dstBucket]
	if !ok {
		return fmt.Errorf("%w: %s", s3err.ErrNoSuchBucket, dstBucket)
	}
	dst.objects[key] = memObject{Data: bytes.Clone(obj.Data), ContentType: obj.ContentType}
	return nil
}

// DeleteObject removes bucket/key. Idempotent for missing keys.
func (b *MemoryBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.buckets[bucket]
	if !ok {
		return fmt.Errorf("%w: %s", s3err.ErrNoSuchBucket, bucket)
	}
	delete(mb.objects, key)
	return nil
}

// ObjectExists reports whether bucket/key is stored.
func (b *MemoryBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mb, ok := b.buckets[bucket]
	if !ok {
		return false, nil
	}
	_, ok = mb.objects[key]
	return ok, nil
}

// HealthCheck always succeeds for the memory backend.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// ObjectACL returns the canned ACL recorded for bucket/key.
func (b *MemoryBackend) ObjectACL(bucket, key string) (ACL, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, err := b.lookupLocked(bucket, key)
	if err != nil {
		return "", err
	}
	return obj.ACL, nil
}

// ObjectContentType returns the content type recorded for bucket/key.
func (b *MemoryBackend) ObjectContentType(bucket, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, err := b.lookupLocked(bucket, key)
	if err != nil {
		return "", err
	}
	return obj.ContentType, nil
}

// lookupLocked requires b.mu to be held.
func (b *MemoryBackend) lookupLocked(bucket, key string) (memObject, error) {
	mb, ok := b.buckets[bucket]
	if !ok {
		return memObject{}, fmt.Errorf("%w: %s", s3err.ErrNoSuchBucket, bucket)
	}
	obj, ok := mb.objects[key]
	if !ok {
		return memObject{}, fmt.Errorf("%w: %s/%s", s3err.ErrNoSuchKey, bucket, key)
	}
	return obj, nil
}

// Ensure MemoryBackend implements Backend at compile time.
var _ Backend = (*MemoryBackend)(nil)
