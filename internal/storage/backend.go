// Package storage defines the Backend interface the facade delegates to and
// its provider implementations: Amazon S3, Google Cloud Storage, Azure Blob
// Storage, and the self-hosted memory, local filesystem and SQLite backends.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
)

// ACL is a canned access policy applied to an object at upload time.
type ACL string

// Canned ACLs understood by the backends. The empty ACL leaves the
// provider default in place.
const (
	ACLPrivate                ACL = "private"
	ACLPublicRead             ACL = "public-read"
	ACLPublicReadWrite        ACL = "public-read-write"
	ACLAuthenticatedRead      ACL = "authenticated-read"
	ACLBucketOwnerRead        ACL = "bucket-owner-read"
	ACLBucketOwnerFullControl ACL = "bucket-owner-full-control"
)

// Valid reports whether a is empty or one of the canned ACLs.
func (a ACL) Valid() bool {
	switch a {
	case "", ACLPrivate, ACLPublicRead, ACLPublicReadWrite, ACLAuthenticatedRead,
		ACLBucketOwnerRead, ACLBucketOwnerFullControl:
		return true
	}
	return false
}

// PutOptions carries the optional object attributes set on upload.
type PutOptions struct {
	// ACL is the canned access policy. Empty means provider default.
	ACL ACL
	// ContentType is the MIME type stored with the object.
	ContentType string
}

// BucketInfo describes a bucket as reported back by the provider on creation.
type BucketInfo struct {
	// Name is the bucket name.
	Name string
	// Region is the region the bucket was created in.
	Region string
	// Location is the provider-reported location (a URL or path), if any.
	Location string
	// CreatedAt is when the backend recorded the bucket.
	CreatedAt time.Time
}

// Backend is the storage provider collaborator behind the facade. Every
// method is a single request to the provider; failures are returned with the
// provider's error in the chain. Implementations must be safe for concurrent
// use.
type Backend interface {
	// Region returns the region resolved from the backend's session or
	// configuration. It may be empty when the provider has no notion of one.
	Region() string

	// CreateBucket creates a bucket scoped to region.
	CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error)

	// PutObject writes size bytes from r to bucket/key and returns the
	// number of bytes stored.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (int64, error)

	// GetObject returns the object's content and size. The caller closes
	// the reader.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)

	// CopyObject copies srcBucket/key to dstBucket/key on the provider side.
	CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error

	// DeleteObject removes bucket/key. Deleting a missing key succeeds.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ObjectExists reports whether bucket/key exists.
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	// HealthCheck verifies that the provider is reachable with the
	// configured credentials.
	HealthCheck(ctx context.Context) error
}

// ErrWaitTimeout is returned when an object does not reach the awaited
// state within the wait budget.
var ErrWaitTimeout = errors.New("timed out waiting for object state")

// Waiter is implemented by backends whose SDK ships its own consistency
// waiters. The facade prefers these over polling ObjectExists. When maxWait
// elapses first the returned error wraps ErrWaitTimeout.
type Waiter interface {
	// WaitObjectExists blocks until bucket/key is visible or maxWait elapses.
	WaitObjectExists(ctx context.Context, bucket, key string, maxWait time.Duration) error
	// WaitObjectNotExists blocks until bucket/key is gone or maxWait elapses.
	WaitObjectNotExists(ctx context.Context, bucket, key string, maxWait time.Duration) error
}

// IsNotFound reports whether err means the bucket or object does not exist,
// regardless of which backend produced it.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, s3err.ErrNoSuchKey) || errors.Is(err, s3err.ErrNoSuchBucket) {
		return true
	}
	return isAWSNotFound(err) || isGCSNotFound(err) || isAzureNotFound(err)
}

// validateACL rejects ACL values a self-hosted backend cannot interpret.
func validateACL(acl ACL) error {
	if !acl.Valid() {
		return s3err.ErrInvalidArgument.WithMessage("unknown canned ACL %q", acl)
	}
	return nil
}
