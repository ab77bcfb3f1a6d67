// Package storage provides the Google Cloud Storage backend for bucketwalk.
//
// Buckets map onto GCS buckets created in the configured project, and the
// region becomes the bucket location. Credentials are resolved via
// Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS, gcloud
// auth, metadata server) unless a credentials file is configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
)

// defaultGCSLocation is used when neither config nor caller names a region.
const defaultGCSLocation = "US"

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// CreateBucket creates a bucket in project at location.
	CreateBucket(ctx context.Context, bucket, project, location string) error
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object, contentType, predefinedACL string) io.WriteCloser
	// NewReader returns a reader and the size of the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error)
	// Exists reports whether the given GCS object exists.
	Exists(ctx context.Context, bucket, object string) (bool, error)
	// Copy copies object from srcBucket to dstBucket.
	Copy(ctx context.Context, srcBucket, dstBucket, object string) error
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Ping lists at most one bucket of project to verify access.
	Ping(ctx context.Context, project string) error
	// Close releases the client's connections.
	Close() error
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) CreateBucket(ctx context.Context, bucket, project, location string) error {
	return c.client.Bucket(bucket).Create(ctx, project, &gcs.BucketAttrs{Location: location})
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object, contentType, predefinedACL string) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.PredefinedACL = predefinedACL
	return w
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error) {
	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	return r, r.Attrs.Size, nil
}

func (c *realGCSClient) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *realGCSClient) Copy(ctx context.Context, srcBucket, dstBucket, object string) error {
	src := c.client.Bucket(srcBucket).Object(object)
	dst := c.client.Bucket(dstBucket).Object(object)
	_, err := dst.CopierFrom(src).Run(ctx)
	return err
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Ping(ctx context.Context, project string) error {
	it := c.client.Buckets(ctx, project)
	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func (c *realGCSClient) Close() error {
	return c.client.Close()
}

// GCPBackend implements Backend against Google Cloud Storage.
type GCPBackend struct {
	// Project is the GCP project ID buckets are created in.
	Project string
	// location is the default bucket location.
	location string
	// client is the GCS client (satisfying GCSAPI interface).
	client GCSAPI
}

// NewGCPBackend creates a GCPBackend. credentialsFile is optional; when
// empty, Application Default Credentials are used.
func NewGCPBackend(ctx context.Context, project, location, credentialsFile string) (*GCPBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	if location == "" {
		location = defaultGCSLocation
	}
	slog.Info("GCP backend initialized", "project", project, "location", location)
	return &GCPBackend{
		Project:  project,
		location: location,
		client:   &realGCSClient{client: client},
	}, nil
}

// NewGCPBackendWithClient creates a GCPBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCPBackendWithClient(project, location string, client GCSAPI) *GCPBackend {
	if location == "" {
		location = defaultGCSLocation
	}
	return &GCPBackend{
		Project:  project,
		location: location,
		client:   client,
	}
}

// Region returns the configured bucket location.
func (b *GCPBackend) Region() string {
	return b.location
}

// CreateBucket creates a GCS bucket in the backend's project at region.
func (b *GCPBackend) CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error) {
	if region == "" {
		region = b.location
	}
	if err := b.client.CreateBucket(ctx, bucket, b.Project, region); err != nil {
		return nil, fmt.Errorf("creating GCS bucket %q in %q: %w", bucket, region, err)
	}
	return &BucketInfo{
		Name:      bucket,
		Region:    region,
		Location:  "gs://" + bucket,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PutObject streams r into a GCS object. The upload is committed when the
// writer is closed; a failing reader aborts it.
func (b *GCPBackend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (int64, error) {
	acl, err := gcsPredefinedACL(opts.ACL)
	if err != nil {
		return 0, err
	}

	// Canceling the writer's context before Close aborts the upload instead
	// of committing a truncated object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := b.client.NewWriter(wctx, bucket, key, opts.ContentType, acl)
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, fmt.Errorf("uploading %s/%s to GCS: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		if isGCSNotFound(err) {
			return 0, fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, bucket, err)
		}
		return 0, fmt.Errorf("finalizing GCS upload of %s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// GetObject retrieves object data from GCS. The caller is responsible for
// closing the returned ReadCloser.
func (b *GCPBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	reader, size, err := b.client.NewReader(ctx, bucket, key)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, 0, gcsNotFound(err, bucket, key)
		}
		return nil, 0, fmt.Errorf("getting %s/%s from GCS: %w", bucket, key, err)
	}
	return reader, size, nil
}

// CopyObject copies key from srcBucket to dstBucket using GCS server-side
// rewrite.
func (b *GCPBackend) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error {
	if err := b.client.Copy(ctx, srcBucket, dstBucket, key); err != nil {
		if isGCSNotFound(err) {
			return gcsNotFound(err, srcBucket, key)
		}
		return fmt.Errorf("copying %s/%s to %s in GCS: %w", srcBucket, key, dstBucket, err)
	}
	return nil
}

// DeleteObject removes an object from GCS.
// Idempotent: catches 404 silently (GCS errors on delete of non-existent
// objects unlike S3).
func (b *GCPBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := b.client.Delete(ctx, bucket, key); err != nil {
		if isGCSNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting %s/%s from GCS: %w", bucket, key, err)
	}
	return nil
}

// ObjectExists checks whether an object exists in GCS.
func (b *GCPBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	exists, err := b.client.Exists(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s in GCS: %w", bucket, key, err)
	}
	return exists, nil
}

// HealthCheck verifies that the project's buckets can be listed.
func (b *GCPBackend) HealthCheck(ctx context.Context) error {
	if err := b.client.Ping(ctx, b.Project); err != nil {
		return fmt.Errorf("listing GCS buckets: %w", err)
	}
	return nil
}

// Close releases the GCS client.
func (b *GCPBackend) Close() error {
	return b.client.Close()
}

// gcsPredefinedACL maps a canned S3 ACL onto its GCS predefined ACL name.
func gcsPredefinedACL(acl ACL) (string, error) {
	switch acl {
	case "":
		return "", nil
	case ACLPrivate:
		return "private", nil
	case ACLPublicRead:
		return "publicRead", nil
	case ACLPublicReadWrite:
		return "publicReadWrite", nil
	case ACLAuthenticatedRead:
		return "authenticatedRead", nil
	case ACLBucketOwnerRead:
		return "bucketOwnerRead", nil
	case ACLBucketOwnerFullControl:
		return "bucketOwnerFullControl", nil
	}
	return "", s3err.ErrInvalidArgument.WithMessage("unknown canned ACL %q", acl)
}

func gcsNotFound(err error, bucket, key string) error {
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, bucket, err)
	}
	return fmt.Errorf("%w: %s/%s: %w", s3err.ErrNoSuchKey, bucket, key, err)
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	// The gRPC transport reports status codes instead of sentinels.
	if status.Code(err) == codes.NotFound {
		return true
	}
	// Check error message as fallback.
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

// Ensure GCPBackend implements Backend at compile time.
var _ Backend = (*GCPBackend)(nil)
