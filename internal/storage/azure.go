// Package storage provides the Azure Blob Storage backend for bucketwalk.
//
// Buckets map onto blob containers of a single storage account. Azure has no
// per-request region: the account's location applies to every container, so
// the configured region is informational only. Server-side copies are
// asynchronous on Azure; callers wait for the destination blob to appear.
//
// Credentials are resolved via DefaultAzureCredential (env vars, managed
// identity, Azure CLI, etc.) unless a connection string is configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// AccountURL returns the storage account URL.
	AccountURL() string
	// CreateContainer creates a blob container.
	CreateContainer(ctx context.Context, containerName string) error
	// UploadBlob streams body to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, body io.Reader, contentType string) error
	// DownloadBlob opens a blob's contents and returns its size.
	DownloadBlob(ctx context.Context, containerName, blobName string) (io.ReadCloser, int64, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
	// StartCopyFromURL starts copying a blob from a source URL.
	StartCopyFromURL(ctx context.Context, containerName, blobName, sourceURL string) error
	// ServiceProperties fetches the account's blob service properties.
	ServiceProperties(ctx context.Context) error
}

// AzureBackend implements Backend against Azure Blob Storage.
type AzureBackend struct {
	// region is the storage account's location as configured.
	region string
	// client is the Azure Blob client (satisfying AzureBlobAPI interface).
	client AzureBlobAPI
}

// NewAzureBackend creates an AzureBackend for the storage account at
// accountURL. A non-empty connectionString takes precedence over accountURL.
func NewAzureBackend(ctx context.Context, accountURL, connectionString string, useManagedIdentity bool, region string) (*AzureBackend, error) {
	client, err := newRealAzureClient(accountURL, connectionString, useManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	slog.Info("Azure backend initialized", "account", client.AccountURL(), "region", region)
	return &AzureBackend{region: region, client: client}, nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// Azure client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(region string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{region: region, client: client}
}

// Region returns the configured account location.
func (b *AzureBackend) Region() string {
	return b.region
}

// CreateBucket creates a blob container named bucket. The region cannot be
// chosen per container and is only recorded in the returned info.
func (b *AzureBackend) CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error) {
	if err := b.client.CreateContainer(ctx, bucket); err != nil {
		return nil, fmt.Errorf("creating Azure container %q: %w", bucket, err)
	}
	return &BucketInfo{
		Name:      bucket,
		Region:    region,
		Location:  strings.TrimRight(b.client.AccountURL(), "/") + "/" + bucket,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PutObject streams r into a block blob. Azure has no per-blob ACL, so only
// the private (or default) policy is accepted.
func (b *AzureBackend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (int64, error) {
	if opts.ACL != "" && opts.ACL != ACLPrivate {
		if !opts.ACL.Valid() {
			return 0, s3err.ErrInvalidArgument.WithMessage("unknown canned ACL %q", opts.ACL)
		}
		return 0, s3err.ErrNotImplemented.WithMessage("Azure Blob Storage does not support the per-object ACL %q", opts.ACL)
	}

	counter := &countingReader{r: r}
	if err := b.client.UploadBlob(ctx, bucket, key, counter, opts.ContentType); err != nil {
		if isAzureNotFound(err) {
			return 0, fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, bucket, err)
		}
		return 0, fmt.Errorf("uploading %s/%s to Azure Blob: %w", bucket, key, err)
	}
	return counter.n, nil
}

// GetObject retrieves blob data. The caller is responsible for closing the
// returned ReadCloser.
func (b *AzureBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	body, size, err := b.client.DownloadBlob(ctx, bucket, key)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, 0, azureNotFound(err, bucket, key)
		}
		return nil, 0, fmt.Errorf("getting %s/%s from Azure Blob: %w", bucket, key, err)
	}
	return body, size, nil
}

// CopyObject starts a server-side copy of key from srcBucket to dstBucket.
// The copy may still be pending when this returns.
func (b *AzureBackend) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error {
	sourceURL := strings.TrimRight(b.client.AccountURL(), "/") + "/" + copySource(srcBucket, key)

	if err := b.client.StartCopyFromURL(ctx, dstBucket, key, sourceURL); err != nil {
		// ContainerNotFound names the destination; a missing source is
		// reported as CannotVerifyCopySource.
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, dstBucket, err)
		}
		if isAzureNotFound(err) {
			return azureNotFound(err, srcBucket, key)
		}
		return fmt.Errorf("copying %s/%s to %s in Azure Blob: %w", srcBucket, key, dstBucket, err)
	}
	return nil
}

// DeleteObject removes a blob.
// Idempotent: catches not-found silently.
func (b *AzureBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := b.client.DeleteBlob(ctx, bucket, key); err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting %s/%s from Azure Blob: %w", bucket, key, err)
	}
	return nil
}

// ObjectExists checks whether a blob exists.
func (b *AzureBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	exists, err := b.client.BlobExists(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s in Azure Blob: %w", bucket, key, err)
	}
	return exists, nil
}

// HealthCheck verifies that the storage account is reachable.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	if err := b.client.ServiceProperties(ctx); err != nil {
		return fmt.Errorf("reading Azure service properties: %w", err)
	}
	return nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func azureNotFound(err error, bucket, key string) error {
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, bucket, err)
	}
	return fmt.Errorf("%w: %s/%s: %w", s3err.ErrNoSuchKey, bucket, key, err)
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist")
}

// Ensure AzureBackend implements Backend at compile time.
var _ Backend = (*AzureBackend)(nil)
