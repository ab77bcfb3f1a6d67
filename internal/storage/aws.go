// Package storage provides the Amazon S3 backend for bucketwalk.
//
// Buckets and objects map one-to-one onto real S3 buckets and keys. The
// region comes from the standard AWS configuration chain (AWS_REGION,
// ~/.aws/config profile) unless overridden, and credentials are resolved via
// the default credential chain or static keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
)

// defaultAWSRegion is the region S3 treats as the absence of a location
// constraint.
const defaultAWSRegion = "us-east-1"

// S3API defines the subset of the AWS S3 client interface that the backend
// uses. This allows mocking in tests.
type S3API interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// AWSBackend implements Backend against Amazon S3 (or an S3-compatible
// endpoint) through the AWS SDK for Go v2.
type AWSBackend struct {
	// region is the region resolved from the AWS configuration.
	region string
	// waitDelay is the minimum delay between waiter attempts.
	waitDelay time.Duration
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// NewAWSBackend loads the AWS configuration and builds an S3 client. An
// empty region keeps whatever the configuration chain resolves. Static
// credentials are used when both keys are set, and endpointURL/usePathStyle
// target S3-compatible services.
func NewAWSBackend(ctx context.Context, region, endpointURL string, usePathStyle bool, accessKeyID, secretAccessKey string) (*AWSBackend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	// Use static credentials if provided, otherwise fall back to default chain.
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	if usePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	slog.Info("AWS backend initialized", "region", cfg.Region, "endpoint", endpointURL)
	return &AWSBackend{
		region: cfg.Region,
		client: s3.NewFromConfig(cfg, s3Opts...),
	}, nil
}

// NewAWSBackendWithClient creates an AWSBackend with a pre-configured S3
// client. This is primarily used for testing with mock clients.
func NewAWSBackendWithClient(region string, client S3API) *AWSBackend {
	return &AWSBackend{
		region: region,
		client: client,
	}
}

// SetWaitDelay sets the minimum delay between S3 waiter attempts.
func (b *AWSBackend) SetWaitDelay(d time.Duration) {
	b.waitDelay = d
}

// Region returns the region resolved from the AWS configuration.
func (b *AWSBackend) Region() string {
	return b.region
}

// CreateBucket creates an S3 bucket. us-east-1 (or an empty region) is sent
// without a LocationConstraint, which S3 rejects for that region.
func (b *AWSBackend) CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error) {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	if region != "" && region != defaultAWSRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	resp, err := b.client.CreateBucket(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("creating S3 bucket %q in %q: %w", bucket, region, err)
	}

	return &BucketInfo{
		Name:      bucket,
		Region:    region,
		Location:  aws.ToString(resp.Location),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PutObject streams r to S3 with the requested canned ACL and content type.
func (b *AWSBackend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (int64, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(opts.ACL)
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("uploading %s/%s to S3: %w", bucket, key, err)
	}
	return size, nil
}

// GetObject retrieves object data from S3. The caller is responsible for
// closing the returned ReadCloser.
func (b *AWSBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, 0, awsNotFound(err, bucket, key)
		}
		return nil, 0, fmt.Errorf("getting %s/%s from S3: %w", bucket, key, err)
	}

	return resp.Body, aws.ToInt64(resp.ContentLength), nil
}

// CopyObject performs an S3 server-side copy of key from srcBucket into
// dstBucket.
func (b *AWSBackend) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(key),
		CopySource: aws.String(copySource(srcBucket, key)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return awsNotFound(err, srcBucket, key)
		}
		return fmt.Errorf("copying %s/%s to %s in S3: %w", srcBucket, key, dstBucket, err)
	}
	return nil
}

// DeleteObject removes an object from S3.
// Idempotent: S3 DeleteObject does not error on missing keys.
func (b *AWSBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s/%s from S3: %w", bucket, key, err)
	}
	return nil
}

// ObjectExists checks whether an object exists in S3.
func (b *AWSBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s/%s in S3: %w", bucket, key, err)
	}
	return true, nil
}

// WaitObjectExists blocks on the SDK's ObjectExists waiter.
func (b *AWSBackend) WaitObjectExists(ctx context.Context, bucket, key string, maxWait time.Duration) error {
	w := s3.NewObjectExistsWaiter(b.client, func(o *s3.ObjectExistsWaiterOptions) {
		if b.waitDelay > 0 {
			o.MinDelay = b.waitDelay
			o.MaxDelay = max(o.MaxDelay, b.waitDelay)
		}
	})
	input := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if err := w.Wait(ctx, input, maxWait); err != nil {
		return waiterError(ctx, err, fmt.Sprintf("waiting for %s/%s to exist", bucket, key))
	}
	return nil
}

// WaitObjectNotExists blocks on the SDK's ObjectNotExists waiter.
func (b *AWSBackend) WaitObjectNotExists(ctx context.Context, bucket, key string, maxWait time.Duration) error {
	w := s3.NewObjectNotExistsWaiter(b.client, func(o *s3.ObjectNotExistsWaiterOptions) {
		if b.waitDelay > 0 {
			o.MinDelay = b.waitDelay
			o.MaxDelay = max(o.MaxDelay, b.waitDelay)
		}
	})
	input := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if err := w.Wait(ctx, input, maxWait); err != nil {
		return waiterError(ctx, err, fmt.Sprintf("waiting for %s/%s to be deleted", bucket, key))
	}
	return nil
}

// waiterError wraps a failed SDK wait. The waiter reports an expired budget
// with a plain error (or the deadline of its own context) while request
// failures carry the operation or API error, so only the former is marked
// ErrWaitTimeout. A canceled caller context is never a timeout.
func waiterError(ctx context.Context, err error, msg string) error {
	if ctx.Err() == nil {
		var opErr *smithy.OperationError
		var apiErr smithy.APIError
		if errors.Is(err, context.DeadlineExceeded) || (!errors.As(err, &opErr) && !errors.As(err, &apiErr)) {
			return fmt.Errorf("%s: %w: %w", msg, ErrWaitTimeout, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// HealthCheck verifies that S3 accepts the configured credentials.
func (b *AWSBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return fmt.Errorf("listing S3 buckets: %w", err)
	}
	return nil
}

// copySource builds the URL-encoded "bucket/key" CopySource value, keeping
// the slashes that separate key segments.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// awsNotFound wraps a provider not-found error with the matching S3Error so
// callers can classify it without losing the provider detail.
func awsNotFound(err error, bucket, key string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket" {
		return fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, bucket, err)
	}
	return fmt.Errorf("%w: %s/%s: %w", s3err.ErrNoSuchKey, bucket, key, err)
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404", "NoSuchBucket":
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	// Check HTTP status code via ResponseError.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// Ensure AWSBackend implements Backend and Waiter at compile time.
var (
	_ Backend = (*AWSBackend)(nil)
	_ Waiter  = (*AWSBackend)(nil)
)
