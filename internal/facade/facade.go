// Package facade wraps the basic object storage lifecycle (create bucket,
// upload, download, copy, delete) behind a single type that delegates every
// request to a storage.Backend.
package facade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/bleepstore/bucketwalk/internal/metrics"
	"github.com/bleepstore/bucketwalk/internal/naming"
	"github.com/bleepstore/bucketwalk/internal/storage"
)

// Default consistency wait parameters.
const (
	DefaultPollInterval = time.Second
	DefaultWaitTimeout  = 30 * time.Second
)

// ErrWaitTimeout is returned by WaitForObject and WaitForObjectGone when the
// object does not reach the awaited state before the wait timeout, whether
// the backend polls or uses a native waiter.
var ErrWaitTimeout = storage.ErrWaitTimeout

// errNotYet marks a poll whose object has not reached the awaited state.
var errNotYet = errors.New("object not in awaited state")

// Facade performs storage operations against one backend. It keeps no state
// about buckets or objects between calls.
type Facade struct {
	backend      storage.Backend
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// Option configures a Facade.
type Option func(*Facade)

// WithPollInterval sets how often ObjectExists is polled while waiting on a
// backend without native waiters.
func WithPollInterval(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithWaitTimeout bounds WaitForObject and WaitForObjectGone.
func WithWaitTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.waitTimeout = d
		}
	}
}

// New returns a Facade delegating to backend.
func New(backend storage.Backend, opts ...Option) *Facade {
	f := &Facade{
		backend:      backend,
		pollInterval: DefaultPollInterval,
		waitTimeout:  DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backend returns the backend the facade delegates to.
func (f *Facade) Backend() storage.Backend {
	return f.backend
}

// CreateBucket creates a bucket named prefix plus a random uuid in the
// backend's region and returns the generated name with the provider's
// response.
func (f *Facade) CreateBucket(ctx context.Context, prefix string) (name string, info *storage.BucketInfo, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation(metrics.OpCreateBucket, start, err) }()

	name = naming.BucketName(prefix)
	region := f.backend.Region()

	info, err = f.backend.CreateBucket(ctx, name, region)
	if err != nil {
		return "", nil, fmt.Errorf("creating bucket %s in region %q: %w", name, region, err)
	}
	metrics.BucketsCreatedTotal.Inc()
	slog.Debug("bucket created", "bucket", name, "region", info.Region, "location", info.Location)
	return name, info, nil
}

// UploadOption configures a single upload.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	key         string
	acl         storage.ACL
	contentType string
}

// WithKey stores the object under key instead of the file's base name.
func WithKey(key string) UploadOption {
	return func(o *uploadOptions) { o.key = key }
}

// WithACL applies a canned access policy to the uploaded object.
func WithACL(acl storage.ACL) UploadOption {
	return func(o *uploadOptions) { o.acl = acl }
}

// WithContentType skips content sniffing and stores contentType.
func WithContentType(contentType string) UploadOption {
	return func(o *uploadOptions) { o.contentType = contentType }
}

// UploadObject streams the file at localPath into bucket and returns the
// object key. The key is the file's base name unless WithKey is given.
func (f *Facade) UploadObject(ctx context.Context, bucket, localPath string, opts ...UploadOption) (key string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation(metrics.OpUploadObject, start, err) }()

	o := uploadOptions{key: filepath.Base(localPath)}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	if stat.IsDir() {
		return "", fmt.Errorf("uploading %s: is a directory", localPath)
	}

	if o.contentType == "" {
		mtype, err := mimetype.DetectReader(file)
		if err != nil {
			return "", fmt.Errorf("detecting content type of %s: %w", localPath, err)
		}
		o.contentType = mtype.String()
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewinding %s: %w", localPath, err)
		}
	}

	n, err := f.backend.PutObject(ctx, bucket, o.key, file, stat.Size(), storage.PutOptions{
		ACL:         o.acl,
		ContentType: o.contentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to %s/%s: %w", localPath, bucket, o.key, err)
	}

	metrics.BytesUploadedTotal.Add(float64(n))
	metrics.ObjectSize.WithLabelValues(metrics.OpUploadObject).Observe(float64(n))
	slog.Debug("object uploaded", "bucket", bucket, "key", o.key, "bytes", n,
		"content_type", o.contentType, "acl", string(o.acl))
	return o.key, nil
}

// DownloadObject writes bucket/key to localPath. The content is streamed to
// a temporary file next to localPath and renamed into place, so a failed
// download never leaves a partial file behind.
func (f *Facade) DownloadObject(ctx context.Context, bucket, key, localPath string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation(metrics.OpDownloadObject, start, err) }()

	body, size, err := f.backend.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("downloading %s/%s: %w", bucket, key, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", localPath, err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err == nil && size > 0 && n != size {
		err = fmt.Errorf("read %d of %d bytes: %w", n, size, io.ErrUnexpectedEOF)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("downloading %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file for %s: %w", localPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming download into %s: %w", localPath, err)
	}

	metrics.BytesDownloadedTotal.Add(float64(n))
	metrics.ObjectSize.WithLabelValues(metrics.OpDownloadObject).Observe(float64(n))
	slog.Debug("object downloaded", "bucket", bucket, "key", key, "bytes", n, "path", localPath)
	return nil
}

// CopyObject copies srcBucket/key to dstBucket/key on the provider side. The
// copy is independent of the source.
func (f *Facade) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation(metrics.OpCopyObject, start, err) }()

	if err := f.backend.CopyObject(ctx, srcBucket, dstBucket, key); err != nil {
		return fmt.Errorf("copying %s/%s to %s: %w", srcBucket, key, dstBucket, err)
	}
	slog.Debug("object copied", "src_bucket", srcBucket, "dst_bucket", dstBucket, "key", key)
	return nil
}

// DeleteObject removes bucket/key. Deleting a key that does not exist
// succeeds.
func (f *Facade) DeleteObject(ctx context.Context, bucket, key string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation(metrics.OpDeleteObject, start, err) }()

	if err := f.backend.DeleteObject(ctx, bucket, key); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", bucket, key, err)
	}
	slog.Debug("object deleted", "bucket", bucket, "key", key)
	return nil
}

// Exists reports whether bucket/key is visible at the provider.
func (f *Facade) Exists(ctx context.Context, bucket, key string) (bool, error) {
	ok, err := f.backend.ObjectExists(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", bucket, key, err)
	}
	return ok, nil
}

// WaitForObject blocks until bucket/key is visible, e.g. after a copy to an
// eventually consistent provider.
func (f *Facade) WaitForObject(ctx context.Context, bucket, key string) error {
	return f.wait(ctx, metrics.OpWaitObject, bucket, key, true)
}

// WaitForObjectGone blocks until bucket/key is no longer visible.
func (f *Facade) WaitForObjectGone(ctx context.Context, bucket, key string) error {
	return f.wait(ctx, metrics.OpWaitObjectGone, bucket, key, false)
}

// wait prefers the backend's native waiter and otherwise polls ObjectExists
// at a constant interval until it reports want or the timeout elapses.
func (f *Facade) wait(ctx context.Context, op, bucket, key string, want bool) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation(op, start, err) }()

	if w, ok := f.backend.(storage.Waiter); ok {
		if want {
			err = w.WaitObjectExists(ctx, bucket, key, f.waitTimeout)
		} else {
			err = w.WaitObjectNotExists(ctx, bucket, key, f.waitTimeout)
		}
		if err != nil {
			return fmt.Errorf("waiting on %s/%s: %w", bucket, key, err)
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.waitTimeout)
	defer cancel()

	poll := func() error {
		exists, err := f.backend.ObjectExists(waitCtx, bucket, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if exists != want {
			return errNotYet
		}
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(f.pollInterval), waitCtx)
	if err := backoff.Retry(poll, policy); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s/%s after %v", ErrWaitTimeout, bucket, key, f.waitTimeout)
		}
		return fmt.Errorf("waiting on %s/%s: %w", bucket, key, err)
	}
	slog.Debug("object state reached", "bucket", bucket, "key", key, "exists", want,
		"elapsed", time.Since(start))
	return nil
}
