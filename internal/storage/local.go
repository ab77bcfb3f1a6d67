package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
	"github.com/bleepstore/bucketwalk/internal/naming"
)

// LocalBackend implements Backend using the local filesystem. Each bucket is
// a directory under RootDir and each object a file inside it. ACLs are
// validated but not enforced: every object is readable by the process.
type LocalBackend struct {
	// RootDir is the base directory under which all bucket and object data
	// is stored.
	RootDir string
	region  string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(rootDir, region string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{RootDir: rootDir, region: region}, nil
}

// CleanTempFiles removes all files in the .tmp directory. Any temp files left
// behind indicate writes interrupted by a crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// Region returns the region the backend was configured with.
func (b *LocalBackend) Region() string {
	return b.region
}

func (b *LocalBackend) bucketDir(bucket string) string {
	return filepath.Join(b.RootDir, bucket)
}

// objectPath returns the full filesystem path for an object. Keys that would
// resolve outside the bucket directory are rejected.
func (b *LocalBackend) objectPath(bucket, key string) (string, error) {
	dir := b.bucketDir(bucket)
	p := filepath.Join(dir, filepath.FromSlash(key))
	if key == "" || !strings.HasPrefix(p, dir+string(filepath.Separator)) {
		return "", s3err.ErrInvalidArgument.WithMessage("invalid object key %q", key)
	}
	return p, nil
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uuid.NewString())
}

// requireBucket returns ErrNoSuchBucket unless the bucket directory exists.
func (b *LocalBackend) requireBucket(bucket string) error {
	info, err := os.Stat(b.bucketDir(bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s: %w", s3err.ErrNoSuchBucket, bucket, err)
		}
		return fmt.Errorf("stat bucket directory %q: %w", bucket, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", s3err.ErrNoSuchBucket, bucket)
	}
	return nil
}

// CreateBucket creates a directory for the bucket under the root directory.
func (b *LocalBackend) CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error) {
	if err := naming.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	dir := b.bucketDir(bucket)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, s3err.ErrBucketAlreadyOwnedByYou.WithMessage("bucket %q already exists", bucket)
		}
		return nil, fmt.Errorf("creating bucket directory %q: %w", dir, err)
	}
	if region == "" {
		region = b.region
	}
	return &BucketInfo{
		Name:      bucket,
		Region:    region,
		Location:  dir,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PutObject writes object data to a file using the crash-only atomic write
// pattern: write to temp file, fsync, rename.
func (b *LocalBackend) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (int64, error) {
	if err := validateACL(opts.ACL); err != nil {
		return 0, err
	}
	if err := b.requireBucket(bucket); err != nil {
		return 0, err
	}
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return 0, err
	}
	return b.writeAtomic(objPath, reader)
}

func (b *LocalBackend) writeAtomic(objPath string, reader io.Reader) (int64, error) {
	// Ensure parent directories exist for keys containing "/".
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent directories for %q: %w", objPath, err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	bytesWritten, err := io.Copy(tmpFile, reader)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing object data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, objPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return bytesWritten, nil
}

// GetObject opens the object file for reading. The caller is responsible for
// closing the returned ReadCloser.
func (b *LocalBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if err := b.requireBucket(bucket); err != nil {
		return nil, 0, err
	}
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s/%s: %w", s3err.ErrNoSuchKey, bucket, key, err)
		}
		return nil, 0, fmt.Errorf("opening object file %q/%q: %w", bucket, key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat object file %q/%q: %w", bucket, key, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("%w: %s/%s", s3err.ErrNoSuchKey, bucket, key)
	}
	return file, info.Size(), nil
}

// CopyObject copies an object file into dstBucket under the same key using
// the atomic write pattern.
func (b *LocalBackend) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error {
	src, _, err := b.GetObject(ctx, srcBucket, key)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := b.requireBucket(dstBucket); err != nil {
		return err
	}
	dstPath, err := b.objectPath(dstBucket, key)
	if err != nil {
		return err
	}
	if _, err := b.writeAtomic(dstPath, src); err != nil {
		return fmt.Errorf("copying object data: %w", err)
	}
	return nil
}

// DeleteObject removes the object file from the local filesystem.
// Idempotent: deleting a non-existent file is not an error.
// Also cleans up empty parent directories up to the bucket root.
func (b *LocalBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := b.requireBucket(bucket); err != nil {
		return err
	}
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing object file %q/%q: %w", bucket, key, err)
	}
	cleanEmptyParents(filepath.Dir(objPath), b.bucketDir(bucket))
	return nil
}

// ObjectExists checks whether an object exists on the local filesystem.
func (b *LocalBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(objPath)
	if err == nil {
		// Make sure it's a file, not a directory.
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking object existence %q/%q: %w", bucket, key, err)
}

// HealthCheck verifies that the local storage root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}

// cleanEmptyParents removes empty directories starting from dir up to (but not
// including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// Ensure LocalBackend implements Backend at compile time.
var _ Backend = (*LocalBackend)(nil)
