package facade

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
	"github.com/bleepstore/bucketwalk/internal/naming"
	"github.com/bleepstore/bucketwalk/internal/storage"
)

func newTestFacade(t *testing.T) (*Facade, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemoryBackend("us-west-2")
	return New(backend, WithPollInterval(time.Millisecond), WithWaitTimeout(time.Second)), backend
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func mustCreateBucket(t *testing.T, f *Facade, prefix string) string {
	t.Helper()
	name, _, err := f.CreateBucket(context.Background(), prefix)
	if err != nil {
		t.Fatalf("CreateBucket(%q) failed: %v", prefix, err)
	}
	return name
}

func TestCreateBucketUniqueNames(t *testing.T) {
	f, _ := newTestFacade(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name, info, err := f.CreateBucket(context.Background(), "test")
		if err != nil {
			t.Fatalf("CreateBucket failed: %v", err)
		}
		if seen[name] {
			t.Fatalf("duplicate bucket name %q", name)
		}
		seen[name] = true
		if !strings.HasPrefix(name, "test") {
			t.Errorf("name %q lacks prefix", name)
		}
		if len(name) < naming.MinBucketNameLen || len(name) > naming.MaxBucketNameLen {
			t.Errorf("name %q has length %d", name, len(name))
		}
		if info.Region != "us-west-2" {
			t.Errorf("Region = %q, want the backend region", info.Region)
		}
	}
}

func TestCreateBucketProviderRejection(t *testing.T) {
	f, _ := newTestFacade(t)
	_, _, err := f.CreateBucket(context.Background(), "Invalid_Prefix")
	if !errors.Is(err, s3err.ErrInvalidBucketName) {
		t.Errorf("CreateBucket error = %v, want ErrInvalidBucketName", err)
	}
}

// Prefix "test", a 300-byte file, upload then download: the downloaded file
// has length 300 and identical content.
func TestUploadDownloadRoundTrip(t *testing.T) {
	f, backend := newTestFacade(t)
	ctx := context.Background()
	bucket := mustCreateBucket(t, f, "test")

	content := strings.Repeat("f", 300)
	src := writeFile(t, "abc123firstfile.txt", content)

	key, err := f.UploadObject(ctx, bucket, src)
	if err != nil {
		t.Fatalf("UploadObject failed: %v", err)
	}
	if key != "abc123firstfile.txt" {
		t.Errorf("key = %q, want the file's base name", key)
	}
	if ct, _ := backend.ObjectContentType(bucket, key); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}

	dst := filepath.Join(t.TempDir(), "downloaded.txt")
	if err := f.DownloadObject(ctx, bucket, key, dst); err != nil {
		t.Fatalf("DownloadObject failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(got) != 300 || string(got) != content {
		t.Errorf("downloaded %d bytes, want 300 identical bytes", len(got))
	}

	// No temp files left next to the destination.
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("destination dir has %d entries, want 1", len(entries))
	}
}

func TestUploadOptions(t *testing.T) {
	f, backend := newTestFacade(t)
	ctx := context.Background()
	bucket := mustCreateBucket(t, f, "test")
	src := writeFile(t, "second.bin", strings.Repeat("s", 400))

	key, err := f.UploadObject(ctx, bucket, src,
		WithKey("custom/key.bin"), WithACL(storage.ACLPublicRead), WithContentType("application/x-test"))
	if err != nil {
		t.Fatalf("UploadObject failed: %v", err)
	}
	if key != "custom/key.bin" {
		t.Errorf("key = %q, want custom/key.bin", key)
	}
	if acl, _ := backend.ObjectACL(bucket, key); acl != storage.ACLPublicRead {
		t.Errorf("ACL = %q, want public-read", acl)
	}
	if ct, _ := backend.ObjectContentType(bucket, key); ct != "application/x-test" {
		t.Errorf("content type = %q, want application/x-test", ct)
	}
}

func TestUploadErrors(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	bucket := mustCreateBucket(t, f, "test")

	if _, err := f.UploadObject(ctx, bucket, filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("upload of missing file error = %v, want ErrNotExist", err)
	}
	if _, err := f.UploadObject(ctx, bucket, t.TempDir()); err == nil {
		t.Error("upload of directory succeeded")
	}

	src := writeFile(t, "f.txt", "x")
	if _, err := f.UploadObject(ctx, "no-such-bucket", src); !storage.IsNotFound(err) {
		t.Errorf("upload to missing bucket error = %v, want not found", err)
	}
	if _, err := f.UploadObject(ctx, bucket, src, WithACL("bogus")); !errors.Is(err, s3err.ErrInvalidArgument) {
		t.Errorf("upload with bogus ACL error = %v, want ErrInvalidArgument", err)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	bucket := mustCreateBucket(t, f, "test")

	dst := filepath.Join(t.TempDir(), "out.txt")
	err := f.DownloadObject(ctx, bucket, "nope", dst)
	if !storage.IsNotFound(err) {
		t.Errorf("DownloadObject error = %v, want not found", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("failed download created the destination file")
	}
}

// Two buckets: upload to the first, copy to the second, delete from the
// second. The object is absent in the second and present in the first.
func TestCopyThenDeleteScenario(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	first := mustCreateBucket(t, f, "firstgobucket")
	second := mustCreateBucket(t, f, "secondgobucket")

	content := strings.Repeat("f", 300)
	key, err := f.UploadObject(ctx, first, writeFile(t, "a1b2c3firstfile.txt", content))
	if err != nil {
		t.Fatalf("UploadObject failed: %v", err)
	}

	if err := f.CopyObject(ctx, first, second, key); err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if err := f.WaitForObject(ctx, second, key); err != nil {
		t.Fatalf("WaitForObject failed: %v", err)
	}

	copied := filepath.Join(t.TempDir(), "copied.txt")
	if err := f.DownloadObject(ctx, second, key, copied); err != nil {
		t.Fatalf("DownloadObject(second) failed: %v", err)
	}
	if got, _ := os.ReadFile(copied); string(got) != content {
		t.Error("copied object content differs from source")
	}

	if err := f.DeleteObject(ctx, second, key); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if err := f.WaitForObjectGone(ctx, second, key); err != nil {
		t.Fatalf("WaitForObjectGone failed: %v", err)
	}

	if ok, _ := f.Exists(ctx, second, key); ok {
		t.Error("object still present in second bucket")
	}
	if ok, _ := f.Exists(ctx, first, key); !ok {
		t.Error("object missing from first bucket")
	}
	err = f.DownloadObject(ctx, second, key, filepath.Join(t.TempDir(), "gone.txt"))
	if !storage.IsNotFound(err) {
		t.Errorf("download after delete error = %v, want not found", err)
	}

	// Deleting again is not an error.
	if err := f.DeleteObject(ctx, second, key); err != nil {
		t.Errorf("second DeleteObject failed: %v", err)
	}
}

// laggingBackend hides writes from ObjectExists for a number of polls, like
// an eventually consistent provider.
type laggingBackend struct {
	*storage.MemoryBackend
	mu    sync.Mutex
	lag   int
	polls int
}

func (b *laggingBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	b.mu.Lock()
	b.polls++
	stale := b.polls <= b.lag
	b.mu.Unlock()
	exists, err := b.MemoryBackend.ObjectExists(ctx, bucket, key)
	if stale {
		return !exists, err
	}
	return exists, err
}

func TestWaitForObjectPolls(t *testing.T) {
	backend := &laggingBackend{MemoryBackend: storage.NewMemoryBackend(""), lag: 3}
	f := New(backend, WithPollInterval(time.Millisecond), WithWaitTimeout(time.Second))
	ctx := context.Background()
	bucket := mustCreateBucket(t, f, "test")
	key, _ := f.UploadObject(ctx, bucket, writeFile(t, "k.txt", "data"))

	if err := f.WaitForObject(ctx, bucket, key); err != nil {
		t.Fatalf("WaitForObject failed: %v", err)
	}
	if backend.polls != 4 {
		t.Errorf("polls = %d, want 4", backend.polls)
	}
}

func TestWaitForObjectTimeout(t *testing.T) {
	f := New(storage.NewMemoryBackend(""), WithPollInterval(5*time.Millisecond), WithWaitTimeout(30*time.Millisecond))
	bucket := mustCreateBucket(t, f, "test")

	err := f.WaitForObject(context.Background(), bucket, "never")
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("WaitForObject error = %v, want ErrWaitTimeout", err)
	}
}

func TestWaitForObjectCanceled(t *testing.T) {
	f := New(storage.NewMemoryBackend(""), WithPollInterval(5*time.Millisecond), WithWaitTimeout(time.Minute))
	bucket := mustCreateBucket(t, f, "test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.WaitForObject(ctx, bucket, "never")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForObject error = %v, want context.Canceled", err)
	}
}

// failingExistsBackend reports an error from every existence check.
type failingExistsBackend struct {
	*storage.MemoryBackend
	polls int
}

func (b *failingExistsBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	b.polls++
	return false, s3err.ErrAccessDenied
}

func TestWaitForObjectStopsOnError(t *testing.T) {
	backend := &failingExistsBackend{MemoryBackend: storage.NewMemoryBackend("")}
	f := New(backend, WithPollInterval(time.Millisecond), WithWaitTimeout(time.Second))

	err := f.WaitForObject(context.Background(), "bucket", "key")
	if !errors.Is(err, s3err.ErrAccessDenied) {
		t.Errorf("WaitForObject error = %v, want ErrAccessDenied", err)
	}
	if backend.polls != 1 {
		t.Errorf("polls = %d, want 1", backend.polls)
	}
}

// waiterBackend records native waiter calls.
type waiterBackend struct {
	*storage.MemoryBackend
	exists, gone int
	maxWait      time.Duration
}

func (b *waiterBackend) WaitObjectExists(ctx context.Context, bucket, key string, maxWait time.Duration) error {
	b.exists++
	b.maxWait = maxWait
	return nil
}

func (b *waiterBackend) WaitObjectNotExists(ctx context.Context, bucket, key string, maxWait time.Duration) error {
	b.gone++
	return fmt.Errorf("waiting for %s/%s to be deleted: %w: exceeded max wait time", bucket, key, storage.ErrWaitTimeout)
}

func TestWaitUsesNativeWaiter(t *testing.T) {
	backend := &waiterBackend{MemoryBackend: storage.NewMemoryBackend("")}
	f := New(backend, WithWaitTimeout(7*time.Second))
	ctx := context.Background()

	if err := f.WaitForObject(ctx, "b", "k"); err != nil {
		t.Fatalf("WaitForObject failed: %v", err)
	}
	if backend.exists != 1 || backend.maxWait != 7*time.Second {
		t.Errorf("WaitObjectExists calls = %d, maxWait = %v", backend.exists, backend.maxWait)
	}
	if err := f.WaitForObjectGone(ctx, "b", "k"); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("WaitForObjectGone error = %v, want ErrWaitTimeout", err)
	}
	if backend.gone != 1 {
		t.Errorf("WaitObjectNotExists calls = %d, want 1", backend.gone)
	}
}

func TestOptionsIgnoreNonPositive(t *testing.T) {
	f := New(storage.NewMemoryBackend(""), WithPollInterval(0), WithWaitTimeout(-time.Second))
	if f.pollInterval != DefaultPollInterval || f.waitTimeout != DefaultWaitTimeout {
		t.Errorf("pollInterval = %v, waitTimeout = %v; want defaults", f.pollInterval, f.waitTimeout)
	}
}
