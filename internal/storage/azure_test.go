package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
)

const testAccountURL = "https://acct.blob.core.windows.net/"

// azureErr builds an Azure service error the way the SDK reports it.
func azureErr(code bloberror.Code, status int) error {
	req, _ := http.NewRequest(http.MethodGet, testAccountURL, nil)
	return &azcore.ResponseError{
		ErrorCode:  string(code),
		StatusCode: status,
		RawResponse: &http.Response{
			Status:     http.StatusText(status),
			StatusCode: status,
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		},
	}
}

type mockBlob struct {
	data        []byte
	contentType string
}

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	containers map[string]map[string]mockBlob
	// lastCopySource is the source URL of the most recent copy.
	lastCopySource string
	serviceErr     error
}

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{containers: make(map[string]map[string]mockBlob)}
}

func (m *mockAzureClient) AccountURL() string { return testAccountURL }

func (m *mockAzureClient) CreateContainer(ctx context.Context, containerName string) error {
	if _, ok := m.containers[containerName]; ok {
		return azureErr(bloberror.ContainerAlreadyExists, http.StatusConflict)
	}
	m.containers[containerName] = make(map[string]mockBlob)
	return nil
}

func (m *mockAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, body io.Reader, contentType string) error {
	blobs, ok := m.containers[containerName]
	if !ok {
		return azureErr(bloberror.ContainerNotFound, http.StatusNotFound)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	blobs[blobName] = mockBlob{data: data, contentType: contentType}
	return nil
}

func (m *mockAzureClient) DownloadBlob(ctx context.Context, containerName, blobName string) (io.ReadCloser, int64, error) {
	blobs, ok := m.containers[containerName]
	if !ok {
		return nil, 0, azureErr(bloberror.ContainerNotFound, http.StatusNotFound)
	}
	b, ok := blobs[blobName]
	if !ok {
		return nil, 0, azureErr(bloberror.BlobNotFound, http.StatusNotFound)
	}
	return io.NopCloser(bytes.NewReader(b.data)), int64(len(b.data)), nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	if _, ok := m.containers[containerName][blobName]; !ok {
		return azureErr(bloberror.BlobNotFound, http.StatusNotFound)
	}
	delete(m.containers[containerName], blobName)
	return nil
}

func (m *mockAzureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	_, ok := m.containers[containerName][blobName]
	return ok, nil
}

func (m *mockAzureClient) StartCopyFromURL(ctx context.Context, containerName, blobName, sourceURL string) error {
	m.lastCopySource = sourceURL
	rest := strings.TrimPrefix(sourceURL, testAccountURL)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return azureErr(bloberror.InvalidInput, http.StatusBadRequest)
	}
	src, ok := m.containers[parts[0]][parts[1]]
	if !ok {
		return azureErr(bloberror.CannotVerifyCopySource, http.StatusNotFound)
	}
	dst, ok := m.containers[containerName]
	if !ok {
		return azureErr(bloberror.ContainerNotFound, http.StatusNotFound)
	}
	dst[blobName] = mockBlob{data: append([]byte(nil), src.data...), contentType: src.contentType}
	return nil
}

func (m *mockAzureClient) ServiceProperties(ctx context.Context) error {
	return m.serviceErr
}

func TestAzureCreateBucket(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("westeurope", mock)
	ctx := context.Background()

	info, err := backend.CreateBucket(ctx, "c1", backend.Region())
	if err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}
	if info.Location != "https://acct.blob.core.windows.net/c1" {
		t.Errorf("Location = %q", info.Location)
	}
	if info.Region != "westeurope" {
		t.Errorf("Region = %q, want westeurope", info.Region)
	}

	_, err = backend.CreateBucket(ctx, "c1", "westeurope")
	if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		t.Errorf("duplicate CreateBucket error = %v, want ContainerAlreadyExists", err)
	}
}

func TestAzurePutGetObject(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("westeurope", mock)
	ctx := context.Background()
	backend.CreateBucket(ctx, "c1", "")

	content := strings.Repeat("a", 300)
	n, err := backend.PutObject(ctx, "c1", "k", strings.NewReader(content), 300, PutOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if n != 300 {
		t.Errorf("PutObject n = %d, want 300", n)
	}
	if ct := mock.containers["c1"]["k"].contentType; ct != "text/plain; charset=utf-8" {
		t.Errorf("contentType = %q", ct)
	}

	rc, size, err := backend.GetObject(ctx, "c1", "k")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != content || size != 300 {
		t.Errorf("GetObject returned %d bytes (size %d), want 300", len(data), size)
	}
}

func TestAzurePutObjectACL(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("", mock)
	ctx := context.Background()
	backend.CreateBucket(ctx, "c1", "")

	if _, err := backend.PutObject(ctx, "c1", "k", strings.NewReader("x"), 1, PutOptions{ACL: ACLPrivate}); err != nil {
		t.Errorf("private ACL rejected: %v", err)
	}
	_, err := backend.PutObject(ctx, "c1", "k", strings.NewReader("x"), 1, PutOptions{ACL: ACLPublicRead})
	if !errors.Is(err, s3err.ErrNotImplemented) {
		t.Errorf("public-read error = %v, want ErrNotImplemented", err)
	}
	_, err = backend.PutObject(ctx, "c1", "k", strings.NewReader("x"), 1, PutOptions{ACL: "bogus"})
	if !errors.Is(err, s3err.ErrInvalidArgument) {
		t.Errorf("bogus ACL error = %v, want ErrInvalidArgument", err)
	}
}

func TestAzureNotFound(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("", mock)
	ctx := context.Background()
	backend.CreateBucket(ctx, "c1", "")

	_, _, err := backend.GetObject(ctx, "c1", "missing")
	if !errors.Is(err, s3err.ErrNoSuchKey) {
		t.Errorf("GetObject error = %v, want ErrNoSuchKey", err)
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		t.Errorf("GetObject error lost the Azure ResponseError")
	}

	_, _, err = backend.GetObject(ctx, "nocontainer", "k")
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		t.Errorf("GetObject error = %v, want ErrNoSuchBucket", err)
	}

	_, err = backend.PutObject(ctx, "nocontainer", "k", strings.NewReader("x"), 1, PutOptions{})
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		t.Errorf("PutObject error = %v, want ErrNoSuchBucket", err)
	}
}

func TestAzureCopyAndDelete(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("", mock)
	ctx := context.Background()
	backend.CreateBucket(ctx, "src", "")
	backend.CreateBucket(ctx, "dst", "")
	backend.PutObject(ctx, "src", "k", strings.NewReader("data"), 4, PutOptions{})

	if err := backend.CopyObject(ctx, "src", "dst", "k"); err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if mock.lastCopySource != "https://acct.blob.core.windows.net/src/k" {
		t.Errorf("copy source = %q", mock.lastCopySource)
	}
	if err := backend.DeleteObject(ctx, "dst", "k"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if err := backend.DeleteObject(ctx, "dst", "k"); err != nil {
		t.Fatalf("second DeleteObject failed: %v", err)
	}
	if ok, _ := backend.ObjectExists(ctx, "src", "k"); !ok {
		t.Error("source blob missing after deleting the copy")
	}
}

func TestAzureHealthCheck(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("", mock)
	if err := backend.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	mock.serviceErr = azureErr(bloberror.AuthenticationFailed, http.StatusForbidden)
	if err := backend.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck succeeded with failing service")
	}
}

func TestIsAzureNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"blob_not_found", azureErr(bloberror.BlobNotFound, 404), true},
		{"container_not_found", azureErr(bloberror.ContainerNotFound, 404), true},
		{"plain_404", azureErr("SomethingElse", 404), true},
		{"forbidden", azureErr(bloberror.AuthorizationFailure, 403), false},
		{"message", errors.New("The specified blob does not exist."), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAzureNotFound(tt.err); got != tt.want {
				t.Errorf("isAzureNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAzureCopyMissingBucket(t *testing.T) {
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("", mock)
	ctx := context.Background()
	backend.CreateBucket(ctx, "src", "")
	backend.PutObject(ctx, "src", "k", strings.NewReader("data"), 4, PutOptions{})

	err := backend.CopyObject(ctx, "src", "nodst", "k")
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		t.Fatalf("CopyObject to missing container error = %v, want ErrNoSuchBucket", err)
	}
	if !strings.Contains(err.Error(), "does not exist: nodst:") {
		t.Errorf("error %q does not name the missing destination", err)
	}

	backend.CreateBucket(ctx, "dst", "")
	err = backend.CopyObject(ctx, "src", "dst", "missing")
	if !errors.Is(err, s3err.ErrNoSuchKey) || !strings.Contains(err.Error(), "src/missing") {
		t.Errorf("CopyObject of missing source error = %v, want ErrNoSuchKey for src/missing", err)
	}
}
