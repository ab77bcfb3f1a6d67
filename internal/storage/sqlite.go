package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
	"github.com/bleepstore/bucketwalk/internal/naming"
)

// SQLiteBackend implements Backend using SQLite as the underlying data
// store. Object data is stored as BLOBs directly in the database, making
// this suitable for small objects in single-node or embedded deployments.
type SQLiteBackend struct {
	db     *sql.DB
	region string
}

// NewSQLiteBackend creates a new SQLiteBackend backed by the given database
// file path. It opens the database, applies performance PRAGMAs, and creates
// the required tables.
func NewSQLiteBackend(dbPath, region string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating SQLite database directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, region: region}
	if err := b.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	return b, nil
}

// initDB applies PRAGMAs and creates the required tables.
func (b *SQLiteBackend) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS buckets (
			name       TEXT PRIMARY KEY,
			region     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS objects (
			bucket       TEXT NOT NULL REFERENCES buckets(name),
			key          TEXT NOT NULL,
			data         BLOB NOT NULL,
			acl          TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (bucket, key)
		);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Region returns the region the backend was configured with.
func (b *SQLiteBackend) Region() string {
	return b.region
}

// CreateBucket inserts a row into the buckets table.
func (b *SQLiteBackend) CreateBucket(ctx context.Context, bucket, region string) (*BucketInfo, error) {
	if err := naming.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if region == "" {
		region = b.region
	}
	now := time.Now().UTC()

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO buckets (name, region, created_at) VALUES (?, ?, ?)`,
		bucket, region, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, s3err.ErrBucketAlreadyOwnedByYou.WithMessage("bucket %q already exists", bucket)
		}
		return nil, fmt.Errorf("creating bucket %q: %w", bucket, err)
	}
	return &BucketInfo{
		Name:      bucket,
		Region:    region,
		Location:  "/" + bucket,
		CreatedAt: now,
	}, nil
}

// PutObject reads all data from the reader and stores it as a BLOB. Uses
// INSERT OR REPLACE so that re-uploads overwrite the existing row.
func (b *SQLiteBackend) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (int64, error) {
	if err := validateACL(opts.ACL); err != nil {
		return 0, err
	}
	if err := b.requireBucket(ctx, bucket); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, fmt.Errorf("reading object data: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (bucket, key, data, acl, content_type) VALUES (?, ?, ?, ?, ?)`,
		bucket, key, data, string(opts.ACL), opts.ContentType,
	)
	if err != nil {
		return 0, fmt.Errorf("putting object %q/%q: %w", bucket, key, err)
	}
	return int64(len(data)), nil
}

// GetObject retrieves the object data. Returns an io.NopCloser wrapping a
// bytes.Reader for the data and its size.
func (b *SQLiteBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		if berr := b.requireBucket(ctx, bucket); berr != nil {
			return nil, 0, berr
		}
		return nil, 0, fmt.Errorf("%w: %s/%s: %w", s3err.ErrNoSuchKey, bucket, key, err)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("getting object %q/%q: %w", bucket, key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// CopyObject copies the object row to dstBucket in a single statement. The
// copy keeps the content type and resets the ACL to the default.
func (b *SQLiteBackend) CopyObject(ctx context.Context, srcBucket, dstBucket, key string) error {
	if err := b.requireBucket(ctx, dstBucket); err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (bucket, key, data, acl, content_type)
		 SELECT ?, key, data, '', content_type FROM objects WHERE bucket = ? AND key = ?`,
		dstBucket, srcBucket, key,
	)
	if err != nil {
		return fmt.Errorf("copying object %q/%q to %q: %w", srcBucket, key, dstBucket, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("copying object %q/%q to %q: %w", srcBucket, key, dstBucket, err)
	}
	if n == 0 {
		if err := b.requireBucket(ctx, srcBucket); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s/%s", s3err.ErrNoSuchKey, srcBucket, key)
	}
	return nil
}

// DeleteObject removes the object row.
// Idempotent: deleting a non-existent object is not an error.
func (b *SQLiteBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	)
	if err != nil {
		return fmt.Errorf("deleting object %q/%q: %w", bucket, key, err)
	}
	return nil
}

// ObjectExists checks whether an object row exists.
func (b *SQLiteBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking object existence %q/%q: %w", bucket, key, err)
	}
	return count > 0, nil
}

// HealthCheck verifies that the SQLite storage database is operational by
// executing a simple query.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	var n int
	return b.db.QueryRowContext(ctx, `SELECT 1`).Scan(&n)
}

// ObjectACL returns the canned ACL stored for bucket/key.
func (b *SQLiteBackend) ObjectACL(ctx context.Context, bucket, key string) (ACL, error) {
	var acl string
	err := b.db.QueryRowContext(ctx,
		`SELECT acl FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&acl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s/%s", s3err.ErrNoSuchKey, bucket, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading ACL of %q/%q: %w", bucket, key, err)
	}
	return ACL(acl), nil
}

func (b *SQLiteBackend) requireBucket(ctx context.Context, bucket string) error {
	var count int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM buckets WHERE name = ?`, bucket,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", bucket, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", s3err.ErrNoSuchBucket, bucket)
	}
	return nil
}

// isUniqueViolation checks if a SQLite error is a primary key or unique
// constraint violation.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// Ensure SQLiteBackend implements Backend at compile time.
var _ Backend = (*SQLiteBackend)(nil)
