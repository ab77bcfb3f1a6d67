// Package tempfile writes the small generated files the walkthrough uploads.
package tempfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bleepstore/bucketwalk/internal/naming"
)

// Create writes content repeated size times to a new file in dir and
// returns its path. The file name is name behind a random key prefix, so
// the base name doubles as a unique object key. An empty dir means
// os.TempDir().
func Create(dir string, size int, name, content string) (string, error) {
	if size < 0 {
		return "", fmt.Errorf("creating temp file %q: negative size %d", name, size)
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("creating temp file: invalid name %q", name)
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir %q: %w", dir, err)
	}

	path := filepath.Join(dir, naming.ObjectKey(name))
	if err := os.WriteFile(path, []byte(strings.Repeat(content, size)), 0o644); err != nil {
		return "", fmt.Errorf("writing temp file %q: %w", path, err)
	}
	return path, nil
}
