package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bleepstore/bucketwalk/internal/config"
)

// writeConfig writes a YAML config using the SQLite backend under dir, so
// that state persists across separate run invocations.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	yaml := fmt.Sprintf(`logging:
  level: error
storage:
  backend: sqlite
  region: test-region
  sqlite:
    path: %s
consistency:
  poll_interval: 1ms
  timeout: 1s
walkthrough:
  temp_dir: %s
`, filepath.Join(dir, "bucketwalk.db"), filepath.Join(dir, "tmp"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunWalkMemory(t *testing.T) {
	code, out, errOut := runCLI(t, "-backend", "memory", "-log-level", "error", "walk")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{"first bucket:  firstgobucket", "second bucket: secondgobucket", "delete from second bucket"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunWalkIsDefault(t *testing.T) {
	code, out, errOut := runCLI(t, "-backend", "memory", "-log-level", "error")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "first bucket:") {
		t.Errorf("default command did not run the walkthrough:\n%s", out)
	}
}

func TestRunCommandsSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	cli := func(args ...string) string {
		t.Helper()
		code, out, errOut := runCLI(t, append([]string{"-config", cfgPath}, args...)...)
		if code != 0 {
			t.Fatalf("%v: exit code = %d, stderr: %s", args, code, errOut)
		}
		return strings.TrimSpace(out)
	}

	fields := strings.Fields(cli("create-bucket", "clisrc"))
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "clisrc") || fields[1] != "test-region" {
		t.Fatalf("create-bucket output = %q", fields)
	}
	src := fields[0]
	dst := strings.Fields(cli("create-bucket", "clidst"))[0]

	local := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(local, []byte("hello, bucket"), 0o644); err != nil {
		t.Fatal(err)
	}
	key := cli("upload", "-acl", "public-read", src, local)
	if key != "hello.txt" {
		t.Errorf("upload key = %q, want hello.txt", key)
	}

	cli("copy", src, dst, key)
	out := filepath.Join(dir, "copy.txt")
	cli("download", dst, key, out)
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "hello, bucket" {
		t.Errorf("downloaded %q, %v", data, err)
	}

	cli("delete", dst, key)
	code, _, errOut := runCLI(t, "-config", cfgPath, "download", dst, key, out)
	if code != 1 || !strings.Contains(errOut, "download failed") {
		t.Errorf("download after delete: code = %d, stderr = %q", code, errOut)
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown_command", []string{"-backend", "memory", "frobnicate"}},
		{"missing_args", []string{"-backend", "memory", "copy", "a", "b"}},
		{"walk_with_args", []string{"-backend", "memory", "walk", "extra"}},
		{"serve_without_addr", []string{"-backend", "memory", "serve"}},
		{"bad_flag", []string{"-no-such-flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
		})
	}
}

func TestRunInvalidConfig(t *testing.T) {
	if code, _, _ := runCLI(t, "-backend", "ftp"); code != 1 {
		t.Errorf("unknown backend: exit code = %d, want 1", code)
	}
	if code, _, _ := runCLI(t, "-config", filepath.Join(t.TempDir(), "missing.yaml")); code != 1 {
		t.Errorf("missing config: exit code = %d, want 1", code)
	}
}

func TestNewBackendUnknown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Backend = "tape"
	if _, _, err := newBackend(context.Background(), cfg); err == nil {
		t.Error("newBackend succeeded for unknown backend")
	}
}

func TestNewBackendLocalAndMemory(t *testing.T) {
	for _, name := range []string{config.BackendLocal, config.BackendMemory, config.BackendSQLite} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := &config.Config{}
			cfg.Storage.Backend = name
			cfg.Storage.Region = "r1"
			cfg.Storage.Local.RootDir = filepath.Join(dir, "buckets")
			cfg.Storage.SQLite.Path = filepath.Join(dir, "db.sqlite")

			b, closeFn, err := newBackend(context.Background(), cfg)
			if err != nil {
				t.Fatalf("newBackend failed: %v", err)
			}
			defer closeFn()
			if b.Region() != "r1" {
				t.Errorf("Region = %q, want r1", b.Region())
			}
			if err := b.HealthCheck(context.Background()); err != nil {
				t.Errorf("HealthCheck failed: %v", err)
			}
		})
	}
}
