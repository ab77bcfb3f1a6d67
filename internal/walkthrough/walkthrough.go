// Package walkthrough runs the end-to-end bucket lifecycle demo: two
// buckets, two generated files, upload, download, cross-bucket copy and
// delete, verifying the result of each step.
package walkthrough

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bleepstore/bucketwalk/internal/config"
	s3err "github.com/bleepstore/bucketwalk/internal/errors"
	"github.com/bleepstore/bucketwalk/internal/facade"
	"github.com/bleepstore/bucketwalk/internal/storage"
	"github.com/bleepstore/bucketwalk/internal/tempfile"
)

// File names and fill characters of the two generated files.
const (
	firstFileName  = "firstfile.txt"
	firstContent   = "f"
	secondFileName = "secondfile.txt"
	secondContent  = "s"
)

// Step records one completed walkthrough step.
type Step struct {
	Name     string
	Duration time.Duration
}

// Report summarizes a completed walkthrough.
type Report struct {
	Region       string
	FirstBucket  string
	SecondBucket string
	FirstKey     string
	SecondKey    string
	FirstSize    int64
	SecondSize   int64

	// SecondACL is the canned ACL the second object was stored with. It is
	// empty when the backend has no per-object ACLs.
	SecondACL storage.ACL
	Steps     []Step
}

type runner struct {
	report *Report
}

// step runs fn as the named step and records its duration on success.
func (r *runner) step(name string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	elapsed := time.Since(start)
	r.report.Steps = append(r.report.Steps, Step{Name: name, Duration: elapsed})
	slog.Info("walkthrough step done", "step", name, "elapsed", elapsed)
	return nil
}

// Run performs the walkthrough against f. Generated local files are removed
// before Run returns; the buckets and objects it created are left in place
// so they can be inspected.
func Run(ctx context.Context, f *facade.Facade, cfg config.WalkthroughConfig) (*Report, error) {
	r := &runner{report: &Report{Region: f.Backend().Region()}}
	rep := r.report

	workDir, err := os.MkdirTemp(cfg.TempDir, "bucketwalk-")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	var firstPath, secondPath string

	err = r.step("create buckets", func() error {
		var err error
		if rep.FirstBucket, _, err = f.CreateBucket(ctx, cfg.FirstPrefix); err != nil {
			return err
		}
		if rep.SecondBucket, _, err = f.CreateBucket(ctx, cfg.SecondPrefix); err != nil {
			return err
		}
		slog.Info("buckets created", "first", rep.FirstBucket, "second", rep.SecondBucket, "region", rep.Region)
		return nil
	})
	if err != nil {
		return rep, err
	}

	err = r.step("create files", func() error {
		var err error
		if firstPath, err = tempfile.Create(workDir, cfg.FirstFileSize, firstFileName, firstContent); err != nil {
			return err
		}
		if secondPath, err = tempfile.Create(workDir, cfg.SecondFileSize, secondFileName, secondContent); err != nil {
			return err
		}
		rep.FirstSize = int64(cfg.FirstFileSize * len(firstContent))
		rep.SecondSize = int64(cfg.SecondFileSize * len(secondContent))
		return nil
	})
	if err != nil {
		return rep, err
	}

	err = r.step("upload objects", func() error {
		var err error
		if rep.FirstKey, err = f.UploadObject(ctx, rep.FirstBucket, firstPath); err != nil {
			return err
		}
		slog.Info("uploaded", "bucket", rep.FirstBucket, "key", rep.FirstKey,
			"size", humanize.Bytes(uint64(rep.FirstSize)))
		rep.SecondACL = storage.ACLPublicRead
		rep.SecondKey, err = f.UploadObject(ctx, rep.FirstBucket, secondPath, facade.WithACL(rep.SecondACL))
		if errors.Is(err, s3err.ErrNotImplemented) {
			// Azure sets public access per container, not per blob.
			slog.Warn("backend rejected per-object ACL, uploading with the default",
				"acl", rep.SecondACL, "error", err)
			rep.SecondACL = ""
			rep.SecondKey, err = f.UploadObject(ctx, rep.FirstBucket, secondPath)
		}
		if err != nil {
			return err
		}
		slog.Info("uploaded", "bucket", rep.FirstBucket, "key", rep.SecondKey,
			"size", humanize.Bytes(uint64(rep.SecondSize)), "acl", rep.SecondACL)
		return nil
	})
	if err != nil {
		return rep, err
	}

	err = r.step("download and verify", func() error {
		dst := filepath.Join(workDir, "download-"+rep.FirstKey)
		if err := f.DownloadObject(ctx, rep.FirstBucket, rep.FirstKey, dst); err != nil {
			return err
		}
		return verifyFile(dst, firstPath)
	})
	if err != nil {
		return rep, err
	}

	err = r.step("copy to second bucket", func() error {
		if err := f.CopyObject(ctx, rep.FirstBucket, rep.SecondBucket, rep.FirstKey); err != nil {
			return err
		}
		return f.WaitForObject(ctx, rep.SecondBucket, rep.FirstKey)
	})
	if err != nil {
		return rep, err
	}

	err = r.step("delete from second bucket", func() error {
		if err := f.DeleteObject(ctx, rep.SecondBucket, rep.FirstKey); err != nil {
			return err
		}
		if err := f.WaitForObjectGone(ctx, rep.SecondBucket, rep.FirstKey); err != nil {
			return err
		}
		if ok, err := f.Exists(ctx, rep.SecondBucket, rep.FirstKey); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%s/%s still present after delete", rep.SecondBucket, rep.FirstKey)
		}
		if ok, err := f.Exists(ctx, rep.FirstBucket, rep.FirstKey); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%s/%s missing after deleting its copy", rep.FirstBucket, rep.FirstKey)
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	return rep, nil
}

// verifyFile compares the downloaded file with the original.
func verifyFile(got, want string) error {
	gotData, err := os.ReadFile(got)
	if err != nil {
		return fmt.Errorf("reading download: %w", err)
	}
	wantData, err := os.ReadFile(want)
	if err != nil {
		return fmt.Errorf("reading original: %w", err)
	}
	if len(gotData) != len(wantData) {
		return fmt.Errorf("downloaded %s, want %s",
			humanize.Bytes(uint64(len(gotData))), humanize.Bytes(uint64(len(wantData))))
	}
	if !bytes.Equal(gotData, wantData) {
		return fmt.Errorf("downloaded content differs from the uploaded file")
	}
	return nil
}
