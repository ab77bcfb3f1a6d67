// Package main is the entry point for the bucketwalk object-storage walkthrough CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/bucketwalk/internal/config"
	"github.com/bleepstore/bucketwalk/internal/facade"
	"github.com/bleepstore/bucketwalk/internal/logging"
	"github.com/bleepstore/bucketwalk/internal/metrics"
	"github.com/bleepstore/bucketwalk/internal/server"
	"github.com/bleepstore/bucketwalk/internal/storage"
	"github.com/bleepstore/bucketwalk/internal/walkthrough"
)

var version = "dev"

const usage = `usage: bucketwalk [flags] [command] [args]

commands:
  walk                              run the full bucket walkthrough (default)
  create-bucket <prefix>            create a uniquely named bucket
  upload [-acl acl] <bucket> <file> upload a local file
  download <bucket> <key> <dest>    download an object to a local path
  copy <src> <dst> <key>            copy an object between buckets
  delete <bucket> <key>             delete an object
  serve                             run the health and metrics listener only

flags:
`

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bucketwalk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to configuration file (default: built-in defaults)")
	backendName := fs.String("backend", "", "storage backend: aws, gcp, azure, local, sqlite, memory (default: from config or memory)")
	region := fs.String("region", "", "override storage region (default: from config or provider session)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := fs.String("log-format", "", "log format: text, json (default: from config or text)")
	opsAddr := fs.String("ops-addr", "", "health and metrics listen address, e.g. :9090 (default: from config or disabled)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Command-line flags override config file values.
	if *backendName != "" {
		cfg.Storage.Backend = *backendName
	}
	if *region != "" {
		cfg.Storage.Region = *region
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *opsAddr != "" {
		cfg.Ops.Addr = *opsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)
	metrics.Register()

	cmd, cmdArgs := "walk", []string(nil)
	if rest := fs.Args(); len(rest) > 0 {
		cmd, cmdArgs = rest[0], rest[1:]
	}
	if cmd == "serve" && cfg.Ops.Addr == "" {
		fmt.Fprintln(stderr, "serve requires -ops-addr or ops.addr in config")
		return 2
	}

	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize storage backend: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeBackend(); err != nil {
			slog.Error("Error closing storage backend", "error", err)
		}
	}()

	var srv *server.Server
	errCh := make(chan error, 1)
	if cfg.Ops.Addr != "" {
		srv = server.New(backend, version)
		go func() {
			errCh <- srv.ListenAndServe(cfg.Ops.Addr)
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Ops listener shutdown error", "error", err)
			}
		}()
	}

	f := facade.New(backend,
		facade.WithPollInterval(cfg.Consistency.PollInterval),
		facade.WithWaitTimeout(cfg.Consistency.Timeout),
	)

	if cmd == "serve" {
		select {
		case <-ctx.Done():
			slog.Info("Received shutdown signal")
			return 0
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(stderr, "ops listener error: %v\n", err)
				return 1
			}
			return 0
		}
	}

	if err := dispatch(ctx, f, cfg, cmd, cmdArgs, stdout, stderr); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "%s failed: %v\n", cmd, err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

// dispatch runs a single facade command.
func dispatch(ctx context.Context, f *facade.Facade, cfg *config.Config, cmd string, args []string, stdout, stderr io.Writer) error {
	switch cmd {
	case "walk":
		if len(args) != 0 {
			return errUsage
		}
		rep, err := walkthrough.Run(ctx, f, cfg.Walkthrough)
		if err != nil {
			return err
		}
		printReport(stdout, rep)
		return nil

	case "create-bucket":
		if len(args) != 1 {
			return errUsage
		}
		name, info, err := f.CreateBucket(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, name, info.Region)
		return nil

	case "upload":
		ufs := flag.NewFlagSet("upload", flag.ContinueOnError)
		ufs.SetOutput(stderr)
		acl := ufs.String("acl", "", "canned ACL, e.g. public-read (default: provider default)")
		key := ufs.String("key", "", "object key (default: the file's base name)")
		if err := ufs.Parse(args); err != nil || ufs.NArg() != 2 {
			return errUsage
		}
		opts := []facade.UploadOption{facade.WithACL(storage.ACL(*acl))}
		if *key != "" {
			opts = append(opts, facade.WithKey(*key))
		}
		objKey, err := f.UploadObject(ctx, ufs.Arg(0), ufs.Arg(1), opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, objKey)
		return nil

	case "download":
		if len(args) != 3 {
			return errUsage
		}
		return f.DownloadObject(ctx, args[0], args[1], args[2])

	case "copy":
		if len(args) != 3 {
			return errUsage
		}
		return f.CopyObject(ctx, args[0], args[1], args[2])

	case "delete":
		if len(args) != 2 {
			return errUsage
		}
		return f.DeleteObject(ctx, args[0], args[1])
	}
	return errUsage
}

func printReport(w io.Writer, rep *walkthrough.Report) {
	fmt.Fprintf(w, "region:        %s\n", rep.Region)
	fmt.Fprintf(w, "first bucket:  %s\n", rep.FirstBucket)
	fmt.Fprintf(w, "second bucket: %s\n", rep.SecondBucket)
	fmt.Fprintf(w, "first object:  %s (%d bytes)\n", rep.FirstKey, rep.FirstSize)
	fmt.Fprintf(w, "second object: %s (%d bytes)\n", rep.SecondKey, rep.SecondSize)
	for _, s := range rep.Steps {
		fmt.Fprintf(w, "  ok  %-26s %s\n", s.Name, s.Duration.Round(time.Millisecond))
	}
}
