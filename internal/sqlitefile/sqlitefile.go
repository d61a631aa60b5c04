// Package sqlitefile opens SQL artifact files that another process may be
// writing. The file is copied to a private temporary path with bounded
// retries, and the copy is opened read-only, so the pipeline's writer is
// never blocked and a half-written page is never iterated in place.
package sqlitefile

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// CopyOptions bounds the copy retries.
type CopyOptions struct {
	// Attempts is the maximum number of copy attempts. Zero means 10.
	Attempts int
	// Delay is the pause between attempts. Zero means 30 seconds.
	Delay time.Duration
}

func (o CopyOptions) attempts() int {
	if o.Attempts <= 0 {
		return 10
	}
	return o.Attempts
}

func (o CopyOptions) delay() time.Duration {
	if o.Delay <= 0 {
		return 30 * time.Second
	}
	return o.Delay
}

// CopyForRead copies the file at path to a temporary location. It retries
// transient failures and honors ctx between attempts. The caller must invoke
// cleanup to remove the copy.
func CopyForRead(ctx context.Context, path string, opts CopyOptions) (string, func(), error) {
	var lastErr error
	for attempt := 0; attempt < opts.attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", nil, ctx.Err()
			case <-time.After(opts.delay()):
			}
		}
		local, err := copyFile(path, filepath.Base(path))
		if err == nil {
			return local, func() { _ = os.Remove(local) }, nil
		}
		if os.IsNotExist(err) {
			return "", nil, err
		}
		lastErr = err
	}
	return "", nil, fmt.Errorf("copy %s: %w", path, lastErr)
}

// OpenCopy copies the file and opens the copy as a read-only database. The
// caller must invoke cleanup, which closes the handle and removes the copy.
func OpenCopy(ctx context.Context, path string, opts CopyOptions) (*sql.DB, func(), error) {
	local, remove, err := CopyForRead(ctx, path, opts)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite", "file:"+local+"?mode=ro")
	if err != nil {
		remove()
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	cleanup := func() {
		_ = db.Close()
		remove()
	}
	return db, cleanup, nil
}

func copyFile(path, base string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "emhub-"+base+"-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
