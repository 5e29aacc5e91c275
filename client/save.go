package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	// ErrSaveCancelled indicates a save was cancelled via its context.
	ErrSaveCancelled = errors.New("save cancelled")
	// ErrChecksumMismatch indicates the saved file did not match the expected checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// SaveOption configures [Stream.SaveTo].
type SaveOption func(*saveOpts) error

type saveOpts struct {
	logger   *slog.Logger
	checksum *checksumVerifier
}

// WithSaveProgress logs transfer progress through logger at most once
// per second.
func WithSaveProgress(logger *slog.Logger) SaveOption {
	return func(opts *saveOpts) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		opts.logger = logger

		return nil
	}
}

// WithChecksum verifies the saved bytes against expected, a hex encoded
// digest produced by h. The destination is left untouched on mismatch.
func WithChecksum(h hash.Hash, expected string) SaveOption {
	return func(opts *saveOpts) error {
		if h == nil || expected == "" {
			return errors.New("checksum requires a hash and an expected value")
		}
		opts.checksum = &checksumVerifier{hash: h, expected: expected}

		return nil
	}
}

// SaveTo drains the stream into destPath and closes it. Data is written
// to a temp file in the same directory and renamed on success; on any
// failure the temp file is removed and destPath is left untouched.
func (s *Stream) SaveTo(ctx context.Context, destPath string, optFns ...SaveOption) (err error) {
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing stream: %w", cerr)
		}
	}()

	var opts saveOpts
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return fmt.Errorf("applying save option: %w", err)
		}
	}

	if destPath == "" {
		return errors.New("destPath must not be empty")
	}

	file, err := os.CreateTemp(filepath.Dir(destPath), ".courier-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	var successful bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("defer closing temp file", "error", err)
		}
		if !successful {
			if err := os.Remove(file.Name()); err != nil {
				logger.Error("failed to remove temp file", "error", err)
			}
		}
	}()

	writers := []io.Writer{file}
	if opts.checksum != nil {
		writers = append(writers, opts.checksum)
	}
	writer := io.MultiWriter(writers...)

	if opts.logger != nil {
		writer = &progressWriter{
			w:         writer,
			logger:    opts.logger,
			url:       destPath,
			total:     s.contentLength(),
			startTime: time.Now(),
		}
	}

	if _, err := io.Copy(writer, &contextReader{ctx: ctx, r: s}); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %w", ErrSaveCancelled, err)
		}
		return fmt.Errorf("copying stream: %w", err)
	}

	if err := opts.checksum.verify(); err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	successful = true

	return nil
}

// contentLength reports the announced body length, or -1 when it is
// unknown or refers to the encoded representation.
func (s *Stream) contentLength() int64 {
	if s.Header.Get("Content-Encoding") != "" {
		return -1
	}

	n, err := strconv.ParseInt(s.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// checksumVerifier hashes everything written to it.
type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func (v *checksumVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

func (v *checksumVerifier) verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if actual != v.expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, v.expected, actual)
	}

	return nil
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
