// Package follow reads a growing text file line by line, the way tail -f
// does, so capture output written by another process can be classified
// while it is produced.
package follow

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/nettrace/internal/logging"
)

// DefaultPollInterval is the fallback re-read interval for filesystems that
// do not deliver change notifications.
const DefaultPollInterval = 250 * time.Millisecond

// Tailer follows one file.
type Tailer struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	watcher *fsnotify.Watcher
	offset  int64
	partial []byte

	fromEnd bool
	poll    time.Duration
	logger  *logging.Logger
}

// Option configures a Tailer.
type Option func(*Tailer)

// FromEnd skips the existing content and only reports lines appended later.
func FromEnd() Option {
	return func(t *Tailer) {
		t.fromEnd = true
	}
}

// WithPollInterval sets the fallback re-read interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) {
		t.poll = d
	}
}

// WithLogger sets the tailer's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Tailer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New opens path for following.
func New(path string, opts ...Option) (*Tailer, error) {
	t := &Tailer{
		path:   path,
		poll:   DefaultPollInterval,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if t.fromEnd {
		if t.offset, err = f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		_ = f.Close()
		return nil, err
	}

	t.file = f
	t.reader = bufio.NewReader(f)
	t.watcher = watcher
	return t, nil
}

// Run delivers every complete line to handler until ctx is done or the file
// is removed. A trailing line without a newline is held back until it is
// completed. Run closes the tailer when it returns.
func (t *Tailer) Run(ctx context.Context, handler func(line string)) error {
	defer t.Close()

	if err := t.drain(handler); err != nil {
		return err
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 || (ev.Op&fsnotify.Chmod != 0 && t.removed()) {
				t.logger.Info("followed file went away", "path", t.path, "op", ev.Op.String())
				return t.drain(handler)
			}
			if ev.Op&fsnotify.Write != 0 {
				if err := t.drain(handler); err != nil {
					return err
				}
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("file watcher error", "path", t.path, "error", err.Error())

		case <-ticker.C:
			if err := t.drain(handler); err != nil {
				return err
			}
			if t.removed() {
				t.logger.Info("followed file went away", "path", t.path)
				return nil
			}
		}
	}
}

// removed reports whether the path no longer exists. An unlinked file that
// is still open only produces an attribute change, not a remove event.
func (t *Tailer) removed() bool {
	_, err := os.Stat(t.path)
	return errors.Is(err, fs.ErrNotExist)
}

// drain reads everything currently in the file.
func (t *Tailer) drain(handler func(line string)) error {
	if err := t.checkTruncated(); err != nil {
		return err
	}

	for {
		chunk, err := t.reader.ReadBytes('\n')
		t.offset += int64(len(chunk))

		if len(chunk) > 0 {
			if chunk[len(chunk)-1] == '\n' {
				line := append(t.partial, chunk[:len(chunk)-1]...)
				t.partial = nil
				handler(string(bytes.TrimSuffix(line, []byte{'\r'})))
			} else {
				t.partial = append(t.partial, chunk...)
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// checkTruncated restarts from the top when the file shrank under us.
func (t *Tailer) checkTruncated() error {
	info, err := t.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= t.offset {
		return nil
	}

	t.logger.Info("followed file truncated", "path", t.path, "size", info.Size(), "offset", t.offset)
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	t.reader.Reset(t.file)
	t.offset = 0
	t.partial = nil
	return nil
}

// Close releases the file and the watcher.
func (t *Tailer) Close() error {
	return errors.Join(t.watcher.Close(), t.file.Close())
}
