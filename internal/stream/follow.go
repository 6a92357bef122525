package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Follower tails a file that another process is still writing. The stream
// ends when the file has not grown for the idle period or when it is
// removed. A non-positive idle period never ends the stream.
type Follower struct {
	path    string
	idle    time.Duration
	buf     []byte
	watcher *fsnotify.Watcher
	file    *os.File
}

// NewFollower watches path, which need not exist yet.
func NewFollower(path string, idle time.Duration, chunkSize int) (*Follower, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so creation and atomic replacement are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Follower{
		path:    abs,
		idle:    idle,
		buf:     make([]byte, chunkSize),
		watcher: watcher,
	}, nil
}

// Next returns newly appended text, waiting for it if necessary.
func (f *Follower) Next(ctx context.Context) (string, error) {
	var (
		idle  *time.Timer
		idleC <-chan time.Time
	)
	if f.idle > 0 {
		idle = time.NewTimer(f.idle)
		idleC = idle.C
		defer idle.Stop()
	}

	for {
		chunk, err := f.read()
		if err != nil {
			return "", err
		}
		if chunk != "" {
			return chunk, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case ev, ok := <-f.watcher.Events:
			if !ok {
				return "", io.EOF
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return "", io.EOF
			}
			if idle != nil {
				idle.Reset(f.idle)
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return "", io.EOF
			}
			return "", fmt.Errorf("watch %s: %w", f.path, err)

		case <-idleC:
			return "", io.EOF
		}
	}
}

func (f *Follower) read() (string, error) {
	if f.file == nil {
		fh, err := os.Open(f.path)
		if os.IsNotExist(err) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.path, err)
		}
		f.file = fh
	}
	n, err := f.file.Read(f.buf)
	if n > 0 {
		return string(f.buf[:n]), nil
	}
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", f.path, err)
	}
	return "", nil
}

// Close stops watching and closes the file.
func (f *Follower) Close() error {
	err := f.watcher.Close()
	if f.file != nil {
		if cerr := f.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
