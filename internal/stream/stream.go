// Package stream delivers model output to a session chunk by chunk.
package stream

import (
	"context"
	"io"
	"strings"
	"time"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 64

// Source yields model output. Next returns io.EOF once the output is
// complete.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Sink consumes chunks. *session.Session satisfies it.
type Sink interface {
	Feed(ctx context.Context, chunk string) error
	CloseStream()
}

// ReaderSource splits an io.Reader into chunks, optionally pacing them to
// imitate a model streaming its answer.
type ReaderSource struct {
	r     io.Reader
	buf   []byte
	delay time.Duration
	read  bool
}

// NewReaderSource returns a source reading at most chunkSize bytes per
// chunk and waiting delay between chunks.
func NewReaderSource(r io.Reader, chunkSize int, delay time.Duration) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderSource{r: r, buf: make([]byte, chunkSize), delay: delay}
}

// NewStringSource is NewReaderSource over s.
func NewStringSource(s string, chunkSize int, delay time.Duration) *ReaderSource {
	return NewReaderSource(strings.NewReader(s), chunkSize, delay)
}

// Next returns the next chunk.
func (s *ReaderSource) Next(ctx context.Context) (string, error) {
	if s.read && s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	s.read = true

	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			return string(s.buf[:n]), nil
		}
		if err != nil {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
}

// Pump copies src into sink until src is exhausted, then closes the
// sink's stream. It returns the number of bytes fed. On any error other
// than io.EOF the stream is left open so the caller can abort.
func Pump(ctx context.Context, src Source, sink Sink) (int, error) {
	total := 0
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			sink.CloseStream()
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if err := sink.Feed(ctx, chunk); err != nil {
			return total, err
		}
		total += len(chunk)
	}
}
