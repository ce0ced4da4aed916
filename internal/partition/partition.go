// Package partition extracts registry records from a large, optionally
// gzip-compressed JSON stream while holding only a small sliding buffer.
//
// Two layouts are accepted, chosen by the first structural byte:
//
//	{"entities":[{...},{...}]}   records at brace depth 2
//	[{...},{...}]                records at brace depth 1
//
// Every record slice is decoded on its own; a slice that fails to decode or
// carries no id is counted as skipped. Stream and decompression errors end
// the run.
package partition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/model"
	"github.com/klauspost/compress/gzip"
)

// DefaultChunkSize is the read size per iteration.
const DefaultChunkSize = 64 << 10

// ErrLayout is returned when the stream is neither an object nor an array.
var ErrLayout = errors.New("partition: stream is not a JSON object or array")

// Sink receives every decoded record. Returning an error stops the run.
type Sink func(*model.Entity) error

// Stats summarizes one run.
type Stats struct {
	// Records is the number of records forwarded to the sink.
	Records int64
	// Skipped counts record slices that failed to decode or had no id.
	Skipped int64
	// PeakBuffer is the largest capacity the sliding buffer reached.
	PeakBuffer int
	// Largest is the size in bytes of the largest record slice.
	Largest int
	// Compressed reports whether the stream was gzip-compressed.
	Compressed bool
}

type options struct {
	chunkSize int
	codec     codec.Codec
	logger    *slog.Logger
}

// Option configures Partition.
type Option func(*options)

// WithChunkSize sets the read size per iteration.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithCodec sets the codec used to decode record slices.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Partition reads r to the end and calls sink once per record.
func Partition(ctx context.Context, r io.Reader, sink Sink, opts ...Option) (Stats, error) {
	o := options{
		chunkSize: DefaultChunkSize,
		codec:     codec.Default,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var stats Stats
	src, compressed, err := decompress(r)
	if err != nil {
		return stats, err
	}
	defer src.Close()
	stats.Compressed = compressed

	s := scanner{
		buf:   make([]byte, 0, o.chunkSize),
		start: -1,
	}
	chunk := make([]byte, o.chunkSize)

	emit := func(raw []byte) error {
		if len(raw) > stats.Largest {
			stats.Largest = len(raw)
		}
		var e model.Entity
		if err := o.codec.Unmarshal(raw, &e); err != nil {
			stats.Skipped++
			o.logger.Debug("partition: skipping undecodable record", "bytes", len(raw), "error", err)
			return nil
		}
		if e.ID == "" {
			stats.Skipped++
			return nil
		}
		stats.Records++
		return sink(&e)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, rerr := src.Read(chunk)
		if n > 0 {
			s.append(chunk[:n])
			if c := cap(s.buf); c > stats.PeakBuffer {
				stats.PeakBuffer = c
			}
			if err := s.scan(emit); err != nil {
				return stats, err
			}
			s.compact()
		}
		if rerr == io.EOF {
			return stats, nil
		}
		if rerr != nil {
			return stats, fmt.Errorf("partition: read: %w", rerr)
		}
	}
}

func decompress(r io.Reader) (io.ReadCloser, bool, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, fmt.Errorf("partition: read: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, true, fmt.Errorf("partition: gzip: %w", err)
		}
		return zr, true, nil
	}
	return io.NopCloser(br), false, nil
}

// scanner tracks brace depth across chunk boundaries. buf holds unscanned
// bytes plus, when start >= 0, the record that is still open.
type scanner struct {
	buf      []byte
	pos      int
	start    int
	depth    int
	level    int // record depth, 0 until the first structural byte
	inString bool
	escaped  bool
}

// append adds p to the buffer, growing capacity by half when full.
func (s *scanner) append(p []byte) {
	need := len(s.buf) + len(p)
	if need > cap(s.buf) {
		newCap := cap(s.buf) + cap(s.buf)/2
		if newCap < need {
			newCap = need
		}
		grown := make([]byte, len(s.buf), newCap)
		copy(grown, s.buf)
		s.buf = grown
	}
	s.buf = append(s.buf, p...)
}

func (s *scanner) scan(emit func([]byte) error) error {
	for ; s.pos < len(s.buf); s.pos++ {
		c := s.buf[s.pos]
		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
			}
			continue
		}
		if s.level == 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '{':
				s.level = 2
			case '[':
				s.level = 1
			default:
				return ErrLayout
			}
		}
		switch c {
		case '"':
			s.inString = true
		case '{':
			s.depth++
			if s.depth == s.level {
				s.start = s.pos
			}
		case '}':
			if s.depth == s.level && s.start >= 0 {
				raw := s.buf[s.start : s.pos+1]
				s.start = -1
				if err := emit(raw); err != nil {
					return err
				}
			}
			s.depth--
		}
	}
	return nil
}

// compact drops every byte that no open record refers to.
func (s *scanner) compact() {
	if s.start < 0 {
		s.buf = s.buf[:0]
		s.pos = 0
		return
	}
	n := copy(s.buf, s.buf[s.start:])
	s.buf = s.buf[:n]
	s.pos -= s.start
	s.start = 0
}
