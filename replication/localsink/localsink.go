// Package localsink appends the replication instruction stream to a local
// log file.
//
// Each instruction is framed with a length and a CRC32C over its payload.
// The frame stream may be compressed as a whole with zstd or lz4; the file
// header records the choice so Replay can pick the matching reader.
package localsink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/objcore/objcore/internal/hash"
	"github.com/objcore/objcore/internal/mmap"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/resource"
)

// Compression selects the stream compression of the log.
type Compression uint8

const (
	// CompressionNone writes raw frames.
	CompressionNone Compression = iota
	// CompressionZstd compresses the frame stream with zstd.
	CompressionZstd
	// CompressionLZ4 compresses the frame stream with lz4.
	CompressionLZ4
)

const (
	fileName  = "objcore.repl"
	magic     = 0x4F524550 // "PERO" little-endian: replication log
	version   = 1
	headerLen = 8
)

// ErrCorruptLog is returned by Replay when a frame fails its checksum.
var ErrCorruptLog = errors.New("localsink: corrupt log")

// Options configures the sink.
type Options struct {
	// Dir is the directory the log file is created in.
	Dir string

	// Compression selects the stream compression. Default: none.
	Compression Compression

	// CompressionLevel sets the zstd level (1-22); ignored for other
	// compression modes. Default 3.
	CompressionLevel int

	// SyncEvery fsyncs after every n instructions; 0 disables explicit
	// syncing. Only meaningful with CompressionNone, since compressed
	// streams buffer inside the encoder.
	SyncEvery int

	// Controller, when set, throttles log writes under its IO budget.
	Controller *resource.Controller
}

// DefaultOptions are the options used when no override is given.
var DefaultOptions = Options{
	CompressionLevel: 3,
}

// Sink appends instructions to a local log file.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	w       io.Writer
	zenc    *zstd.Encoder
	lz4w    *lz4.Writer
	opts    Options
	path    string
	scratch []byte
	pending int
	closed  bool
}

// New creates the log file in opts.Dir, truncating an existing one.
func New(optFns ...func(o *Options)) (*Sink, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(opts.Dir, 0750); err != nil {
		return nil, fmt.Errorf("localsink: create dir: %w", err)
	}
	path := filepath.Join(opts.Dir, fileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, fmt.Errorf("localsink: open log: %w", err)
	}

	var header [headerLen]byte
	binary.LittleEndian.PutUint32(header[0:], magic)
	header[4] = version
	header[5] = byte(opts.Compression)
	if _, err := file.Write(header[:]); err != nil {
		_ = file.Close()
		return nil, err
	}

	s := &Sink{file: file, opts: opts, path: path}
	var out io.Writer = file
	if opts.Controller != nil {
		out = opts.Controller.LimitWriter(context.Background(), out)
	}
	s.buf = bufio.NewWriter(out)
	switch opts.Compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(s.buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		s.zenc = enc
		s.w = enc
	case CompressionLZ4:
		s.lz4w = lz4.NewWriter(s.buf)
		s.w = s.lz4w
	default:
		s.w = s.buf
	}
	return s, nil
}

// Path returns the log file path.
func (s *Sink) Path() string { return s.path }

// Emit implements replication.Sink.
func (s *Sink) Emit(_ context.Context, inst replication.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("localsink: closed")
	}

	s.scratch = replication.AppendInstruction(s.scratch[:0], inst)
	var frame [8]byte
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(s.scratch)))
	binary.LittleEndian.PutUint32(frame[4:], hash.CRC32C(s.scratch))
	if _, err := s.w.Write(frame[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(s.scratch); err != nil {
		return err
	}

	s.pending++
	if s.opts.SyncEvery > 0 && s.pending >= s.opts.SyncEvery && s.opts.Compression == CompressionNone {
		s.pending = 0
		if err := s.buf.Flush(); err != nil {
			return err
		}
		return s.file.Sync()
	}
	return nil
}

// Close flushes and closes the log.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.zenc != nil {
		if err := s.zenc.Close(); err != nil {
			return err
		}
	}
	if s.lz4w != nil {
		if err := s.lz4w.Close(); err != nil {
			return err
		}
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// Replay reads a closed log back and invokes fn for every instruction in
// emission order. The file is memory-mapped; compressed streams are
// decompressed from the mapping.
func Replay(dir string, fn func(inst replication.Instruction) error) error {
	f, err := mmap.Open(filepath.Join(dir, fileName))
	if err != nil {
		return err
	}
	defer f.Close()

	data := f.Bytes()
	if len(data) < headerLen {
		return fmt.Errorf("%w: truncated header", ErrCorruptLog)
	}
	if binary.LittleEndian.Uint32(data[0:]) != magic || data[4] != version {
		return fmt.Errorf("%w: bad header", ErrCorruptLog)
	}
	compression := Compression(data[5])
	stream := data[headerLen:]

	var r io.Reader = bytes.NewReader(stream)
	switch compression {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return err
		}
		defer dec.Close()
		r = dec
	case CompressionLZ4:
		r = lz4.NewReader(r)
	}

	var frame [8]byte
	var payload []byte
	for {
		if _, err := io.ReadFull(r, frame[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		size := binary.LittleEndian.Uint32(frame[0:])
		crc := binary.LittleEndian.Uint32(frame[4:])
		if cap(payload) < int(size) {
			payload = make([]byte, size)
		}
		payload = payload[:size]
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		if hash.CRC32C(payload) != crc {
			return fmt.Errorf("%w: checksum mismatch", ErrCorruptLog)
		}
		inst, _, err := replication.DecodeInstruction(payload)
		if err != nil {
			return err
		}
		if err := fn(inst); err != nil {
			return err
		}
	}
}
