// Package miniosink batches the replication instruction stream and uploads
// the batches to a MinIO or any S3-compatible endpoint.
//
// The object layout and frame encoding match the s3sink package, so a
// consumer can read either.
package miniosink

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/objcore/objcore/internal/hash"
	"github.com/objcore/objcore/replication"
)

// Options configures the sink.
type Options struct {
	// Bucket is the target bucket.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// BatchSize is the number of instructions per uploaded object.
	// Default 512.
	BatchSize int
}

// Sink uploads instruction batches to a MinIO endpoint.
type Sink struct {
	client *minio.Client
	opts   Options

	mu    sync.Mutex
	batch []replication.Instruction
	lsn   uint64
}

// New creates a sink over an existing MinIO client.
func New(client *minio.Client, optFns ...func(o *Options)) *Sink {
	opts := Options{BatchSize: 512}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Sink{client: client, opts: opts}
}

// LSN returns the sequence number of the next instruction.
func (s *Sink) LSN() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lsn
}

// Emit implements replication.Sink. A full batch is uploaded synchronously;
// MinIO deployments are typically close enough that the simpler model wins
// over inflight tracking.
func (s *Sink) Emit(ctx context.Context, inst replication.Instruction) error {
	s.mu.Lock()
	s.batch = append(s.batch, inst)
	s.lsn++
	var (
		flush []replication.Instruction
		first uint64
	)
	if len(s.batch) >= s.opts.BatchSize {
		flush = s.batch
		first = s.lsn - uint64(len(flush))
		s.batch = nil
	}
	s.mu.Unlock()

	if flush == nil {
		return nil
	}
	return s.upload(ctx, flush, first)
}

// Flush uploads the partial batch.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	flush := s.batch
	first := s.lsn - uint64(len(flush))
	s.batch = nil
	s.mu.Unlock()

	if len(flush) == 0 {
		return nil
	}
	return s.upload(ctx, flush, first)
}

// encodeBatch renders a batch as binary frames of [len u32][crc32c u32]
// [payload], matching the s3sink object layout.
func encodeBatch(batch []replication.Instruction) []byte {
	var buf bytes.Buffer
	var scratch []byte
	for _, inst := range batch {
		scratch = replication.AppendInstruction(scratch[:0], inst)
		var frame [8]byte
		binary.LittleEndian.PutUint32(frame[0:], uint32(len(scratch)))
		binary.LittleEndian.PutUint32(frame[4:], hash.CRC32C(scratch))
		buf.Write(frame[:])
		buf.Write(scratch)
	}
	return buf.Bytes()
}

func (s *Sink) key(firstLSN uint64) string {
	return path.Join(s.opts.Prefix, fmt.Sprintf("inst-%020d.bin", firstLSN))
}

func (s *Sink) upload(ctx context.Context, batch []replication.Instruction, firstLSN uint64) error {
	body := encodeBatch(batch)
	_, err := s.client.PutObject(ctx, s.opts.Bucket, s.key(firstLSN), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("miniosink: upload batch at lsn %d: %w", firstLSN, err)
	}
	return nil
}
