// Package s3sink batches the replication instruction stream and uploads the
// batches as objects to S3.
//
// Instructions are buffered in memory; every BatchSize instructions (or on
// Flush/Close) the batch is encoded and uploaded as one object named by its
// starting log sequence number, so downstream consumers can apply objects
// in lexicographic key order.
package s3sink

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/objcore/objcore/codec"
	"github.com/objcore/objcore/internal/hash"
	"github.com/objcore/objcore/replication"
)

// Options configures the sink.
type Options struct {
	// Bucket is the target S3 bucket.
	Bucket string

	// Prefix is prepended to every object key (e.g. "mydb/repl/").
	Prefix string

	// BatchSize is the number of instructions per uploaded object.
	// Default 512.
	BatchSize int

	// MaxInflight bounds concurrent batch uploads. Default 4.
	MaxInflight int

	// Codec, when set, uploads batches as codec-encoded documents (one
	// array of instructions per object, key suffix derived from the codec
	// name) instead of the binary frame format. Useful when the bucket
	// feeds analytics rather than a replaying consumer.
	Codec codec.Codec
}

// Sink uploads instruction batches to S3.
type Sink struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     Options

	mu    sync.Mutex
	batch []replication.Instruction
	lsn   uint64 // sequence number of the next instruction

	group *errgroup.Group
	gctx  context.Context
}

// New creates a sink over an existing S3 client.
func New(client *s3.Client, optFns ...func(o *Options)) *Sink {
	opts := Options{BatchSize: 512, MaxInflight: 4}
	for _, fn := range optFns {
		fn(&opts)
	}
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(opts.MaxInflight)
	return &Sink{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
		group:    g,
		gctx:     gctx,
	}
}

// NewFromConfig creates a sink with a client from the default AWS config
// chain.
func NewFromConfig(ctx context.Context, optFns ...func(o *Options)) (*Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3sink: load aws config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), optFns...), nil
}

// LSN returns the sequence number of the next instruction.
func (s *Sink) LSN() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lsn
}

// Emit implements replication.Sink. The instruction is buffered; a full
// batch is handed to a background upload.
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
	// Fail fast if an earlier upload already failed.
	select {
	case <-s.gctx.Done():
		return context.Cause(s.gctx)
	default:
	}
	s.group.Go(func() error { return s.upload(flush, first) })
	return nil
}

// Flush uploads the partial batch and waits for all inflight uploads.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	flush := s.batch
	first := s.lsn - uint64(len(flush))
	s.batch = nil
	s.mu.Unlock()

	if len(flush) > 0 {
		s.group.Go(func() error { return s.upload(flush, first) })
	}
	return s.group.Wait()
}

// Close flushes the sink.
func (s *Sink) Close(ctx context.Context) error { return s.Flush(ctx) }

// encodeBatch renders a batch as binary frames of [len u32][crc32c u32]
// [payload], the same frame content the local sink writes.
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
	ext := "bin"
	if s.opts.Codec != nil {
		ext = s.opts.Codec.Name()
	}
	return path.Join(s.opts.Prefix, fmt.Sprintf("inst-%020d.%s", firstLSN, ext))
}

func (s *Sink) upload(batch []replication.Instruction, firstLSN uint64) error {
	var body []byte
	if s.opts.Codec != nil {
		var err error
		body, err = s.opts.Codec.Marshal(batch)
		if err != nil {
			return fmt.Errorf("s3sink: encode batch at lsn %d: %w", firstLSN, err)
		}
	} else {
		body = encodeBatch(batch)
	}
	_, err := s.uploader.Upload(s.gctx, &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(firstLSN)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("s3sink: upload batch at lsn %d: %w", firstLSN, err)
	}
	return nil
}
