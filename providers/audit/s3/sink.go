// Package s3audit ships credhub audit events to an S3 bucket as JSON lines.
package s3audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/hengadev/credhub"
)

// AWSS3Uploader defines the method used to upload to S3
type AWSS3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the destination of the audit objects.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "audit/".
	Prefix string
	Region string
	// FlushSize is the number of buffered events that triggers an upload.
	FlushSize int
}

// Sink buffers audit events and uploads each batch as one object named
//
//	<prefix>/<yyyy>/<mm>/<dd>/<unix nanos>-<uuid>.jsonl
//
// Uploads run in the background; Close waits for them and flushes the rest.
type Sink struct {
	client AWSS3Uploader
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []credhub.AuditEvent
	closed  bool

	uploads sync.WaitGroup
}

// New creates a sink using the default AWS credential chain.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %w", credhub.ErrInvalidConfiguration, err)
	}
	return NewWithClient(s3.NewFromConfig(awsConfig), cfg, logger)
}

// NewWithClient creates a sink around an existing uploader.
func NewWithClient(client AWSS3Uploader, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: audit bucket is required", credhub.ErrInvalidConfiguration)
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = credhub.DefaultAuditFlushSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "s3_audit")),
		now:    time.Now,
	}, nil
}

// Record buffers event and starts an upload once FlushSize events are pending.
func (s *Sink) Record(ctx context.Context, event credhub.AuditEvent) {
	if event.Time.IsZero() {
		event.Time = s.now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("audit event dropped after close", slog.String("operation", event.Operation))
		return
	}
	s.pending = append(s.pending, event)
	var batch []credhub.AuditEvent
	if len(s.pending) >= s.cfg.FlushSize {
		batch, s.pending = s.pending, nil
	}
	s.mu.Unlock()

	if batch != nil {
		s.uploads.Add(1)
		go func() {
			defer s.uploads.Done()
			if err := s.upload(context.WithoutCancel(ctx), batch); err != nil {
				s.logger.Error("audit upload failed", slog.Int("events", len(batch)), slog.String("error", err.Error()))
			}
		}()
	}
}

// Flush uploads the pending events synchronously.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.upload(ctx, batch)
}

// Close stops accepting events, waits for background uploads and flushes
// what is left.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.uploads.Wait()
	return s.Flush(ctx)
}

func (s *Sink) upload(ctx context.Context, batch []credhub.AuditEvent) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode audit event: %w", err)
		}
	}

	key := s.objectKey()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	s.logger.Debug("audit batch uploaded", slog.String("key", key), slog.Int("events", len(batch)))
	return nil
}

func (s *Sink) objectKey() string {
	now := s.now().UTC()
	return path.Join(s.cfg.Prefix, now.Format("2006/01/02"), fmt.Sprintf("%d-%s.jsonl", now.UnixNano(), uuid.New()))
}

var _ credhub.AuditSink = (*Sink)(nil)
