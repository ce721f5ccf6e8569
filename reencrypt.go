package credhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/credhub/internal/security"
	"github.com/hengadev/errsx"
	"golang.org/x/sync/errgroup"
)

// ReencryptionResult summarizes one re-encryption pass.
type ReencryptionResult struct {
	Scanned     int64             `json:"scanned"`
	Reencrypted int64             `json:"reencrypted"`
	Failed      int64             `json:"failed"`
	Failures    map[string]string `json:"failures,omitempty"`
	Canceled    bool              `json:"canceled"`
	Duration    time.Duration     `json:"duration"`
}

// Reencryptor copies every live version that is not under the active key
// into a new version sealed by the active key. Originals are kept and stay
// decryptable; the copy carries the original's name, type and timestamp.
type Reencryptor struct {
	credentials *CredentialStore
	usage       *KeyUsageService
	concurrency int
}

type ReencryptorOption func(*Reencryptor)

// WithConcurrency bounds how many versions are re-encrypted at once.
func WithConcurrency(n int) ReencryptorOption {
	return func(r *Reencryptor) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewReencryptor(credentials *CredentialStore, usage *KeyUsageService, opts ...ReencryptorOption) *Reencryptor {
	r := &Reencryptor{
		credentials: credentials,
		usage:       usage,
		concurrency: DefaultReencryptConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one pass. A failure on one version never stops the others;
// failures are collected per version id and returned together with the
// result. Cancelling ctx stops issuing new work and keeps every copy
// already appended.
func (r *Reencryptor) Run(ctx context.Context) (ReencryptionResult, error) {
	start := time.Now()
	logger := r.credentials.logger

	var (
		scanned, done, failed atomic.Int64
		mu                    sync.Mutex
		errs                  = errsx.Map{}
		scanErr               error
	)

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for v, err := range r.usage.VersionsNotUnderActiveKey(ctx) {
		if err != nil {
			scanErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		scanned.Add(1)
		g.Go(func() error {
			if _, err := r.credentials.reencrypt(ctx, v); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				failed.Add(1)
				mu.Lock()
				errs.Set(v.ID.String(), err)
				mu.Unlock()
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := ReencryptionResult{
		Scanned:     scanned.Load(),
		Reencrypted: done.Load(),
		Failed:      failed.Load(),
		Canceled:    ctx.Err() != nil,
		Duration:    time.Since(start),
	}
	if len(errs) > 0 {
		result.Failures = make(map[string]string, len(errs))
		for id, err := range errs {
			result.Failures[id] = fmt.Sprint(err)
		}
	}
	r.credentials.metrics.RecordTiming(MetricReencryptDuration, result.Duration, nil)

	logger.Info("re-encryption pass finished",
		slog.Int64("scanned", result.Scanned),
		slog.Int64("reencrypted", result.Reencrypted),
		slog.Int64("failed", result.Failed),
		slog.Bool("canceled", result.Canceled),
		slog.Duration("duration", result.Duration))

	switch {
	case scanErr != nil && !errors.Is(scanErr, context.Canceled):
		return result, fmt.Errorf("scan versions: %w", scanErr)
	case result.Canceled:
		return result, fmt.Errorf("re-encryption canceled: %w", ctx.Err())
	case !errs.IsEmpty():
		return result, fmt.Errorf("%d versions failed to re-encrypt: %w", result.Failed, errs.AsError())
	}
	return result, nil
}

// ReencryptionJob is a re-encryption pass running in the background.
type ReencryptionJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	result ReencryptionResult
	err    error
}

// Start runs a pass in a new goroutine.
func (r *Reencryptor) Start(ctx context.Context) *ReencryptionJob {
	ctx, cancel := context.WithCancel(ctx)
	job := &ReencryptionJob{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(job.done)
		defer cancel()
		job.result, job.err = r.Run(ctx)
	}()
	return job
}

// Cancel stops the pass from issuing further re-encryptions.
func (j *ReencryptionJob) Cancel() { j.cancel() }

// Done is closed once the pass has returned.
func (j *ReencryptionJob) Done() <-chan struct{} { return j.done }

// Result waits for the pass and returns its outcome.
func (j *ReencryptionJob) Result() (ReencryptionResult, error) {
	<-j.done
	return j.result, j.err
}

// reencrypt appends a copy of v sealed under the active key.
func (s *CredentialStore) reencrypt(ctx context.Context, v *CredentialVersion) (_ *CredentialVersion, err error) {
	start := time.Now()
	active := s.Directory().Active()
	replica := &CredentialVersion{
		ID:        uuid.New(),
		Name:      v.Name,
		Type:      v.Type,
		KeyID:     active.Key.ID,
		SourceID:  v.ID,
		CreatedAt: v.CreatedAt,
		Ordinal:   v.Ordinal,
	}

	defer func() {
		event := AuditEvent{
			Time:            s.now().UTC(),
			Operation:       AuditReencrypt,
			Name:            v.Name,
			VersionID:       replica.ID,
			SourceVersionID: v.ID,
			KeyID:           active.Key.ID,
			Outcome:         OutcomeSuccess,
		}
		status := "success"
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			event.Outcome, status = OutcomeCanceled, "canceled"
			event.Error = err.Error()
		case err != nil:
			event.Outcome, status = OutcomeFailure, "error"
			event.Error = err.Error()
		}
		s.audit.Record(ctx, event)
		s.metrics.IncrementCounter(MetricReencrypt, map[string]string{"status": status})
		s.metrics.RecordTiming(MetricReencryptDuration, time.Since(start), map[string]string{"status": status})
	}()

	value, err := s.decrypt(ctx, v, v.Value)
	if err != nil {
		return nil, err
	}
	defer security.ZeroBytes(value)

	replica.Value, err = s.encryption.seal(ctx, active, value)
	if err != nil {
		return nil, newCryptoError("reencrypt", active.Key.ID, v.ID, err)
	}
	if v.Parameters != nil {
		params, err := s.decrypt(ctx, v, *v.Parameters)
		if err != nil {
			return nil, err
		}
		defer security.ZeroBytes(params)
		sealed, err := s.encryption.seal(ctx, active, params)
		if err != nil {
			return nil, newCryptoError("reencrypt", active.Key.ID, v.ID, err)
		}
		replica.Parameters = &sealed
	}

	if err := s.insert(ctx, replica); err != nil {
		return nil, newCryptoError("reencrypt", active.Key.ID, v.ID, err)
	}
	return replica, nil
}
