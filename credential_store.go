package credhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/credhub/internal/reliability"
	"github.com/hengadev/credhub/internal/security"
	"github.com/hengadev/credhub/internal/serialization"
)

// CredentialStore appends and reads encrypted credential versions.
//
// Every write appends a new immutable version encrypted under the key that is
// active at that moment. Reads decrypt with the key recorded on the version,
// which the key directory keeps available after rotation.
type CredentialStore struct {
	store      VersionStore
	encryption *EncryptionService
	serializer Serializer
	generator  *CredentialGenerator
	audit      AuditSink
	metrics    MetricsCollector
	logger     *slog.Logger
	retry      RetryConfig
	argon2     *Argon2Params
	now        func() time.Time
}

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore) error

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *CredentialStore) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfiguration)
		}
		s.logger = logger
		return nil
	}
}

// WithAuditSink reports encrypt, decrypt, delete and re-encryption events to sink.
func WithAuditSink(sink AuditSink) StoreOption {
	return func(s *CredentialStore) error {
		if sink == nil {
			return fmt.Errorf("%w: audit sink cannot be nil", ErrInvalidConfiguration)
		}
		s.audit = sink
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) StoreOption {
	return func(s *CredentialStore) error {
		if m == nil {
			return fmt.Errorf("%w: metrics collector cannot be nil", ErrInvalidConfiguration)
		}
		s.metrics = m
		return nil
	}
}

// WithRetryConfig sets how transient key provider and store failures are retried.
func WithRetryConfig(cfg RetryConfig) StoreOption {
	return func(s *CredentialStore) error {
		s.retry = cfg
		return nil
	}
}

// WithSerializer replaces the JSON payload codec.
func WithSerializer(serializer Serializer) StoreOption {
	return func(s *CredentialStore) error {
		if serializer == nil {
			return fmt.Errorf("%w: serializer cannot be nil", ErrInvalidConfiguration)
		}
		s.serializer = serializer
		return nil
	}
}

// WithArgon2Params sets the parameters used to hash user credential passwords.
func WithArgon2Params(params *Argon2Params) StoreOption {
	return func(s *CredentialStore) error {
		if err := params.Validate(); err != nil {
			return fmt.Errorf("%w: validate Argon2Params: %w", ErrInvalidConfiguration, err)
		}
		s.argon2 = params
		return nil
	}
}

// WithGenerator replaces the credential generator.
func WithGenerator(g *CredentialGenerator) StoreOption {
	return func(s *CredentialStore) error {
		if g == nil {
			return fmt.Errorf("%w: generator cannot be nil", ErrInvalidConfiguration)
		}
		s.generator = g
		return nil
	}
}

// WithClock replaces time.Now for version timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *CredentialStore) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfiguration)
		}
		s.now = now
		return nil
	}
}

func NewCredentialStore(store VersionStore, encryption *EncryptionService, opts ...StoreOption) (*CredentialStore, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: version store is required", ErrInvalidConfiguration)
	}
	if encryption == nil {
		return nil, fmt.Errorf("%w: encryption service is required", ErrInvalidConfiguration)
	}

	s := &CredentialStore{
		store:      store,
		encryption: encryption,
		serializer: serialization.JSONSerializer{},
		generator:  NewCredentialGenerator(security.NewSecureRandomGenerator()),
		audit:      NoOpAuditSink{},
		metrics:    &NoOpMetricsCollector{},
		logger:     slog.Default(),
		retry:      DefaultRetryConfig(),
		argon2:     DefaultArgon2Params(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Directory returns the key directory versions are encrypted against.
func (s *CredentialStore) Directory() *KeyDirectory {
	return s.encryption.Directory()
}

// Append encrypts plaintext and optional generation parameters under the
// active key and stores them as a new version of name.
func (s *CredentialStore) Append(ctx context.Context, name string, typ CredentialType, plaintext, params []byte) (*CredentialVersion, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, NewUnknownCredentialTypeError(string(typ))
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: plaintext cannot be empty", ErrInvalidValue)
	}

	// One snapshot for both payloads so they share a key even if a reload lands mid-call.
	active := s.Directory().Active()

	v := &CredentialVersion{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		KeyID:     active.Key.ID,
		CreatedAt: s.now().UTC(),
	}
	v.Value, err = s.encryption.seal(ctx, active, plaintext)
	if err != nil {
		return nil, s.failAppend(ctx, v, err)
	}
	if params != nil {
		sealed, err := s.encryption.seal(ctx, active, params)
		if err != nil {
			return nil, s.failAppend(ctx, v, err)
		}
		v.Parameters = &sealed
	}

	if err := s.insert(ctx, v); err != nil {
		return nil, s.failAppend(ctx, v, err)
	}

	s.metrics.IncrementCounter(MetricAppend, map[string]string{"type": string(typ), "status": "success"})
	s.audit.Record(ctx, AuditEvent{
		Time:      s.now().UTC(),
		Operation: AuditEncrypt,
		Name:      v.Name,
		VersionID: v.ID,
		KeyID:     v.KeyID,
		Outcome:   OutcomeSuccess,
	})
	s.logger.Debug("credential version appended",
		slog.String("name", v.Name),
		slog.String("type", string(v.Type)),
		slog.String("version_id", v.ID.String()),
		slog.String("key_id", v.KeyID.String()))
	return v, nil
}

func (s *CredentialStore) failAppend(ctx context.Context, v *CredentialVersion, err error) error {
	err = newCryptoError("append", v.KeyID, v.ID, err)
	s.metrics.IncrementCounter(MetricAppend, map[string]string{"type": string(v.Type), "status": "error"})
	s.audit.Record(ctx, AuditEvent{
		Time:      s.now().UTC(),
		Operation: AuditEncrypt,
		Name:      v.Name,
		VersionID: v.ID,
		KeyID:     v.KeyID,
		Outcome:   OutcomeFailure,
		Error:     err.Error(),
	})
	return err
}

func (s *CredentialStore) insert(ctx context.Context, v *CredentialVersion) error {
	return reliability.Retry(ctx, s.retry.reliability(), func(ctx context.Context) error {
		return s.store.Insert(ctx, v)
	})
}

// Set stores a typed credential value as a new version of name.
func (s *CredentialStore) Set(ctx context.Context, name string, value CredentialValue) (*CredentialVersion, error) {
	return s.set(ctx, name, value, nil)
}

func (s *CredentialStore) set(ctx context.Context, name string, value CredentialValue, params GenerationParameters) (*CredentialVersion, error) {
	if err := validateValue(value); err != nil {
		return nil, err
	}
	if user, ok := value.(UserCredential); ok && user.PasswordHash == "" {
		hash, err := HashPassword(user.Password, s.argon2)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
		value = user
	}

	plaintext, err := s.serializer.Serialize(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	var rawParams []byte
	if params != nil {
		if rawParams, err = s.serializer.Serialize(params); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
	}
	return s.Append(ctx, name, value.CredentialType(), plaintext, rawParams)
}

// MostRecent returns the current version of name, matching case-insensitively.
func (s *CredentialStore) MostRecent(ctx context.Context, name string) (*CredentialVersion, error) {
	versions, err := s.AllVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	return versions[0], nil
}

// AllVersions returns every live version of name, newest first.
func (s *CredentialStore) AllVersions(ctx context.Context, name string) ([]*CredentialVersion, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find versions of %s: %w", name, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return versions, nil
}

// FindByID returns one version, live or superseded.
func (s *CredentialStore) FindByID(ctx context.Context, id uuid.UUID) (*CredentialVersion, error) {
	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: version %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("find version %s: %w", id, err)
	}
	return v, nil
}

// DeleteByName removes every version of name, including superseded ones, and
// reports how many rows were removed. Deleting a name with no versions fails
// with ErrNotFound.
func (s *CredentialStore) DeleteByName(ctx context.Context, name string) (int64, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return 0, err
	}
	removed, err := s.store.DeleteByName(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", name, err)
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.audit.Record(ctx, AuditEvent{
		Time:      s.now().UTC(),
		Operation: AuditDelete,
		Name:      name,
		Outcome:   OutcomeSuccess,
	})
	s.logger.Info("credential deleted", slog.String("name", name), slog.Int64("versions", removed))
	return removed, nil
}

// FindContainingName returns the newest version summary of every name
// containing term, case-insensitively. An empty term matches every name.
func (s *CredentialStore) FindContainingName(ctx context.Context, term string) ([]NameSummary, error) {
	q := containsQuery(term)
	if q.Substring == "" {
		q = NameQuery{Prefix: NameSeparator}
	}
	return s.search(ctx, q)
}

// FindStartingWithPath returns the newest version summary of every name under
// path. The path is treated as a directory: a trailing separator is added
// before matching.
func (s *CredentialStore) FindStartingWithPath(ctx context.Context, path string) ([]NameSummary, error) {
	return s.search(ctx, pathQuery(path))
}

// Paths lists every directory that holds at least one credential, sorted.
func (s *CredentialStore) Paths(ctx context.Context) ([]string, error) {
	summaries, err := s.search(ctx, NameQuery{Prefix: NameSeparator})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var paths []string
	for _, sum := range summaries {
		for _, p := range parentPaths(sum.Name) {
			folded := FoldName(p)
			if !seen[folded] {
				seen[folded] = true
				paths = append(paths, p)
			}
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func (s *CredentialStore) search(ctx context.Context, q NameQuery) ([]NameSummary, error) {
	out, err := s.store.SearchNames(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search names: %w", err)
	}
	return out, nil
}

// open decrypts the value and parameters of v, retrying transient provider
// failures, and reports the outcome to the audit sink.
func (s *CredentialStore) open(ctx context.Context, v *CredentialVersion) (value, params []byte, err error) {
	defer func() {
		event := AuditEvent{
			Time:      s.now().UTC(),
			Operation: AuditDecrypt,
			Name:      v.Name,
			VersionID: v.ID,
			KeyID:     v.KeyID,
			Outcome:   OutcomeSuccess,
		}
		if err != nil {
			event.Outcome = OutcomeFailure
			event.Error = err.Error()
		}
		s.audit.Record(ctx, event)
	}()

	value, err = s.decrypt(ctx, v, v.Value)
	if err != nil {
		return nil, nil, err
	}
	if v.Parameters != nil {
		params, err = s.decrypt(ctx, v, *v.Parameters)
		if err != nil {
			return nil, nil, err
		}
	}
	return value, params, nil
}

func (s *CredentialStore) decrypt(ctx context.Context, v *CredentialVersion, sealed Sealed) ([]byte, error) {
	plaintext, err := reliability.RetryWithResult(ctx, s.retry.reliability(), func(ctx context.Context) ([]byte, error) {
		return s.encryption.Decrypt(ctx, v.KeyID, sealed)
	})
	if err != nil {
		return nil, newCryptoError("decrypt", v.KeyID, v.ID, err)
	}
	return plaintext, nil
}
