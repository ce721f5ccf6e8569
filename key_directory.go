package credhub

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
)

// KeyEntry pairs a key definition with the cipher that holds its material.
type KeyEntry struct {
	Key    EncryptionKey
	Cipher KeyCipher
}

// keySet is an immutable, validated view of the configured keys.
type keySet struct {
	active  KeyEntry
	entries map[uuid.UUID]KeyEntry
	order   []uuid.UUID
}

// KeyDirectory holds the configured encryption keys and designates exactly
// one of them as active.
//
// Readers always load a complete, validated key set. Reload builds and
// validates a new set before publishing it with a single pointer swap, so a
// reader never sees zero or several active keys.
type KeyDirectory struct {
	current atomic.Pointer[keySet]
	state   atomic.Int32

	// serializes reloads
	mu sync.Mutex

	logger *slog.Logger
	audit  AuditSink
}

// DirectoryOption configures a KeyDirectory.
type DirectoryOption func(*KeyDirectory)

// WithDirectoryLogger sets the logger used for reload events.
func WithDirectoryLogger(logger *slog.Logger) DirectoryOption {
	return func(d *KeyDirectory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDirectoryAudit reports reloads to sink.
func WithDirectoryAudit(sink AuditSink) DirectoryOption {
	return func(d *KeyDirectory) {
		if sink != nil {
			d.audit = sink
		}
	}
}

// NewKeyDirectory validates entries and returns an active directory. It fails
// with ErrInvalidConfiguration unless exactly one entry is active.
func NewKeyDirectory(entries []KeyEntry, opts ...DirectoryOption) (*KeyDirectory, error) {
	d := &KeyDirectory{
		logger: slog.Default(),
		audit:  NoOpAuditSink{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.setState(DirectoryUnconfigured)

	set, err := buildKeySet(entries)
	if err != nil {
		return nil, err
	}
	d.setState(DirectoryValidated)

	d.current.Store(set)
	d.setState(DirectoryActive)

	d.logger.Info("key directory configured",
		slog.String("active_key", set.active.Key.ID.String()),
		slog.Int("keys", len(set.order)))
	return d, nil
}

func buildKeySet(entries []KeyEntry) (*keySet, error) {
	var errs errsx.Map

	set := &keySet{entries: make(map[uuid.UUID]KeyEntry, len(entries))}
	var actives []uuid.UUID
	for i, e := range entries {
		field := fmt.Sprintf("keys[%d]", i)
		switch {
		case e.Key.ID == uuid.Nil:
			errs.Set(field, fmt.Errorf("key id is required"))
			continue
		case !e.Key.Provider.Valid():
			errs.Set(field, fmt.Errorf("unknown provider %q for key %s", e.Key.Provider, e.Key.ID))
		case e.Cipher == nil:
			errs.Set(field, fmt.Errorf("no key material for key %s", e.Key.ID))
		}
		if _, dup := set.entries[e.Key.ID]; dup {
			errs.Set(field, fmt.Errorf("duplicate key id %s", e.Key.ID))
			continue
		}
		set.entries[e.Key.ID] = e
		set.order = append(set.order, e.Key.ID)
		if e.Key.Active {
			actives = append(actives, e.Key.ID)
			set.active = e
		}
	}

	switch len(actives) {
	case 1:
	case 0:
		errs.Set("active", fmt.Errorf("no active key configured"))
	default:
		errs.Set("active", fmt.Errorf("%d active keys configured, exactly one is allowed", len(actives)))
	}

	if !errs.IsEmpty() {
		return nil, fmt.Errorf("%w: key directory: %w", ErrInvalidConfiguration, errs.AsError())
	}
	return set, nil
}

func (d *KeyDirectory) load() *keySet {
	return d.current.Load()
}

func (d *KeyDirectory) setState(s DirectoryState) {
	d.state.Store(int32(s))
}

// State returns the lifecycle state of the directory.
func (d *KeyDirectory) State() DirectoryState {
	return DirectoryState(d.state.Load())
}

// ActiveKeyID returns the id of the key new versions are encrypted under.
func (d *KeyDirectory) ActiveKeyID() uuid.UUID {
	return d.load().active.Key.ID
}

// Active returns the active key entry. Callers that encrypt several payloads
// together should take one snapshot and use it for all of them.
func (d *KeyDirectory) Active() KeyEntry {
	return d.load().active
}

// IsKnown reports whether id is configured, active or not.
func (d *KeyDirectory) IsKnown(id uuid.UUID) bool {
	_, ok := d.load().entries[id]
	return ok
}

// Classify reports whether id is the active key, a retained inactive key, or
// unknown to the current configuration. It never consults stored versions.
func (d *KeyDirectory) Classify(id uuid.UUID) KeyStatus {
	return d.load().classify(id)
}

func (s *keySet) classify(id uuid.UUID) KeyStatus {
	if id == s.active.Key.ID {
		return KeyActive
	}
	if _, ok := s.entries[id]; ok {
		return KeyInactive
	}
	return KeyUnknown
}

// Key returns the entry for id.
func (d *KeyDirectory) Key(id uuid.UUID) (KeyEntry, bool) {
	e, ok := d.load().entries[id]
	return e, ok
}

// Keys returns the configured key definitions in configuration order.
func (d *KeyDirectory) Keys() []EncryptionKey {
	set := d.load()
	keys := make([]EncryptionKey, 0, len(set.order))
	for _, id := range set.order {
		keys = append(keys, set.entries[id].Key)
	}
	return keys
}

// Reload replaces the configured keys. The new set is validated first; on
// failure the directory keeps serving its previous keys and the error wraps
// ErrInvalidConfiguration.
func (d *KeyDirectory) Reload(ctx context.Context, entries []KeyEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setState(DirectoryReloading)
	previous := d.load()

	set, err := buildKeySet(entries)
	if err != nil {
		d.setState(DirectoryActive)
		d.logger.Error("key directory reload rejected", slog.String("error", err.Error()))
		d.audit.Record(ctx, AuditEvent{
			Operation: AuditKeyReload,
			KeyID:     previous.active.Key.ID,
			Outcome:   OutcomeFailure,
			Error:     err.Error(),
		})
		return err
	}
	d.setState(DirectoryValidated)

	d.current.Store(set)
	d.setState(DirectoryActive)

	var retired []string
	for _, id := range previous.order {
		if !slices.Contains(set.order, id) {
			retired = append(retired, id.String())
		}
	}
	d.logger.Info("key directory reloaded",
		slog.String("previous_active_key", previous.active.Key.ID.String()),
		slog.String("active_key", set.active.Key.ID.String()),
		slog.Int("keys", len(set.order)),
		slog.Any("removed_keys", retired))
	d.audit.Record(ctx, AuditEvent{
		Operation: AuditKeyReload,
		KeyID:     set.active.Key.ID,
		Outcome:   OutcomeSuccess,
	})
	return nil
}
