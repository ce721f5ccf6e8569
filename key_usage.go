package credhub

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
)

// KeyUsageService reports how stored versions are spread across keys.
type KeyUsageService struct {
	store     VersionStore
	directory *KeyDirectory
}

func NewKeyUsageService(store VersionStore, directory *KeyDirectory) *KeyUsageService {
	return &KeyUsageService{store: store, directory: directory}
}

// Snapshot counts stored versions by the status of their key in the current
// directory. The three buckets cover every stored row; PendingReencryption
// counts live rows that still need a copy under the active key.
func (u *KeyUsageService) Snapshot(ctx context.Context) (KeyUsage, error) {
	counts, err := u.store.CountByKey(ctx)
	if err != nil {
		return KeyUsage{}, fmt.Errorf("count versions by key: %w", err)
	}

	// One key set for every row so a concurrent reload cannot split the buckets.
	set := u.directory.load()
	var usage KeyUsage
	for _, c := range counts {
		switch set.classify(c.KeyID) {
		case KeyActive:
			usage.ActiveKey += c.Total
		case KeyInactive:
			usage.InactiveKeys += c.Total
			usage.PendingReencryption += c.Live
		default:
			usage.UnknownKeys += c.Total
			usage.PendingReencryption += c.Live
		}
	}
	return usage, nil
}

var errStopIteration = errors.New("stop iteration")

// VersionsNotUnderActiveKey lazily yields every live version encrypted under
// a key other than the active one. The active key is read once when iteration
// starts. Iteration stops at the first store error, which is yielded.
func (u *KeyUsageService) VersionsNotUnderActiveKey(ctx context.Context) iter.Seq2[*CredentialVersion, error] {
	return func(yield func(*CredentialVersion, error) bool) {
		filter := ScanFilter{ExcludeKeyID: u.directory.ActiveKeyID(), LiveOnly: true}
		err := u.store.Scan(ctx, filter, func(v *CredentialVersion) error {
			if !yield(v, nil) {
				return errStopIteration
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(nil, err)
		}
	}
}

// CheckRetirement refuses a key set that drops a key still referenced by
// stored versions. Such versions would become undecryptable.
func (u *KeyUsageService) CheckRetirement(ctx context.Context, entries []KeyEntry) error {
	counts, err := u.store.CountByKey(ctx)
	if err != nil {
		return fmt.Errorf("count versions by key: %w", err)
	}

	keep := make(map[uuid.UUID]bool, len(entries))
	for _, e := range entries {
		keep[e.Key.ID] = true
	}

	errs := errsx.Map{}
	var retiring []string
	for _, c := range counts {
		if !keep[c.KeyID] && u.directory.IsKnown(c.KeyID) {
			errs.Set(c.KeyID.String(), fmt.Errorf("key still encrypts %d stored versions", c.Total))
			retiring = append(retiring, c.KeyID.String())
		}
	}
	if !errs.IsEmpty() {
		return fmt.Errorf("%w: refusing to retire keys %s: %w", ErrInvalidConfiguration, strings.Join(retiring, ", "), errs.AsError())
	}
	return nil
}
