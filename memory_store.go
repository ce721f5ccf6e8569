package credhub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryVersionStore is a VersionStore backed by an append-only arena of
// records. It is meant for tests and development; data does not survive the
// process.
type InMemoryVersionStore struct {
	mu      sync.RWMutex
	records []*CredentialVersion
	byID    map[uuid.UUID]int
	// superseded holds ids of versions that have a re-encrypted copy
	superseded map[uuid.UUID]bool
	seq        int64
}

func NewInMemoryVersionStore() *InMemoryVersionStore {
	return &InMemoryVersionStore{
		byID:       make(map[uuid.UUID]int),
		superseded: make(map[uuid.UUID]bool),
	}
}

func (s *InMemoryVersionStore) Insert(ctx context.Context, v *CredentialVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[v.ID]; exists {
		return fmt.Errorf("%w: version %s already exists", ErrInvalidValue, v.ID)
	}
	s.seq++
	v.Sequence = s.seq
	if v.Ordinal == 0 {
		v.Ordinal = s.seq
	}

	s.byID[v.ID] = len(s.records)
	s.records = append(s.records, v.Clone())
	if v.SourceID != uuid.Nil {
		s.superseded[v.SourceID] = true
	}
	return nil
}

func (s *InMemoryVersionStore) FindByID(ctx context.Context, id uuid.UUID) (*CredentialVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok || s.records[i] == nil {
		return nil, ErrNotFound
	}
	return s.records[i].Clone(), nil
}

func (s *InMemoryVersionStore) FindByName(ctx context.Context, name string) ([]*CredentialVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folded := FoldName(name)
	var out []*CredentialVersion
	for _, r := range s.records {
		if r == nil || s.superseded[r.ID] || FoldName(r.Name) != folded {
			continue
		}
		out = append(out, r.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryVersionStore) SearchNames(ctx context.Context, q NameQuery) ([]NameSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	newest := make(map[string]*CredentialVersion)
	for _, r := range s.records {
		if r == nil {
			continue
		}
		folded := FoldName(r.Name)
		if !matchesQuery(folded, q) {
			continue
		}
		if cur, ok := newest[folded]; !ok || newerThan(r, cur) {
			newest[folded] = r
		}
	}

	picked := make([]*CredentialVersion, 0, len(newest))
	for _, r := range newest {
		picked = append(picked, r)
	}
	sortNewestFirst(picked)

	out := make([]NameSummary, 0, len(picked))
	for _, r := range picked {
		out = append(out, NameSummary{Name: r.Name, VersionCreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *InMemoryVersionStore) Scan(ctx context.Context, filter ScanFilter, fn func(*CredentialVersion) error) error {
	// Snapshot first so fn may insert without deadlocking.
	s.mu.RLock()
	var batch []*CredentialVersion
	for _, r := range s.records {
		if r == nil {
			continue
		}
		if filter.ExcludeKeyID != uuid.Nil && r.KeyID == filter.ExcludeKeyID {
			continue
		}
		if filter.LiveOnly && s.superseded[r.ID] {
			continue
		}
		batch = append(batch, r.Clone())
	}
	s.mu.RUnlock()

	for _, v := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryVersionStore) CountByKey(ctx context.Context) ([]KeyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[uuid.UUID]*KeyCount)
	var order []uuid.UUID
	for _, r := range s.records {
		if r == nil {
			continue
		}
		c, ok := counts[r.KeyID]
		if !ok {
			c = &KeyCount{KeyID: r.KeyID}
			counts[r.KeyID] = c
			order = append(order, r.KeyID)
		}
		c.Total++
		if !s.superseded[r.ID] {
			c.Live++
		}
	}

	out := make([]KeyCount, 0, len(order))
	for _, id := range order {
		out = append(out, *counts[id])
	}
	return out, nil
}

func (s *InMemoryVersionStore) DeleteByName(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folded := FoldName(name)
	var removed int64
	for i, r := range s.records {
		if r == nil || FoldName(r.Name) != folded {
			continue
		}
		delete(s.byID, r.ID)
		delete(s.superseded, r.ID)
		s.records[i] = nil
		removed++
	}
	return removed, nil
}

// newerThan orders versions by creation time, then by ordinal. A copy and
// its source share both, so the copy sorts first.
func newerThan(a, b *CredentialVersion) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.Ordinal != b.Ordinal {
		return a.Ordinal > b.Ordinal
	}
	return a.Sequence > b.Sequence
}

func sortNewestFirst(vs []*CredentialVersion) {
	sort.SliceStable(vs, func(i, j int) bool { return newerThan(vs[i], vs[j]) })
}
