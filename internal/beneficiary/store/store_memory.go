package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"relief/internal/beneficiary/models"
)

type memTxKey struct{}

// InMemoryStore keeps records in a map. RunInTx serialises units of work and
// restores a snapshot when the callback fails. Writers outside a unit of work
// wait on the same lock so a rollback never discards them.
type InMemoryStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	records      map[int64]*models.Beneficiary
	nextID       int64
	nextMemberID int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[int64]*models.Beneficiary)}
}

// RunInTx gives fn all-or-nothing semantics against this store.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[int64]*models.Beneficiary, len(s.records))
	for id, b := range s.records {
		snapshot[id] = clone(b)
	}
	nextID, nextMemberID := s.nextID, s.nextMemberID
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.records, s.nextID, s.nextMemberID = snapshot, nextID, nextMemberID
		s.mu.Unlock()
		return err
	}
	return nil
}

// lockWrite takes the write lock, joining txMu unless ctx is already inside
// RunInTx.
func (s *InMemoryStore) lockWrite(ctx context.Context) (unlock func()) {
	if ctx.Value(memTxKey{}) != nil {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func clone(b *models.Beneficiary) *models.Beneficiary {
	c := *b
	c.Sectors = slices.Clone(b.Sectors)
	c.Siblings = slices.Clone(b.Siblings)
	c.Children = slices.Clone(b.Children)
	c.Relatives = slices.Clone(b.Relatives)
	return &c
}

func (s *InMemoryStore) Create(ctx context.Context, b *models.Beneficiary) error {
	defer s.lockWrite(ctx)()

	if b.OfflineID != "" {
		for _, existing := range s.records {
			if existing.OfflineID == b.OfflineID {
				return ErrOfflineIDTaken
			}
		}
	}

	s.nextID++
	b.ID = s.nextID
	for i := range b.Siblings {
		s.nextMemberID++
		b.Siblings[i].ID = s.nextMemberID
	}
	for i := range b.Children {
		s.nextMemberID++
		b.Children[i].ID = s.nextMemberID
	}
	for i := range b.Relatives {
		s.nextMemberID++
		b.Relatives[i].ID = s.nextMemberID
	}
	if b.Sectors == nil {
		b.Sectors = []string{}
	}
	s.records[b.ID] = clone(b)
	return nil
}

func (s *InMemoryStore) ExistsByIdentity(_ context.Context, id models.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.records {
		if b.Identity() == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ExistsByOfflineID(_ context.Context, offlineID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.records {
		if b.OfflineID != "" && b.OfflineID == offlineID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id int64) (*models.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func (s *InMemoryStore) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchesSearch(b *models.Beneficiary, search string) bool {
	return search == "" ||
		containsFold(b.LastName, search) ||
		containsFold(b.FirstName, search) ||
		containsFold(b.MiddleName, search)
}

// sorted returns clones of the records accepted by keep, ordered by cmpFn.
func (s *InMemoryStore) sorted(keep func(*models.Beneficiary) bool, cmpFn func(a, b *models.Beneficiary) int) []*models.Beneficiary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Beneficiary
	for _, b := range s.records {
		if keep(b) {
			out = append(out, clone(b))
		}
	}
	slices.SortFunc(out, cmpFn)
	return out
}

func newestFirst(a, b *models.Beneficiary) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func oldestFirst(a, b *models.Beneficiary) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *InMemoryStore) List(_ context.Context, search string, page, perPage int) ([]models.Summary, int, error) {
	all := s.sorted(func(b *models.Beneficiary) bool { return matchesSearch(b, search) }, newestFirst)
	out := []models.Summary{}
	start := (models.ClampPage(page) - 1) * perPage
	for i := start; i < len(all) && i < start+perPage; i++ {
		b := all[i]
		out = append(out, models.Summary{
			ID: b.ID, FirstName: b.FirstName, LastName: b.LastName, MiddleName: b.MiddleName,
			Municipality: b.Municipality, Barangay: b.Barangay, CivilStatus: b.CivilStatus, CreatedAt: b.CreatedAt,
		})
	}
	return out, len(all), nil
}

func (s *InMemoryStore) SetMarkedAsDuplicate(ctx context.Context, id int64, marked bool) error {
	defer s.lockWrite(ctx)()
	b, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	b.MarkedAsDuplicate = marked
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id int64) error {
	defer s.lockWrite(ctx)()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) DuplicateIdentities(_ context.Context, search string) ([]models.Identity, error) {
	s.mu.RLock()
	counts := make(map[models.Identity]int)
	for _, b := range s.records {
		if matchesSearch(b, search) {
			counts[b.Identity()]++
		}
	}
	s.mu.RUnlock()

	var out []models.Identity
	for id, n := range counts {
		if n > 1 {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, models.CompareIdentity)
	return out, nil
}

func (s *InMemoryStore) FindByIdentities(_ context.Context, ids []models.Identity) ([]*models.Beneficiary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[models.Identity]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	return s.sorted(func(b *models.Beneficiary) bool {
		_, ok := wanted[b.Identity()]
		return ok
	}, oldestFirst), nil
}

func (s *InMemoryStore) FindByMunicipality(_ context.Context, municipality string) ([]*models.Beneficiary, error) {
	return s.sorted(
		func(b *models.Beneficiary) bool { return b.Municipality == municipality },
		func(a, b *models.Beneficiary) int { return cmp.Compare(a.ID, b.ID) },
	), nil
}

func (s *InMemoryStore) Export(_ context.Context, f models.ExportFilter) ([]*models.Beneficiary, error) {
	return s.sorted(func(b *models.Beneficiary) bool {
		if !matchesSearch(b, f.Search) {
			return false
		}
		if f.Municipality != "" && b.Municipality != f.Municipality {
			return false
		}
		return !(f.ExcludeMarked && b.MarkedAsDuplicate)
	}, newestFirst), nil
}

func (s *InMemoryStore) ReassignMembers(ctx context.Context, from []int64, to int64) (models.MemberCounts, error) {
	defer s.lockWrite(ctx)()

	keep, ok := s.records[to]
	if !ok {
		return models.MemberCounts{}, ErrNotFound
	}
	var counts models.MemberCounts
	for _, id := range from {
		src, ok := s.records[id]
		if !ok || id == to {
			continue
		}
		counts = counts.Add(src.Counts())
		keep.Siblings = append(keep.Siblings, src.Siblings...)
		keep.Children = append(keep.Children, src.Children...)
		keep.Relatives = append(keep.Relatives, src.Relatives...)
		src.Siblings, src.Children, src.Relatives = nil, nil, nil
	}
	return counts, nil
}

func (s *InMemoryStore) DeleteByIDs(ctx context.Context, ids []int64) ([]int64, error) {
	defer s.lockWrite(ctx)()
	deleted := []int64{}
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted = append(deleted, id)
		}
	}
	slices.Sort(deleted)
	return deleted, nil
}
