package merge

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"relief/internal/beneficiary/models"
	"relief/internal/beneficiary/store"
	"relief/internal/dedup/metrics"
	dErrors "relief/pkg/domain-errors"
	audit "relief/pkg/platform/audit"
	"relief/pkg/platform/audit/publisher"
	auditmemory "relief/pkg/platform/audit/store/memory"
)

// flakyStore fails DeleteByIDs whenever the batch contains failOn.
type flakyStore struct {
	*store.InMemoryStore
	failOn int64
}

func (f *flakyStore) DeleteByIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if slices.Contains(ids, f.failOn) {
		return nil, errors.New("deadlock detected")
	}
	return f.InMemoryStore.DeleteByIDs(ctx, ids)
}

type MergeSuite struct {
	suite.Suite
	ctx     context.Context
	store   *flakyStore
	audit   *auditmemory.InMemoryStore
	metrics *metrics.Metrics
	engine  *Engine
}

func TestMergeSuite(t *testing.T) {
	suite.Run(t, new(MergeSuite))
}

func (s *MergeSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &flakyStore{InMemoryStore: store.NewInMemory()}
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.engine = New(s.store, s.store.InMemoryStore,
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
	)
}

func person(first string) models.Person {
	return models.Person{LastName: "Santos", FirstName: first}
}

func (s *MergeSuite) create(first string, offset time.Duration, siblings, children, relatives int) *models.Beneficiary {
	b := &models.Beneficiary{
		FirstName: first,
		LastName:  "Santos",
		BirthDate: models.NewDate(1990, time.January, 1),
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
	}
	for i := 0; i < siblings; i++ {
		b.Siblings = append(b.Siblings, person("Sib"))
	}
	for i := 0; i < children; i++ {
		b.Children = append(b.Children, person("Kid"))
	}
	for i := 0; i < relatives; i++ {
		b.Relatives = append(b.Relatives, models.Relative{Person: person("Rel"), Relationship: "Cousin"})
	}
	s.Require().NoError(s.store.Create(s.ctx, b))
	return b
}

func (s *MergeSuite) counts(id int64) models.MemberCounts {
	b, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	return b.Counts()
}

func (s *MergeSuite) TestRejectsKeepInRemoveList() {
	_, err := s.engine.Merge(s.ctx, 4, []int64{3, 4})
	var ve *dErrors.ValidationError
	s.Require().ErrorAs(err, &ve)
	s.Equal([]string{KeepInRemoveMessage}, ve.Fields.Get("keep_id"))
}

func (s *MergeSuite) TestRequiresKeepAndRemove() {
	_, err := s.engine.Merge(s.ctx, 0, nil)
	var ve *dErrors.ValidationError
	s.Require().ErrorAs(err, &ve)
	s.Equal([]string{"keep_id", "remove_ids"}, ve.Fields.Fields())
}

func (s *MergeSuite) TestMergeSumsRelationCounts() {
	keep := s.create("Arvin", 0, 1, 1, 0)
	dupA := s.create("Arvin", time.Minute, 2, 0, 1)
	dupB := s.create("Arvin", 2*time.Minute, 0, 3, 1)
	want := keep.Counts().Add(dupA.Counts()).Add(dupB.Counts())

	res, err := s.engine.Merge(s.ctx, keep.ID, []int64{dupA.ID, dupB.ID, dupA.ID})
	s.Require().NoError(err)
	s.Equal([]int64{dupA.ID, dupB.ID}, res.Removed)
	s.Equal(models.MemberCounts{Siblings: 2, Children: 3, Relatives: 2}, res.Reassigned)
	s.Equal(want, s.counts(keep.ID))

	_, err = s.store.FindByID(s.ctx, dupA.ID)
	s.ErrorIs(err, store.ErrNotFound)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.RecordsRemoved))

	events := s.audit.ListBySubject(models.Subject(keep.ID))
	s.Require().Len(events, 1)
	s.Equal(audit.ActionRecordsMerged, events[0].Action)
}

func (s *MergeSuite) TestAlreadyRemovedIDsAreIgnored() {
	keep := s.create("Arvin", 0, 0, 1, 0)
	dup := s.create("Arvin", time.Minute, 0, 1, 0)

	_, err := s.engine.Merge(s.ctx, keep.ID, []int64{dup.ID})
	s.Require().NoError(err)

	res, err := s.engine.Merge(s.ctx, keep.ID, []int64{dup.ID})
	s.Require().NoError(err)
	s.Empty(res.Removed)
	s.Equal(2, s.counts(keep.ID).Children)
}

func (s *MergeSuite) TestMissingKeepIsNotFound() {
	dup := s.create("Arvin", 0, 1, 0, 0)
	_, err := s.engine.Merge(s.ctx, 999, []int64{dup.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(1, s.counts(dup.ID).Siblings)
}

func (s *MergeSuite) TestFailureRollsBackReassignment() {
	keep := s.create("Arvin", 0, 0, 0, 0)
	dup := s.create("Arvin", time.Minute, 2, 1, 0)
	s.store.failOn = dup.ID

	_, err := s.engine.Merge(s.ctx, keep.ID, []int64{dup.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.Equal(models.MemberCounts{}, s.counts(keep.ID))
	s.Equal(models.MemberCounts{Siblings: 2, Children: 1}, s.counts(dup.ID))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Merges.WithLabelValues("failed")))
}

func (s *MergeSuite) TestMergeAllKeepsEarliestAndIsolatesFailures() {
	late := s.create("Arvin", time.Hour, 1, 0, 0)
	early := s.create("Arvin", 0, 0, 1, 0)

	bad := &models.Beneficiary{FirstName: "Maria", LastName: "Cruz", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Create(s.ctx, bad))
	badDup := &models.Beneficiary{FirstName: "Maria", LastName: "Cruz", CreatedAt: time.Now().Add(time.Minute)}
	s.Require().NoError(s.store.Create(s.ctx, badDup))
	s.store.failOn = badDup.ID

	res, err := s.engine.MergeAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Groups)
	s.Require().Len(res.Failures, 1)
	s.Equal("Cruz, Maria - ", res.Failures[0].Key)
	s.Require().Len(res.Merged, 1)
	s.Equal(early.ID, res.Merged[0].KeepID)
	s.Equal([]int64{late.ID}, res.Merged[0].Removed)
	s.Equal(models.MemberCounts{Siblings: 1, Children: 1}, s.counts(early.ID))

	ok, err := s.store.Exists(s.ctx, badDup.ID)
	s.Require().NoError(err)
	s.True(ok, "failed group is left untouched")

	var bulk []audit.Event
	for _, e := range s.audit.ListAll() {
		if e.Action == audit.ActionBulkMergeCompleted {
			bulk = append(bulk, e)
		}
	}
	s.Len(bulk, 1)
}
