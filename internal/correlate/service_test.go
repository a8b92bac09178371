package correlate

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rentalpulse/rentalpulse/internal/shared"
)

type fakeRepo struct {
	equipment []EquipmentRef
	classes   []ClassRef
	mappings  map[string][]Mapping

	applied *RunChanges
	manual  []Mapping
}

func (f *fakeRepo) LoadEquipmentRefs(ctx context.Context) ([]EquipmentRef, error) {
	return f.equipment, nil
}

func (f *fakeRepo) LoadClassRefs(ctx context.Context) ([]ClassRef, error) {
	return f.classes, nil
}

func (f *fakeRepo) LoadAllMappings(ctx context.Context) (map[string][]Mapping, error) {
	if f.mappings == nil {
		return map[string][]Mapping{}, nil
	}
	return f.mappings, nil
}

func (f *fakeRepo) ApplyRun(ctx context.Context, changes RunChanges) error {
	f.applied = &changes
	return nil
}

func (f *fakeRepo) ActiveForItem(ctx context.Context, itemNumber string) (ItemStatus, error) {
	return ItemStatus{ItemNumber: itemNumber}, nil
}

func (f *fakeRepo) MappingsForClass(ctx context.Context, rentalClass string) ([]Mapping, error) {
	return nil, nil
}

func (f *fakeRepo) ListAmbiguous(ctx context.Context, limit int) ([]ItemStatus, error) {
	return nil, nil
}

func (f *fakeRepo) CreateManual(ctx context.Context, itemNumber, rentalClass string) (Mapping, error) {
	m := Mapping{ItemNumber: itemNumber, RentalClass: rentalClass, Method: MethodManual, Confidence: 1.0, Verified: true}
	f.manual = append(f.manual, m)
	return m, nil
}

func (f *fakeRepo) Verify(ctx context.Context, id int64) (Mapping, error) {
	return Mapping{ID: id, ItemNumber: "64212", RentalClass: "64212", Verified: true}, nil
}

type openLocker struct {
	busy bool
}

func (l *openLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.busy {
		return nil, shared.ErrLockHeld
	}
	return func() {}, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type countingMetrics struct {
	methods map[string]int
}

func (m *countingMetrics) ObserveMapping(method string) {
	if m.methods == nil {
		m.methods = make(map[string]int)
	}
	m.methods[method]++
}

func newCorrelateService(repo *fakeRepo, locker *openLocker) (*Service, *recordingAudit, *countingMetrics) {
	audit := &recordingAudit{}
	metrics := &countingMetrics{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := NewService(repo, locker, audit, metrics, logger, ServiceConfig{})
	return svc, audit, metrics
}

func TestRunCreatesMappings(t *testing.T) {
	repo := &fakeRepo{
		equipment: []EquipmentRef{{ItemNumber: "64212", Name: "SCISSOR LIFT 19FT"}},
		classes:   []ClassRef{{RentalClass: "64212", CommonName: "19 FT SCISSOR LIFT"}},
	}
	svc, _, metrics := newCorrelateService(repo, &openLocker{})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.ItemsExamined)
	require.Equal(t, 1, summary.MappingsCreated)
	require.Zero(t, summary.Ambiguous)

	require.NotNil(t, repo.applied)
	require.Len(t, repo.applied.Upserts, 1)
	require.Equal(t, MethodExact, repo.applied.Upserts[0].Method)
	require.False(t, repo.applied.Upserts[0].Superseded)
	require.Equal(t, 1, metrics.methods[string(MethodExact)])
}

func TestRunSkipsVerifiedItems(t *testing.T) {
	repo := &fakeRepo{
		equipment: []EquipmentRef{{ItemNumber: "64212", Name: "SCISSOR LIFT 19FT"}},
		classes:   []ClassRef{{RentalClass: "99901", CommonName: "SCISSOR LIFT 19FT"}},
		mappings: map[string][]Mapping{
			"64212": {{ID: 1, ItemNumber: "64212", RentalClass: "64212", Method: MethodManual, Confidence: 1.0, Verified: true}},
		},
	}
	svc, _, _ := newCorrelateService(repo, &openLocker{})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.SkippedVerified)
	require.Empty(t, repo.applied.Upserts, "verified items are untouchable by automatic runs")
	require.Empty(t, repo.applied.SupersedeIDs)
}

func TestRunNeverDowngradesActiveMapping(t *testing.T) {
	// The item previously matched exactly; the class was since renumbered so
	// only a weaker similarity candidate remains.
	repo := &fakeRepo{
		equipment: []EquipmentRef{{ItemNumber: "64212", Name: "SCISSOR LIFT 19FT"}},
		classes:   []ClassRef{{RentalClass: "SL19", CommonName: "SCISSOR LIFT 19FT ELEC"}},
		mappings: map[string][]Mapping{
			"64212": {{ID: 7, ItemNumber: "64212", RentalClass: "64212", Method: MethodExact, Confidence: 1.0}},
		},
	}
	svc, _, _ := newCorrelateService(repo, &openLocker{})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, repo.applied.SupersedeIDs, "weaker candidates never displace a stronger mapping")
	require.Zero(t, summary.Superseded)
	for _, up := range repo.applied.Upserts {
		require.True(t, up.Superseded, "weaker candidates are only kept as history")
	}
}

func TestRunStrictlyHigherConfidenceSupersedes(t *testing.T) {
	repo := &fakeRepo{
		equipment: []EquipmentRef{{ItemNumber: "64212", Name: "SCISSOR LIFT 19FT"}},
		classes:   []ClassRef{{RentalClass: "64212", CommonName: "19 FT SCISSOR LIFT"}},
		mappings: map[string][]Mapping{
			"64212": {{ID: 3, ItemNumber: "64212", RentalClass: "SL19", Method: MethodNameSimilarity, Confidence: 0.75}},
		},
	}
	svc, _, _ := newCorrelateService(repo, &openLocker{})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{3}, repo.applied.SupersedeIDs)
	require.Equal(t, 1, summary.Superseded)
	require.Len(t, repo.applied.Upserts, 1)
	require.Equal(t, "64212", repo.applied.Upserts[0].RentalClass)
	require.False(t, repo.applied.Upserts[0].Superseded)
}

func TestRunPersistsAmbiguousCandidates(t *testing.T) {
	repo := &fakeRepo{
		equipment: []EquipmentRef{{ItemNumber: "A-200", Name: "SCISSOR LIFT"}},
		classes: []ClassRef{
			{RentalClass: "SL19", CommonName: "SCISSOR LIFT"},
			{RentalClass: "SL26", CommonName: "SCISSOR LIFT"},
		},
	}
	svc, _, _ := newCorrelateService(repo, &openLocker{})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Ambiguous)
	require.Len(t, repo.applied.Upserts, 2)
	for _, up := range repo.applied.Upserts {
		require.False(t, up.Superseded, "tied candidates stay visible for manual resolution")
	}
}

func TestRunAmbiguousActivatesOnlyTieSet(t *testing.T) {
	// Two classes tie at 1.0; a third scores above the similarity threshold
	// but outside the tie margin and must land as superseded history.
	repo := &fakeRepo{
		equipment: []EquipmentRef{{ItemNumber: "A-200", Name: "SCISSOR LIFT"}},
		classes: []ClassRef{
			{RentalClass: "SL19", CommonName: "SCISSOR LIFT"},
			{RentalClass: "SL26", CommonName: "SCISSOR LIFT"},
			{RentalClass: "SL33", CommonName: "SCISSOR LIFTS"},
		},
	}
	svc, _, _ := newCorrelateService(repo, &openLocker{})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Ambiguous)
	require.Equal(t, 2, summary.MappingsCreated)
	require.Len(t, repo.applied.Upserts, 3)

	byClass := make(map[string]Mapping)
	for _, up := range repo.applied.Upserts {
		byClass[up.RentalClass] = up
	}
	require.False(t, byClass["SL19"].Superseded)
	require.False(t, byClass["SL26"].Superseded)
	require.True(t, byClass["SL33"].Superseded, "candidates outside the tie margin are history, not choices")
}

func TestRunRefusedWhileLockHeld(t *testing.T) {
	svc, _, _ := newCorrelateService(&fakeRepo{}, &openLocker{busy: true})
	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, ErrCorrelationRunning)
}

// rowStoreRepo keeps mappings in memory and enforces the single-verified
// rule the way the SQL repository does.
type rowStoreRepo struct {
	fakeRepo
	rows []Mapping
}

func (r *rowStoreRepo) CreateManual(ctx context.Context, itemNumber, rentalClass string) (Mapping, error) {
	for _, row := range r.rows {
		if row.ItemNumber == itemNumber && row.Verified && row.RentalClass != rentalClass {
			return Mapping{}, ErrVerifiedConflict
		}
	}
	for i := range r.rows {
		if r.rows[i].ItemNumber == itemNumber && r.rows[i].RentalClass != rentalClass {
			r.rows[i].Superseded = true
		}
	}
	m := Mapping{ID: int64(len(r.rows) + 1), ItemNumber: itemNumber, RentalClass: rentalClass, Method: MethodManual, Confidence: 1.0, Verified: true}
	r.rows = append(r.rows, m)
	return m, nil
}

func (r *rowStoreRepo) Verify(ctx context.Context, id int64) (Mapping, error) {
	idx := -1
	for i := range r.rows {
		if r.rows[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return Mapping{}, ErrMappingNotFound
	}
	target := &r.rows[idx]
	for _, row := range r.rows {
		if row.ItemNumber == target.ItemNumber && row.Verified && row.ID != id {
			return Mapping{}, ErrVerifiedConflict
		}
	}
	target.Verified = true
	target.Superseded = false
	for i := range r.rows {
		if r.rows[i].ItemNumber == target.ItemNumber && r.rows[i].ID != id {
			r.rows[i].Superseded = true
		}
	}
	return *target, nil
}

func newRowStoreService(repo *rowStoreRepo) (*Service, *recordingAudit, *countingMetrics) {
	audit := &recordingAudit{}
	metrics := &countingMetrics{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := NewService(repo, &openLocker{}, audit, metrics, logger, ServiceConfig{})
	return svc, audit, metrics
}

func TestVerifyMappingSupersedesSiblings(t *testing.T) {
	repo := &rowStoreRepo{rows: []Mapping{
		{ID: 1, ItemNumber: "A-200", RentalClass: "SL19", Method: MethodNameSimilarity, Confidence: 0.9},
		{ID: 2, ItemNumber: "A-200", RentalClass: "SL26", Method: MethodNameSimilarity, Confidence: 0.88},
	}}
	svc, audit, _ := newRowStoreService(repo)

	mapping, err := svc.VerifyMapping(context.Background(), 1, "ops@rentalpulse")
	require.NoError(t, err)
	require.True(t, mapping.Verified)
	require.False(t, mapping.Superseded)
	require.True(t, repo.rows[1].Superseded, "the losing candidate is superseded when one is confirmed")
	require.Len(t, audit.logs, 1)
	require.Equal(t, "correlation.verify", audit.logs[0].Action)
}

func TestVerifyMappingSecondVerifiedRejected(t *testing.T) {
	repo := &rowStoreRepo{rows: []Mapping{
		{ID: 1, ItemNumber: "A-200", RentalClass: "SL19", Method: MethodManual, Confidence: 1.0, Verified: true},
		{ID: 2, ItemNumber: "A-200", RentalClass: "SL26", Method: MethodNameSimilarity, Confidence: 0.88, Superseded: true},
	}}
	svc, audit, _ := newRowStoreService(repo)

	_, err := svc.VerifyMapping(context.Background(), 2, "ops@rentalpulse")
	require.ErrorIs(t, err, ErrVerifiedConflict)
	require.False(t, repo.rows[1].Verified, "the rejected candidate stays unverified")
	require.Empty(t, audit.logs, "a refused verification leaves no audit trail")
}

func TestVerifyMappingUnknownID(t *testing.T) {
	svc, _, _ := newRowStoreService(&rowStoreRepo{})
	_, err := svc.VerifyMapping(context.Background(), 99, "ops@rentalpulse")
	require.ErrorIs(t, err, ErrMappingNotFound)
}

func TestMapManuallyRejectsConflictingVerified(t *testing.T) {
	repo := &rowStoreRepo{rows: []Mapping{
		{ID: 1, ItemNumber: "A-200", RentalClass: "SL19", Method: MethodManual, Confidence: 1.0, Verified: true},
	}}
	svc, audit, metrics := newRowStoreService(repo)

	_, err := svc.MapManually(context.Background(), "A-200", "SL26", "ops@rentalpulse")
	require.ErrorIs(t, err, ErrVerifiedConflict)
	require.Empty(t, audit.logs)
	require.Zero(t, metrics.methods[string(MethodManual)])
}

func TestMapManuallyRecordsAudit(t *testing.T) {
	repo := &fakeRepo{}
	svc, audit, metrics := newCorrelateService(repo, &openLocker{})

	mapping, err := svc.MapManually(context.Background(), "64212", "SL19", "ops@rentalpulse")
	require.NoError(t, err)
	require.True(t, mapping.Verified)
	require.Equal(t, MethodManual, mapping.Method)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "correlation.map_manual", audit.logs[0].Action)
	require.Equal(t, 1, metrics.methods[string(MethodManual)])
}
