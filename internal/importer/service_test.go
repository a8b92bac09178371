package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rentalpulse/rentalpulse/internal/shared"
)

type memoryRepo struct {
	batches   map[string]Batch
	periods   map[string]PeriodRecord
	equipment map[string]EquipmentRecord
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:   make(map[string]Batch),
		periods:   make(map[string]PeriodRecord),
		equipment: make(map[string]EquipmentRecord),
	}
}

func periodKey(r PeriodRecord) string {
	return fmt.Sprintf("%s|%s|%s", r.SourceType, r.PeriodEnding.Format("2006-01-02"), r.LocationCode)
}

func (m *memoryRepo) CreateBatch(ctx context.Context, batch Batch) error {
	m.batches[batch.ID] = batch
	return nil
}

func (m *memoryRepo) FinishBatch(ctx context.Context, id string, status BatchStatus, counters Counters, lastError string, skips []RowSkip) error {
	batch, ok := m.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	batch.Status = status
	batch.Counters = counters
	batch.LastError = lastError
	batch.SkipDetails = skips
	now := time.Now().UTC()
	batch.CompletedAt = &now
	m.batches[id] = batch
	return nil
}

func (m *memoryRepo) GetBatch(ctx context.Context, id string) (Batch, error) {
	batch, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return batch, nil
}

func (m *memoryRepo) ListBatches(ctx context.Context, limit, offset int) ([]Batch, int, error) {
	out := make([]Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b)
	}
	return out, len(out), nil
}

func (m *memoryRepo) HasCompletedBatchForFile(ctx context.Context, sourceType SourceType, sourceFile string) (bool, error) {
	for _, b := range m.batches {
		if b.SourceType == sourceType && b.SourceFile == sourceFile && b.Status == BatchStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) UpsertPeriod(ctx context.Context, record PeriodRecord) (UpsertResult, error) {
	key := periodKey(record)
	existing, ok := m.periods[key]
	if !ok {
		m.periods[key] = record
		return UpsertInserted, nil
	}
	if existing.Metrics.Equal(record.Metrics) {
		return UpsertUnchanged, nil
	}
	m.periods[key] = record
	return UpsertUpdated, nil
}

func (m *memoryRepo) UpsertEquipment(ctx context.Context, record EquipmentRecord) (UpsertResult, error) {
	existing, ok := m.equipment[record.ItemNumber]
	if !ok {
		m.equipment[record.ItemNumber] = record
		return UpsertInserted, nil
	}
	existing.BatchID = record.BatchID
	if existing == record {
		return UpsertUnchanged, nil
	}
	m.equipment[record.ItemNumber] = record
	return UpsertUpdated, nil
}

func (m *memoryRepo) RollbackBatch(ctx context.Context, batchID string) (int64, int64, error) {
	batch, ok := m.batches[batchID]
	if !ok {
		return 0, 0, ErrBatchNotFound
	}
	if batch.Status == BatchStatusRunning || batch.Status == BatchStatusRolledBack {
		return 0, 0, ErrBatchNotRollbackable
	}
	var periods, equipment int64
	for key, record := range m.periods {
		if record.BatchID == batchID {
			delete(m.periods, key)
			periods++
		}
	}
	for key, record := range m.equipment {
		if record.BatchID == batchID {
			delete(m.equipment, key)
			equipment++
		}
	}
	batch.Status = BatchStatusRolledBack
	m.batches[batchID] = batch
	return periods, equipment, nil
}

func (m *memoryRepo) ListPeriods(ctx context.Context, filter PeriodFilter) ([]PeriodRecord, error) {
	out := make([]PeriodRecord, 0, len(m.periods))
	for _, record := range m.periods {
		out = append(out, record)
	}
	return out, nil
}

type fakeLocker struct {
	busy bool
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.busy {
		return nil, shared.ErrLockHeld
	}
	return func() {}, nil
}

type fakeAudit struct {
	logs []shared.AuditLog
}

func (a *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type fakeMetrics struct {
	rows   map[string]int
	failed int
}

func (m *fakeMetrics) ObserveImportRow(sourceType, outcome string) {
	if m.rows == nil {
		m.rows = make(map[string]int)
	}
	m.rows[outcome]++
}

func (m *fakeMetrics) ObserveBatchFailed() { m.failed++ }

func newTestService(t *testing.T, repo *memoryRepo, locker *fakeLocker) *Service {
	t.Helper()
	svc, err := NewService(repo, locker, &fakeAudit{}, &fakeMetrics{}, slog.New(slog.NewTextHandler(os.Stderr, nil)), ServiceConfig{
		LocationCodes: []string{"3607", "6800", "728", "8101"},
		AggregateCode: "000",
		WeekEndingDay: time.Sunday,
	})
	require.NoError(t, err)
	return svc
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const scorecardAggregateOnly = `Week ending Sunday,Total Weekly Revenue,3607 Revenue,6800 Revenue
1/16/22,"$12,000",,
`

const scorecardPerLocation = `Week ending Sunday,Total Weekly Revenue,3607 Revenue,6800 Revenue
1/23/22,"$15,000","$9,000","$6,000"
`

func TestImportScorecardAggregateEra(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	path := writeFile(t, "scorecard.csv", scorecardAggregateOnly)
	batch, err := svc.ImportFile(context.Background(), "scorecard", path)
	require.NoError(t, err)
	require.Equal(t, BatchStatusCompleted, batch.Status)
	require.Equal(t, 1, batch.Counters.Processed)
	require.Equal(t, 1, batch.Counters.Inserted, "aggregate-only week yields exactly one row")
	require.Len(t, repo.periods, 1)

	record := repo.periods["scorecard|2022-01-16|000"]
	require.InDelta(t, 12000, record.Metrics.Revenue, 1e-9)
}

func TestImportScorecardPerLocation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	path := writeFile(t, "scorecard.csv", scorecardPerLocation)
	batch, err := svc.ImportFile(context.Background(), "scorecard", path)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Counters.Inserted, "aggregate row plus two location rows")
	require.Len(t, repo.periods, 3)
	require.InDelta(t, 9000, repo.periods["scorecard|2022-01-23|3607"].Metrics.Revenue, 1e-9)
	require.InDelta(t, 6000, repo.periods["scorecard|2022-01-23|6800"].Metrics.Revenue, 1e-9)
}

func TestReimportIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	path := writeFile(t, "scorecard.csv", scorecardPerLocation)
	_, err := svc.ImportFile(context.Background(), "scorecard", path)
	require.NoError(t, err)

	batch, err := svc.ImportFile(context.Background(), "scorecard", path)
	require.NoError(t, err)
	require.Zero(t, batch.Counters.Inserted)
	require.Zero(t, batch.Counters.Updated, "identical re-import must leave rows unchanged")
	require.Len(t, repo.periods, 3)
}

func TestReimportEditedWeekUpdatesInPlace(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	_, err := svc.ImportFile(context.Background(), "scorecard",
		writeFile(t, "v1.csv", scorecardPerLocation))
	require.NoError(t, err)

	edited := `Week ending Sunday,Total Weekly Revenue,3607 Revenue,6800 Revenue
1/23/22,"$15,000","$9,000","$6,500"
`
	batch, err := svc.ImportFile(context.Background(), "scorecard",
		writeFile(t, "v2.csv", edited))
	require.NoError(t, err)
	require.Zero(t, batch.Counters.Inserted)
	require.Equal(t, 1, batch.Counters.Updated, "only the edited location row changes")
	require.Len(t, repo.periods, 3)
	require.InDelta(t, 6500, repo.periods["scorecard|2022-01-23|6800"].Metrics.Revenue, 1e-9)
}

func TestImportRefusedWhileLockHeld(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{busy: true})

	path := writeFile(t, "scorecard.csv", scorecardPerLocation)
	_, err := svc.ImportFile(context.Background(), "scorecard", path)
	require.ErrorIs(t, err, ErrImportRunning)
	require.Empty(t, repo.batches, "no batch opens while another import runs")
}

func TestImportUnknownSourceType(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), &fakeLocker{})
	_, err := svc.ImportFile(context.Background(), "mystery", "somewhere.csv")
	require.ErrorIs(t, err, ErrUnknownSourceType)
}

func TestImportMissingDateColumnFailsBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	path := writeFile(t, "broken.csv", "Total Weekly Revenue\n$500\n")
	batch, err := svc.ImportFile(context.Background(), "scorecard", path)
	require.Error(t, err)
	require.Equal(t, BatchStatusFailed, batch.Status)

	stored, err := svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, BatchStatusFailed, stored.Status)
	require.NotEmpty(t, stored.LastError)
}

func TestImportSkipsUnparseableRows(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	content := `Week ending Sunday,Total Weekly Revenue
1/16/22,"$12,000"
garbage,"$500"
1/30/22,-
`
	batch, err := svc.ImportFile(context.Background(), "scorecard",
		writeFile(t, "scorecard.csv", content))
	require.NoError(t, err)
	require.Equal(t, 3, batch.Counters.Processed)
	require.Equal(t, 1, batch.Counters.Inserted)
	require.Equal(t, 2, batch.Counters.Skipped)
	require.Len(t, batch.SkipDetails, 2, "every skipped row carries a reason")
}

func TestImportEquipmentCatalog(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	content := `ItemNum,Name,Category,Qty,Sell Price,Inactive
64212,SCISSOR LIFT 19FT,AERIAL,4,"$18,500",false
,orphan,AERIAL,1,,false
`
	batch, err := svc.ImportFile(context.Background(), "equipment",
		writeFile(t, "equip.csv", content))
	require.NoError(t, err)
	require.Equal(t, 1, batch.Counters.Inserted)
	require.Equal(t, 1, batch.Counters.Skipped)
	require.Contains(t, repo.equipment, "64212")
}

func TestRollbackRemovesBatchRows(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, &fakeLocker{})

	batch, err := svc.ImportFile(context.Background(), "scorecard",
		writeFile(t, "scorecard.csv", scorecardPerLocation))
	require.NoError(t, err)

	periods, equipment, err := svc.Rollback(context.Background(), batch.ID, "ops@rentalpulse")
	require.NoError(t, err)
	require.EqualValues(t, 3, periods)
	require.Zero(t, equipment)
	require.Empty(t, repo.periods)

	_, _, err = svc.Rollback(context.Background(), batch.ID, "ops@rentalpulse")
	require.ErrorIs(t, err, ErrBatchNotRollbackable)
}
