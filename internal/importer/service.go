package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rentalpulse/rentalpulse/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	CreateBatch(ctx context.Context, batch Batch) error
	FinishBatch(ctx context.Context, id string, status BatchStatus, counters Counters, lastError string, skips []RowSkip) error
	GetBatch(ctx context.Context, id string) (Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]Batch, int, error)
	HasCompletedBatchForFile(ctx context.Context, sourceType SourceType, sourceFile string) (bool, error)
	UpsertPeriod(ctx context.Context, record PeriodRecord) (UpsertResult, error)
	UpsertEquipment(ctx context.Context, record EquipmentRecord) (UpsertResult, error)
	RollbackBatch(ctx context.Context, batchID string) (int64, int64, error)
	ListPeriods(ctx context.Context, filter PeriodFilter) ([]PeriodRecord, error)
}

// LockPort serializes imports of one source type.
type LockPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort exposes the import counters the service feeds.
type MetricsPort interface {
	ObserveImportRow(sourceType, outcome string)
	ObserveBatchFailed()
}

// ServiceConfig groups import tuning.
type ServiceConfig struct {
	LocationCodes   []string
	AggregateCode   string
	WeekEndingDay   time.Weekday
	Encoding        string
	LockTTL         time.Duration
	MaxRetries      int
	SkipDetailLimit int
}

// Service runs the import pipeline: classify columns, normalize rows,
// persist with idempotent upserts, account every row.
type Service struct {
	repo       RepositoryPort
	locker     LockPort
	audit      AuditPort
	metrics    MetricsPort
	logger     *slog.Logger
	classifier *Classifier
	cfg        ServiceConfig
}

// NewService builds Service. It fails loudly when the location whitelist is
// empty so a misconfigured deployment cannot silently classify everything
// as aggregate.
func NewService(repo RepositoryPort, locker LockPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) (*Service, error) {
	classifier, err := NewClassifier(cfg.LocationCodes, cfg.AggregateCode)
	if err != nil {
		return nil, err
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SkipDetailLimit <= 0 {
		cfg.SkipDetailLimit = 20
	}
	return &Service{repo: repo, locker: locker, audit: audit, metrics: metrics, logger: logger, classifier: classifier, cfg: cfg}, nil
}

// ImportFile runs one batch over the given extract. Re-running the same
// file is safe: period rows upsert on their uniqueness key, so the second
// run updates in place or leaves unchanged rows alone.
func (s *Service) ImportFile(ctx context.Context, sourceType, path string) (Batch, error) {
	st, err := ParseSourceType(sourceType)
	if err != nil {
		return Batch{}, err
	}

	release, err := s.locker.Acquire(ctx, shared.ImportLockKey(string(st)), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return Batch{}, ErrImportRunning
		}
		return Batch{}, err
	}
	defer release()

	table, err := ReadTable(path, ReadOptions{Encoding: s.cfg.Encoding})
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{
		ID:         NewBatchID(time.Now(), st),
		SourceType: st,
		SourceFile: table.SourceFile,
		Status:     BatchStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return Batch{}, fmt.Errorf("importer: create batch: %w", err)
	}
	s.logger.Info("import started",
		slog.String("batch", batch.ID),
		slog.String("source_type", string(st)),
		slog.String("file", batch.SourceFile))

	if err := s.checkColumns(st, table.Headers); err != nil {
		return s.failBatch(ctx, batch, err)
	}

	var skips []RowSkip
	switch st {
	case SourceTypeEquipment:
		err = s.importEquipment(ctx, &batch, table, &skips)
	default:
		err = s.importPeriods(ctx, &batch, table, &skips)
	}
	if err != nil {
		batch.SkipDetails = skips
		return s.failBatch(ctx, batch, err)
	}

	batch.Status = BatchStatusCompleted
	batch.SkipDetails = skips
	if err := s.repo.FinishBatch(ctx, batch.ID, BatchStatusCompleted, batch.Counters, "", skips); err != nil {
		return batch, fmt.Errorf("importer: finish batch: %w", err)
	}
	now := time.Now().UTC()
	batch.CompletedAt = &now
	s.logger.Info("import completed",
		slog.String("batch", batch.ID),
		slog.Int("processed", batch.Counters.Processed),
		slog.Int("inserted", batch.Counters.Inserted),
		slog.Int("updated", batch.Counters.Updated),
		slog.Int("skipped", batch.Counters.Skipped))
	return batch, nil
}

// checkColumns raises configuration errors before any row processing.
func (s *Service) checkColumns(st SourceType, headers []string) error {
	if st == SourceTypeEquipment {
		for _, header := range headers {
			if _, ok := equipmentColumns[normalizeHeaderKey(header)]; ok {
				return nil
			}
		}
		return errors.New("importer: catalog extract missing recognised columns")
	}
	for _, header := range headers {
		if metricKindFor(header) == kindDate {
			return nil
		}
	}
	return errors.New("importer: extract missing period-end date column")
}

func (s *Service) importPeriods(ctx context.Context, batch *Batch, table *Table, skips *[]RowSkip) error {
	classification := s.classifier.Classify(table.Headers)
	normalizer := NewNormalizer(classification, s.classifier.AggregateCode(), s.cfg.WeekEndingDay, batch.SourceType == SourceTypeScorecard)

	for i, row := range table.Rows {
		rowIndex := i + 2 // header is row 1
		batch.Counters.Processed++

		records, err := normalizer.NormalizeRow(row)
		if err != nil {
			s.skipRow(batch, skips, rowIndex, err.Error())
			continue
		}
		if records == nil {
			s.skipRow(batch, skips, rowIndex, "no business signal")
			continue
		}

		aggregate := PeriodRecord{
			SourceType:   batch.SourceType,
			PeriodEnding: records.PeriodEnding,
			LocationCode: s.classifier.AggregateCode(),
			Metrics:      records.Aggregate,
			BatchID:      batch.ID,
		}
		if err := s.writePeriod(ctx, batch, aggregate); err != nil {
			return err
		}
		for code, metrics := range records.Locations {
			record := PeriodRecord{
				SourceType:   batch.SourceType,
				PeriodEnding: records.PeriodEnding,
				LocationCode: code,
				Metrics:      metrics,
				BatchID:      batch.ID,
			}
			if err := s.writePeriod(ctx, batch, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) importEquipment(ctx context.Context, batch *Batch, table *Table, skips *[]RowSkip) error {
	for i, row := range table.Rows {
		rowIndex := i + 2
		batch.Counters.Processed++

		record, err := EquipmentFromRow(row)
		if err != nil {
			s.skipRow(batch, skips, rowIndex, err.Error())
			continue
		}
		if record == nil {
			s.skipRow(batch, skips, rowIndex, "missing item number")
			continue
		}
		record.BatchID = batch.ID

		var result UpsertResult
		err = s.withRetry(ctx, func() error {
			var werr error
			result, werr = s.repo.UpsertEquipment(ctx, *record)
			return werr
		})
		if err != nil {
			return fmt.Errorf("importer: row %d: %w", rowIndex, err)
		}
		s.countResult(batch, result)
	}
	return nil
}

func (s *Service) writePeriod(ctx context.Context, batch *Batch, record PeriodRecord) error {
	var result UpsertResult
	err := s.withRetry(ctx, func() error {
		var werr error
		result, werr = s.repo.UpsertPeriod(ctx, record)
		return werr
	})
	if err != nil {
		return fmt.Errorf("importer: period %s location %s: %w",
			record.PeriodEnding.Format("2006-01-02"), record.LocationCode, err)
	}
	s.countResult(batch, result)
	return nil
}

// withRetry retries transient storage failures a bounded number of times;
// persistent failures abort the remaining batch.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return err
}

func (s *Service) countResult(batch *Batch, result UpsertResult) {
	outcome := "unchanged"
	switch result {
	case UpsertInserted:
		batch.Counters.Inserted++
		outcome = "inserted"
	case UpsertUpdated:
		batch.Counters.Updated++
		outcome = "updated"
	}
	if s.metrics != nil {
		s.metrics.ObserveImportRow(string(batch.SourceType), outcome)
	}
}

func (s *Service) skipRow(batch *Batch, skips *[]RowSkip, rowIndex int, reason string) {
	batch.Counters.Skipped++
	if len(*skips) < s.cfg.SkipDetailLimit {
		*skips = append(*skips, RowSkip{Row: rowIndex, Reason: reason})
	}
	if s.metrics != nil {
		s.metrics.ObserveImportRow(string(batch.SourceType), "skipped")
	}
	s.logger.Debug("row skipped", slog.String("batch", batch.ID), slog.Int("row", rowIndex), slog.String("reason", reason))
}

func (s *Service) failBatch(ctx context.Context, batch Batch, cause error) (Batch, error) {
	batch.Status = BatchStatusFailed
	batch.LastError = cause.Error()
	if err := s.repo.FinishBatch(ctx, batch.ID, BatchStatusFailed, batch.Counters, batch.LastError, batch.SkipDetails); err != nil {
		s.logger.Error("mark batch failed", slog.String("batch", batch.ID), slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.ObserveBatchFailed()
	}
	s.logger.Error("import failed",
		slog.String("batch", batch.ID),
		slog.String("file", batch.SourceFile),
		slog.Int("processed", batch.Counters.Processed),
		slog.Any("error", cause))
	return batch, cause
}

// Rollback reverts every row still owned by a batch. Idempotent re-import
// cannot undo a wrong file; this explicit operation can.
func (s *Service) Rollback(ctx context.Context, batchID, actor string) (int64, int64, error) {
	periods, equipment, err := s.repo.RollbackBatch(ctx, batchID)
	if err != nil {
		return 0, 0, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "import.rollback",
			Entity:   "import_batch",
			EntityID: batchID,
			Meta:     map[string]any{"periods_deleted": periods, "equipment_deleted": equipment},
		})
	}
	s.logger.Info("batch rolled back",
		slog.String("batch", batchID),
		slog.Int64("periods_deleted", periods),
		slog.Int64("equipment_deleted", equipment))
	return periods, equipment, nil
}

// GetBatch returns one batch with its counters and skip details.
func (s *Service) GetBatch(ctx context.Context, id string) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches returns recent batches with pagination metadata.
func (s *Service) ListBatches(ctx context.Context, page, perPage int) ([]Batch, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	batches, total, err := s.repo.ListBatches(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return batches, shared.NewPagination(page, perPage, total), nil
}

// ListPeriods serves the dashboard query boundary.
func (s *Service) ListPeriods(ctx context.Context, filter PeriodFilter) ([]PeriodRecord, error) {
	return s.repo.ListPeriods(ctx, filter)
}

// HasImported reports whether a source file already completed for a type.
func (s *Service) HasImported(ctx context.Context, sourceType SourceType, sourceFile string) (bool, error) {
	return s.repo.HasCompletedBatchForFile(ctx, sourceType, sourceFile)
}

func normalizeHeaderKey(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}
