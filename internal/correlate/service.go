package correlate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rentalpulse/rentalpulse/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	LoadEquipmentRefs(ctx context.Context) ([]EquipmentRef, error)
	LoadClassRefs(ctx context.Context) ([]ClassRef, error)
	LoadAllMappings(ctx context.Context) (map[string][]Mapping, error)
	ApplyRun(ctx context.Context, changes RunChanges) error
	ActiveForItem(ctx context.Context, itemNumber string) (ItemStatus, error)
	MappingsForClass(ctx context.Context, rentalClass string) ([]Mapping, error)
	ListAmbiguous(ctx context.Context, limit int) ([]ItemStatus, error)
	CreateManual(ctx context.Context, itemNumber, rentalClass string) (Mapping, error)
	Verify(ctx context.Context, id int64) (Mapping, error)
}

// LockPort serializes engine runs.
type LockPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts recorded mappings per method.
type MetricsPort interface {
	ObserveMapping(method string)
}

// ServiceConfig groups correlation tuning.
type ServiceConfig struct {
	Engine  EngineConfig
	LockTTL time.Duration
}

// Service runs the correlation engine and answers mapping lookups.
type Service struct {
	repo    RepositoryPort
	locker  LockPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	cfg     ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, locker LockPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Service{repo: repo, locker: locker, audit: audit, metrics: metrics, logger: logger, cfg: cfg}
}

// Run executes one incremental engine pass. Re-running is idempotent:
// verified mappings are untouched, and an unverified mapping is only
// displaced by a strictly higher-confidence automatic candidate.
func (s *Service) Run(ctx context.Context) (RunSummary, error) {
	release, err := s.locker.Acquire(ctx, shared.CorrelationLockKey(), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return RunSummary{}, ErrCorrelationRunning
		}
		return RunSummary{}, err
	}
	defer release()

	summary := RunSummary{StartedAt: time.Now().UTC()}

	equipment, err := s.repo.LoadEquipmentRefs(ctx)
	if err != nil {
		return summary, err
	}
	classes, err := s.repo.LoadClassRefs(ctx)
	if err != nil {
		return summary, err
	}
	existing, err := s.repo.LoadAllMappings(ctx)
	if err != nil {
		return summary, err
	}

	outcomes := Match(equipment, classes, s.cfg.Engine)
	changes := s.planChanges(outcomes, existing, &summary)

	if err := s.repo.ApplyRun(ctx, changes); err != nil {
		return summary, err
	}
	summary.FinishedAt = time.Now().UTC()
	s.logger.Info("correlation run finished",
		slog.Int("items_examined", summary.ItemsExamined),
		slog.Int("mappings_created", summary.MappingsCreated),
		slog.Int("superseded", summary.Superseded),
		slog.Int("ambiguous", summary.Ambiguous),
		slog.Int("skipped_verified", summary.SkippedVerified))
	return summary, nil
}

// planChanges turns pure engine outcomes into a write set honoring the
// incremental rules.
func (s *Service) planChanges(outcomes []Outcome, existing map[string][]Mapping, summary *RunSummary) RunChanges {
	var changes RunChanges
	for _, outcome := range outcomes {
		summary.ItemsExamined++
		if len(outcome.Candidates) == 0 {
			continue
		}

		rows := existing[outcome.ItemNumber]
		if hasVerified(rows) {
			summary.SkippedVerified++
			continue
		}

		known := make(map[string]Mapping, len(rows))
		var active []Mapping
		bestActive := -1.0
		for _, row := range rows {
			known[row.RentalClass] = row
			if !row.Superseded {
				active = append(active, row)
				if row.Confidence > bestActive {
					bestActive = row.Confidence
				}
			}
		}

		top := outcome.Candidates[0]
		if top.Confidence <= bestActive {
			// Nothing strictly better; retain any unseen candidates as
			// superseded history so re-evaluation can revisit them.
			for _, candidate := range outcome.Candidates {
				if _, ok := known[candidate.RentalClass]; !ok {
					changes.Upserts = append(changes.Upserts, supersededMapping(outcome.ItemNumber, candidate))
				}
			}
			continue
		}

		if outcome.Ambiguous {
			summary.Ambiguous++
			for _, id := range activeIDs(active) {
				changes.SupersedeIDs = append(changes.SupersedeIDs, id)
				summary.Superseded++
			}
			// Only candidates within the tie margin of the top score await
			// manual resolution; trailing candidates are history.
			margin := s.cfg.Engine.ambiguityMargin()
			for _, candidate := range outcome.Candidates {
				if top.Confidence-candidate.Confidence < margin {
					changes.Upserts = append(changes.Upserts, activeMapping(outcome.ItemNumber, candidate))
					if _, ok := known[candidate.RentalClass]; !ok {
						s.countMapping(candidate.Method, summary)
					}
					continue
				}
				if _, ok := known[candidate.RentalClass]; !ok {
					changes.Upserts = append(changes.Upserts, supersededMapping(outcome.ItemNumber, candidate))
				}
			}
			continue
		}

		for _, id := range activeIDs(active) {
			changes.SupersedeIDs = append(changes.SupersedeIDs, id)
			summary.Superseded++
		}
		changes.Upserts = append(changes.Upserts, activeMapping(outcome.ItemNumber, top))
		if _, ok := known[top.RentalClass]; !ok {
			s.countMapping(top.Method, summary)
		}
		for _, candidate := range outcome.Candidates[1:] {
			if _, ok := known[candidate.RentalClass]; !ok {
				changes.Upserts = append(changes.Upserts, supersededMapping(outcome.ItemNumber, candidate))
			}
		}
	}
	return changes
}

func (s *Service) countMapping(method Method, summary *RunSummary) {
	summary.MappingsCreated++
	if s.metrics != nil {
		s.metrics.ObserveMapping(string(method))
	}
}

func hasVerified(rows []Mapping) bool {
	for _, row := range rows {
		if row.Verified {
			return true
		}
	}
	return false
}

func activeIDs(rows []Mapping) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

func activeMapping(itemNumber string, c Candidate) Mapping {
	return Mapping{ItemNumber: itemNumber, RentalClass: c.RentalClass, Method: c.Method, Confidence: c.Confidence}
}

func supersededMapping(itemNumber string, c Candidate) Mapping {
	m := activeMapping(itemNumber, c)
	m.Superseded = true
	return m
}

// StatusForItem returns the active mapping (if any) with its candidates.
func (s *Service) StatusForItem(ctx context.Context, itemNumber string) (ItemStatus, error) {
	return s.repo.ActiveForItem(ctx, itemNumber)
}

// ItemsForClass returns every POS item actively mapped to a rental class.
func (s *Service) ItemsForClass(ctx context.Context, rentalClass string) ([]Mapping, error) {
	return s.repo.MappingsForClass(ctx, rentalClass)
}

// ListAmbiguous exposes items awaiting manual resolution.
func (s *Service) ListAmbiguous(ctx context.Context, limit int) ([]ItemStatus, error) {
	return s.repo.ListAmbiguous(ctx, limit)
}

// MapManually records an operator decision as a verified mapping.
func (s *Service) MapManually(ctx context.Context, itemNumber, rentalClass, actor string) (Mapping, error) {
	mapping, err := s.repo.CreateManual(ctx, itemNumber, rentalClass)
	if err != nil {
		return Mapping{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMapping(string(MethodManual))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "correlation.map_manual",
			Entity:   "correlation_mapping",
			EntityID: itemNumber,
			Meta:     map[string]any{"rental_class": rentalClass},
		})
	}
	return mapping, nil
}

// VerifyMapping confirms one candidate as the answer for its item.
func (s *Service) VerifyMapping(ctx context.Context, id int64, actor string) (Mapping, error) {
	mapping, err := s.repo.Verify(ctx, id)
	if err != nil {
		return Mapping{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "correlation.verify",
			Entity:   "correlation_mapping",
			EntityID: mapping.ItemNumber,
			Meta:     map[string]any{"rental_class": mapping.RentalClass, "mapping_id": id},
		})
	}
	return mapping, nil
}
