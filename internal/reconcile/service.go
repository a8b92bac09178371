package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	CountCoverage(ctx context.Context) (Coverage, error)
	ListUnmappedItems(ctx context.Context, limit int) ([]UnmappedItem, error)
	ListUnmappedClasses(ctx context.Context, limit int) ([]UnmappedClass, error)
	ListQuantityPairs(ctx context.Context) ([]QuantityPair, error)
}

// ServiceConfig groups reconciliation tuning.
type ServiceConfig struct {
	// QtyTolerance is the relative divergence allowed before a mapped
	// pair is reported as a mismatch.
	QtyTolerance float64
	ListLimit    int
}

// Service produces reconciliation reports.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	cfg    ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.QtyTolerance <= 0 {
		cfg.QtyTolerance = 0.10
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 100
	}
	return &Service{repo: repo, logger: logger, cfg: cfg}
}

// Report assembles the full reconciliation view. The four reads are
// independent, so they run concurrently.
func (s *Service) Report(ctx context.Context) (Report, error) {
	var (
		coverage Coverage
		items    []UnmappedItem
		classes  []UnmappedClass
		pairs    []QuantityPair
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		coverage, err = s.repo.CountCoverage(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.repo.ListUnmappedItems(ctx, s.cfg.ListLimit)
		return err
	})
	g.Go(func() error {
		var err error
		classes, err = s.repo.ListUnmappedClasses(ctx, s.cfg.ListLimit)
		return err
	})
	g.Go(func() error {
		var err error
		pairs, err = s.repo.ListQuantityPairs(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	return Report{
		GeneratedAt:        time.Now().UTC(),
		CoverageLabel:      CoverageLabel(coverage),
		Coverage:           coverage,
		UnmappedItems:      items,
		UnmappedClasses:    classes,
		QuantityMismatches: s.mismatches(pairs),
	}, nil
}

// Mismatches returns only the quantity divergences.
func (s *Service) Mismatches(ctx context.Context) ([]QuantityMismatch, string, error) {
	coverage, err := s.repo.CountCoverage(ctx)
	if err != nil {
		return nil, "", err
	}
	pairs, err := s.repo.ListQuantityPairs(ctx)
	if err != nil {
		return nil, "", err
	}
	return s.mismatches(pairs), CoverageLabel(coverage), nil
}

// UnmappedItems lists POS items without an active mapping.
func (s *Service) UnmappedItems(ctx context.Context, limit int) ([]UnmappedItem, error) {
	if limit <= 0 || limit > 500 {
		limit = s.cfg.ListLimit
	}
	return s.repo.ListUnmappedItems(ctx, limit)
}

// UnmappedClasses lists rental classes without an active mapping.
func (s *Service) UnmappedClasses(ctx context.Context, limit int) ([]UnmappedClass, error) {
	if limit <= 0 || limit > 500 {
		limit = s.cfg.ListLimit
	}
	return s.repo.ListUnmappedClasses(ctx, limit)
}

func (s *Service) mismatches(pairs []QuantityPair) []QuantityMismatch {
	var out []QuantityMismatch
	for _, p := range pairs {
		delta := float64(p.TagCount) - p.PosQuantity
		base := math.Max(p.PosQuantity, 1)
		pct := math.Abs(delta) / base
		if pct <= s.cfg.QtyTolerance {
			continue
		}
		out = append(out, QuantityMismatch{
			ItemNumber:  p.ItemNumber,
			Name:        p.Name,
			RentalClass: p.RentalClass,
			PosQuantity: p.PosQuantity,
			TagCount:    p.TagCount,
			Delta:       delta,
			DeltaPct:    pct,
		})
	}
	return out
}

// CoverageLabel renders the qualifier attached to every reconciliation
// response so partial tag coverage is never mistaken for the full fleet.
func CoverageLabel(c Coverage) string {
	return fmt.Sprintf("partial RFID coverage: %.0f%% of rental classes and %.0f%% of POS items correlated",
		c.ClassCoveragePct, c.ItemCoveragePct)
}
