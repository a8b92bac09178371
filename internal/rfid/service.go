package rfid

import "context"

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	ListClassSummaries(ctx context.Context) ([]ClassSummary, error)
	ListItemsByClass(ctx context.Context, rentalClass string) ([]Item, error)
}

// Service answers read-only tag inventory lookups.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ClassSummaries lists every rental class with its tag count.
func (s *Service) ClassSummaries(ctx context.Context) ([]ClassSummary, error) {
	return s.repo.ListClassSummaries(ctx)
}

// ItemsByClass lists the tags under one rental class.
func (s *Service) ItemsByClass(ctx context.Context, rentalClass string) ([]Item, error) {
	return s.repo.ListItemsByClass(ctx, rentalClass)
}
