package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/rentalpulse/rentalpulse/internal/correlate"
)

// CorrelationRefreshJob re-runs the correlation engine after imports land.
type CorrelationRefreshJob struct {
	Service *correlate.Service
	Logger  *slog.Logger
}

// NewCorrelationRefreshJob initialises the refresh handler.
func NewCorrelationRefreshJob(service *correlate.Service, logger *slog.Logger) *CorrelationRefreshJob {
	return &CorrelationRefreshJob{Service: service, Logger: logger}
}

// Handle executes one engine pass.
func (j *CorrelationRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("correlation refresh: handler not configured")
	}
	var payload CorrelationRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	summary, err := j.Service.Run(ctx)
	if err != nil {
		if errors.Is(err, correlate.ErrCorrelationRunning) {
			// Another run is in flight; the cron will come back around.
			j.Logger.Info("correlation refresh skipped, run in progress")
			return nil
		}
		j.Logger.Error("correlation refresh failed", slog.Any("error", err))
		return err
	}

	j.Logger.Info("correlation refresh completed",
		slog.Int("items_examined", summary.ItemsExamined),
		slog.Int("mappings_created", summary.MappingsCreated),
		slog.Int("ambiguous", summary.Ambiguous),
	)
	return nil
}
