package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/rentalpulse/rentalpulse/internal/importer"
)

// ImportRunJob imports a single dropped extract file.
type ImportRunJob struct {
	Service *importer.Service
	Logger  *slog.Logger
	Dir     string
}

// NewImportRunJob initialises the import handler.
func NewImportRunJob(service *importer.Service, logger *slog.Logger, dir string) *ImportRunJob {
	return &ImportRunJob{Service: service, Logger: logger, Dir: dir}
}

// Handle executes one import.
func (j *ImportRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("import run: handler not configured")
	}
	var payload ImportRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	path := filepath.Join(j.Dir, filepath.Clean("/"+payload.File))
	logger := j.Logger.With(
		slog.String("source_type", payload.SourceType),
		slog.String("file", payload.File),
	)

	batch, err := j.Service.ImportFile(ctx, payload.SourceType, path)
	switch {
	case errors.Is(err, importer.ErrUnknownSourceType):
		logger.Error("import skipped", slog.Any("error", err))
		return asynq.SkipRetry
	case errors.Is(err, importer.ErrImportRunning):
		// Another worker holds the per-source lock; let asynq retry.
		logger.Info("import deferred, lock held")
		return err
	case err != nil:
		logger.Error("import failed", slog.Any("error", err), slog.String("batch_id", batch.ID))
		return err
	}

	logger.Info("import completed",
		slog.String("batch_id", batch.ID),
		slog.Int("processed", batch.Counters.Processed),
		slog.Int("inserted", batch.Counters.Inserted),
		slog.Int("updated", batch.Counters.Updated),
		slog.Int("skipped", batch.Counters.Skipped),
	)
	return nil
}
