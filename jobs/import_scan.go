package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/rentalpulse/rentalpulse/internal/importer"
)

// ImportScanJob sweeps the drop directory and enqueues an import for every
// recognised file that has not already completed.
type ImportScanJob struct {
	Service *importer.Service
	Client  *Client
	Logger  *slog.Logger
	Dir     string
}

// NewImportScanJob initialises the scan handler.
func NewImportScanJob(service *importer.Service, client *Client, logger *slog.Logger, dir string) *ImportScanJob {
	return &ImportScanJob{Service: service, Client: client, Logger: logger, Dir: dir}
}

// Handle lists the drop directory and enqueues pending imports.
func (j *ImportScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil || j.Client == nil {
		return errors.New("import scan: handler not configured")
	}
	var payload ImportScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		j.Logger.Error("drop directory unreadable", slog.String("dir", j.Dir), slog.Any("error", err))
		return err
	}

	enqueued := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		st, ok := sourceTypeFromName(name)
		if !ok {
			continue
		}
		done, err := j.Service.HasImported(ctx, st, name)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if _, err := j.Client.EnqueueImportRun(ctx, ImportRunPayload{
			SourceType: string(st),
			File:       name,
		}); err != nil {
			return err
		}
		enqueued++
		j.Logger.Info("import enqueued",
			slog.String("source_type", string(st)),
			slog.String("file", name),
		)
	}

	j.Logger.Info("drop directory scanned",
		slog.Int("entries", len(entries)),
		slog.Int("enqueued", enqueued),
	)
	return nil
}

// sourceTypeFromName infers the extract kind from the dropped filename.
func sourceTypeFromName(name string) (importer.SourceType, bool) {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".csv") && !strings.HasSuffix(lower, ".xlsx") {
		return "", false
	}
	switch {
	case strings.Contains(lower, "payroll"):
		return importer.SourceTypePayroll, true
	case strings.Contains(lower, "scorecard"):
		return importer.SourceTypeScorecard, true
	case strings.Contains(lower, "equip"), strings.Contains(lower, "itemlist"), strings.Contains(lower, "item_list"):
		return importer.SourceTypeEquipment, true
	}
	return "", false
}
