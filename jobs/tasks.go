package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueImports carries file imports, prioritized over housekeeping so a
	// fresh drop is visible in reports before the nightly refresh.
	QueueImports = "imports"
	// TaskImportRun imports one dropped source file.
	TaskImportRun = "import:run"
	// TaskImportScan sweeps the drop directory for new files.
	TaskImportScan = "import:scan"
	// TaskCorrelationRefresh re-runs the correlation engine.
	TaskCorrelationRefresh = "correlation:refresh"
)

// ImportRunPayload names the file to import.
type ImportRunPayload struct {
	SourceType string `json:"source_type"`
	File       string `json:"file"`
}

// NewImportRunTask constructs an import task for one file.
func NewImportRunTask(payload ImportRunPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportRun, body, asynq.Queue(QueueImports)), nil
}

// ImportScanPayload carries scheduling metadata.
type ImportScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewImportScanTask constructs a drop-directory scan task.
func NewImportScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ImportScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportScan, body, asynq.Queue(QueueImports)), nil
}

// CorrelationRefreshPayload carries scheduling metadata.
type CorrelationRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCorrelationRefreshTask constructs a correlation refresh task.
func NewCorrelationRefreshTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CorrelationRefreshPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCorrelationRefresh, body, asynq.Queue(QueueDefault)), nil
}
