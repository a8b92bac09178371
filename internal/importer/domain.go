package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType enumerates the supported extract files.
type SourceType string

const (
	// SourceTypeScorecard is the weekly performance extract.
	SourceTypeScorecard SourceType = "scorecard"
	// SourceTypePayroll is the bi-weekly labor extract.
	SourceTypePayroll SourceType = "payroll"
	// SourceTypeEquipment is the POS catalog snapshot.
	SourceTypeEquipment SourceType = "equipment"
)

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceTypeScorecard:
		return SourceTypeScorecard, nil
	case SourceTypePayroll:
		return SourceTypePayroll, nil
	case SourceTypeEquipment:
		return SourceTypeEquipment, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, s)
}

// BatchStatus tracks the lifecycle of one import run.
type BatchStatus string

const (
	// BatchStatusRunning marks a batch currently processing rows.
	BatchStatusRunning BatchStatus = "RUNNING"
	// BatchStatusCompleted marks a batch that finished all rows.
	BatchStatusCompleted BatchStatus = "COMPLETED"
	// BatchStatusFailed marks a batch aborted by a storage or config error.
	BatchStatusFailed BatchStatus = "FAILED"
	// BatchStatusRolledBack marks a batch whose rows were reverted.
	BatchStatusRolledBack BatchStatus = "ROLLED_BACK"
)

// Counters accumulates per-batch row outcomes.
type Counters struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
}

// RowSkip records why one row was skipped.
type RowSkip struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Batch identifies one execution of the import pipeline. Completed batches
// are immutable and never deleted; they are the audit trail.
type Batch struct {
	ID          string      `json:"id"`
	SourceType  SourceType  `json:"source_type"`
	SourceFile  string      `json:"source_file"`
	Status      BatchStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Counters    Counters    `json:"counters"`
	LastError   string      `json:"last_error,omitempty"`
	SkipDetails []RowSkip   `json:"skip_details,omitempty"`
}

// NewBatchID derives an opaque batch token from the start time.
func NewBatchID(now time.Time, sourceType SourceType) string {
	return fmt.Sprintf("%s-%s-%s", now.UTC().Format("20060102T150405"), sourceType, uuid.NewString()[:8])
}

// Metrics is the union of numeric fields across period-keyed extracts.
// Fields absent from a given source type stay zero.
type Metrics struct {
	Revenue          float64 `json:"revenue"`
	RentalRevenue    float64 `json:"rental_revenue"`
	ContractCount    float64 `json:"contract_count"`
	ReservationTotal float64 `json:"reservation_total"`
	PayrollCost      float64 `json:"payroll_cost"`
	WageHours        float64 `json:"wage_hours"`
}

// Equal reports whether two metric sets carry identical values.
func (m Metrics) Equal(other Metrics) bool {
	return m == other
}

// PeriodRecord is one row of a time-series metric for the whole company
// (sentinel location) or one location. Exactly one row exists per
// (source type, period-end date, location code).
type PeriodRecord struct {
	SourceType   SourceType `json:"source_type"`
	PeriodEnding time.Time  `json:"period_ending"`
	LocationCode string     `json:"location_code"`
	Metrics      Metrics    `json:"metrics"`
	BatchID      string     `json:"batch_id"`
}

// EquipmentRecord is one POS catalog entry, replaced wholesale on re-import.
type EquipmentRecord struct {
	ItemNumber   string  `json:"item_number"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	SubCategory  string  `json:"sub_category"`
	LocationCode string  `json:"location_code"`
	Quantity     float64 `json:"quantity"`
	SellPrice    float64 `json:"sell_price"`
	RentalRate   float64 `json:"rental_rate"`
	Inactive     bool    `json:"inactive"`
	BatchID      string  `json:"batch_id"`
}

// PeriodFilter narrows period listings for the dashboard query boundary.
type PeriodFilter struct {
	SourceType   SourceType
	LocationCode string
	From         time.Time
	To           time.Time
	Limit        int
}

// UpsertResult reports what a period or equipment write did.
type UpsertResult int

const (
	// UpsertInserted means a new row was created.
	UpsertInserted UpsertResult = iota
	// UpsertUpdated means an existing row was overwritten with new values.
	UpsertUpdated
	// UpsertUnchanged means the stored values already matched.
	UpsertUnchanged
)

var (
	// ErrUnknownSourceType indicates an unrecognised extract type.
	ErrUnknownSourceType = errors.New("importer: unknown source type")
	// ErrBatchNotFound indicates a missing import batch.
	ErrBatchNotFound = errors.New("importer: batch not found")
	// ErrImportRunning indicates another import of the same source type holds the lock.
	ErrImportRunning = errors.New("importer: import already running for source type")
	// ErrNoLocationCodes indicates the classifier whitelist is missing.
	ErrNoLocationCodes = errors.New("importer: location code whitelist is empty")
	// ErrBatchNotRollbackable indicates the batch state forbids rollback.
	ErrBatchNotRollbackable = errors.New("importer: batch cannot be rolled back")
)
