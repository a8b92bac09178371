// Package correlate maintains the scored mapping between POS item numbers
// and RFID rental-class numbers. The two identifier spaces share no
// reliable common key; the mapping table is the reconciliation record.
package correlate

import (
	"errors"
	"time"
)

// Method enumerates how a mapping was produced.
type Method string

const (
	// MethodExact is identifier equality after normalization.
	MethodExact Method = "exact-numeric"
	// MethodNormalized is numeric equality after stripping formatting artifacts.
	MethodNormalized Method = "normalized-numeric"
	// MethodNameSimilarity is a display-name similarity match.
	MethodNameSimilarity Method = "name-similarity"
	// MethodManual is an operator decision.
	MethodManual Method = "manual"
)

// Mapping is a directed, scored link from one POS item number to one RFID
// rental-class number. Superseded mappings are flagged, never deleted.
type Mapping struct {
	ID          int64      `json:"id"`
	ItemNumber  string     `json:"item_number"`
	RentalClass string     `json:"rental_class"`
	Method      Method     `json:"method"`
	Confidence  float64    `json:"confidence"`
	Superseded  bool       `json:"superseded"`
	Verified    bool       `json:"verified"`
	CreatedAt   time.Time  `json:"created_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// ItemState describes where one POS item number stands.
type ItemState string

const (
	// StateUnmatched means no candidate mapping exists.
	StateUnmatched ItemState = "unmatched"
	// StateResolved means exactly one active mapping exists.
	StateResolved ItemState = "resolved"
	// StateAmbiguous means multiple similarly-scored candidates await a
	// human decision.
	StateAmbiguous ItemState = "ambiguous"
)

// ItemStatus pairs an item's state with its candidate mappings.
type ItemStatus struct {
	ItemNumber string    `json:"item_number"`
	State      ItemState `json:"state"`
	Active     *Mapping  `json:"active,omitempty"`
	Candidates []Mapping `json:"candidates,omitempty"`
}

// RunSummary reports one correlation engine run.
type RunSummary struct {
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ItemsExamined   int       `json:"items_examined"`
	MappingsCreated int       `json:"mappings_created"`
	Superseded      int       `json:"superseded"`
	Ambiguous       int       `json:"ambiguous"`
	SkippedVerified int       `json:"skipped_verified"`
}

// EquipmentRef is the slice of the POS catalog the engine needs.
type EquipmentRef struct {
	ItemNumber string
	Name       string
}

// ClassRef is the slice of the RFID inventory the engine needs.
type ClassRef struct {
	RentalClass string
	CommonName  string
}

var (
	// ErrMappingNotFound indicates a missing mapping.
	ErrMappingNotFound = errors.New("correlate: mapping not found")
	// ErrCorrelationRunning indicates another engine run holds the lock.
	ErrCorrelationRunning = errors.New("correlate: run already in progress")
	// ErrVerifiedConflict indicates an item already has a verified mapping.
	ErrVerifiedConflict = errors.New("correlate: item already has a verified mapping")
)
