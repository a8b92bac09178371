// Package reconcile compares POS equipment quantities against RFID tag
// populations through the correlation mapping table. Every report carries
// a coverage label because only a minority of rental classes are tagged;
// numbers here describe the correlated subset, never the whole fleet.
package reconcile

import "time"

// Coverage summarizes how much of each universe the mapping table links.
type Coverage struct {
	TotalItems     int `json:"total_items"`
	MappedItems    int `json:"mapped_items"`
	VerifiedItems  int `json:"verified_items"`
	AmbiguousItems int `json:"ambiguous_items"`
	TotalClasses   int `json:"total_classes"`
	MappedClasses  int `json:"mapped_classes"`

	ItemCoveragePct  float64 `json:"item_coverage_pct"`
	ClassCoveragePct float64 `json:"class_coverage_pct"`
}

// UnmappedItem is a POS item with no active mapping.
type UnmappedItem struct {
	ItemNumber string  `json:"item_number"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Quantity   float64 `json:"quantity"`
}

// UnmappedClass is an RFID rental class no POS item points at.
type UnmappedClass struct {
	RentalClass string `json:"rental_class"`
	CommonName  string `json:"common_name"`
	TagCount    int    `json:"tag_count"`
}

// QuantityMismatch flags a mapped pair whose POS quantity and tag count
// diverge beyond tolerance.
type QuantityMismatch struct {
	ItemNumber  string  `json:"item_number"`
	Name        string  `json:"name"`
	RentalClass string  `json:"rental_class"`
	PosQuantity float64 `json:"pos_quantity"`
	TagCount    int     `json:"tag_count"`
	Delta       float64 `json:"delta"`
	DeltaPct    float64 `json:"delta_pct"`
}

// Report is the full reconciliation output.
type Report struct {
	GeneratedAt        time.Time          `json:"generated_at"`
	CoverageLabel      string             `json:"coverage_label"`
	Coverage           Coverage           `json:"coverage"`
	UnmappedItems      []UnmappedItem     `json:"unmapped_items"`
	UnmappedClasses    []UnmappedClass    `json:"unmapped_classes"`
	QuantityMismatches []QuantityMismatch `json:"quantity_mismatches"`
}

// QuantityPair is a mapped item joined with its class tag count.
type QuantityPair struct {
	ItemNumber  string
	Name        string
	RentalClass string
	PosQuantity float64
	TagCount    int
}
