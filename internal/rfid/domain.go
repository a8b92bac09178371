// Package rfid reads the asset inventory maintained by the external RFID
// ingestion feed. This service never writes rfid_items.
package rfid

import "time"

// Item is one physical RFID-tagged asset. Many tags share one rental
// class: the class identifies the equipment type, not the instance.
// LastScannedAt is nil for tags registered by the feed but never read.
type Item struct {
	TagID         string     `json:"tag_id"`
	RentalClass   string     `json:"rental_class"`
	CommonName    string     `json:"common_name"`
	Status        string     `json:"status"`
	LocationCode  string     `json:"location_code"`
	LastScannedAt *time.Time `json:"last_scanned_at"`
}

// ClassSummary aggregates the tags of one rental class.
type ClassSummary struct {
	RentalClass string `json:"rental_class"`
	CommonName  string `json:"common_name"`
	TagCount    int    `json:"tag_count"`
}
