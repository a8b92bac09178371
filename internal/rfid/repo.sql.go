package rfid

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads rfid_items.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListClassSummaries groups tags by rental class. The most common name per
// class wins; feeds occasionally disagree on spelling between tags.
func (r *Repository) ListClassSummaries(ctx context.Context) ([]ClassSummary, error) {
	if r == nil {
		return nil, errors.New("rfid repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT rental_class, MODE() WITHIN GROUP (ORDER BY common_name) AS common_name, COUNT(*) AS tag_count
FROM rfid_items
WHERE rental_class <> ''
GROUP BY rental_class
ORDER BY rental_class`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	summaries := []ClassSummary{}
	for rows.Next() {
		var summary ClassSummary
		if err := rows.Scan(&summary.RentalClass, &summary.CommonName, &summary.TagCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// ListItemsByClass returns the physical tags of one rental class.
func (r *Repository) ListItemsByClass(ctx context.Context, rentalClass string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT tag_id, rental_class, common_name, status, location_code, last_scanned_at
FROM rfid_items WHERE rental_class=$1 ORDER BY tag_id`, rentalClass)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.TagID, &item.RentalClass, &item.CommonName, &item.Status, &item.LocationCode, &item.LastScannedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
