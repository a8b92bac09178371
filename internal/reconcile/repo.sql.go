package reconcile

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads across equipment, RFID and mapping tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountCoverage fills the coverage counters in one round trip.
func (r *Repository) CountCoverage(ctx context.Context) (Coverage, error) {
	const q = `
SELECT
  (SELECT COUNT(*) FROM equipment_items WHERE NOT inactive) AS total_items,
  (SELECT COUNT(DISTINCT m.item_number)
     FROM correlation_mappings m
     JOIN equipment_items e ON e.item_number = m.item_number AND NOT e.inactive
    WHERE NOT m.superseded) AS mapped_items,
  (SELECT COUNT(DISTINCT item_number)
     FROM correlation_mappings
    WHERE verified AND NOT superseded) AS verified_items,
  (SELECT COUNT(*) FROM (
     SELECT item_number
       FROM correlation_mappings
      WHERE NOT superseded AND NOT verified
      GROUP BY item_number
     HAVING COUNT(*) > 1) a) AS ambiguous_items,
  (SELECT COUNT(DISTINCT rental_class) FROM rfid_items) AS total_classes,
  (SELECT COUNT(DISTINCT rental_class)
     FROM correlation_mappings
    WHERE NOT superseded) AS mapped_classes`

	var c Coverage
	err := r.pool.QueryRow(ctx, q).Scan(
		&c.TotalItems, &c.MappedItems, &c.VerifiedItems, &c.AmbiguousItems,
		&c.TotalClasses, &c.MappedClasses,
	)
	if err != nil {
		return Coverage{}, err
	}
	if c.TotalItems > 0 {
		c.ItemCoveragePct = float64(c.MappedItems) / float64(c.TotalItems) * 100
	}
	if c.TotalClasses > 0 {
		c.ClassCoveragePct = float64(c.MappedClasses) / float64(c.TotalClasses) * 100
	}
	return c, nil
}

// ListUnmappedItems returns active POS items with no non-superseded mapping.
func (r *Repository) ListUnmappedItems(ctx context.Context, limit int) ([]UnmappedItem, error) {
	const q = `
SELECT e.item_number, e.name, e.category, e.quantity
  FROM equipment_items e
 WHERE NOT e.inactive
   AND NOT EXISTS (
     SELECT 1 FROM correlation_mappings m
      WHERE m.item_number = e.item_number AND NOT m.superseded)
 ORDER BY e.quantity DESC, e.item_number
 LIMIT $1`

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []UnmappedItem
	for rows.Next() {
		var it UnmappedItem
		if err := rows.Scan(&it.ItemNumber, &it.Name, &it.Category, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListUnmappedClasses returns rental classes no item points at.
func (r *Repository) ListUnmappedClasses(ctx context.Context, limit int) ([]UnmappedClass, error) {
	const q = `
SELECT t.rental_class,
       COALESCE(MODE() WITHIN GROUP (ORDER BY t.common_name), '') AS common_name,
       COUNT(*) AS tag_count
  FROM rfid_items t
 WHERE NOT EXISTS (
     SELECT 1 FROM correlation_mappings m
      WHERE m.rental_class = t.rental_class AND NOT m.superseded)
 GROUP BY t.rental_class
 ORDER BY tag_count DESC, t.rental_class
 LIMIT $1`

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []UnmappedClass
	for rows.Next() {
		var c UnmappedClass
		if err := rows.Scan(&c.RentalClass, &c.CommonName, &c.TagCount); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// ListQuantityPairs joins every actively mapped item with its class tag
// count. Ambiguous items are excluded; comparing a quantity against two
// competing classes would double count.
func (r *Repository) ListQuantityPairs(ctx context.Context) ([]QuantityPair, error) {
	const q = `
SELECT e.item_number, e.name, m.rental_class, e.quantity,
       (SELECT COUNT(*) FROM rfid_items t WHERE t.rental_class = m.rental_class) AS tag_count
  FROM correlation_mappings m
  JOIN equipment_items e ON e.item_number = m.item_number AND NOT e.inactive
 WHERE NOT m.superseded
   AND (m.verified OR 1 = (
     SELECT COUNT(*) FROM correlation_mappings x
      WHERE x.item_number = m.item_number AND NOT x.superseded))
 ORDER BY e.item_number`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []QuantityPair
	for rows.Next() {
		var p QuantityPair
		if err := rows.Scan(&p.ItemNumber, &p.Name, &p.RentalClass, &p.PosQuantity, &p.TagCount); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
