package correlate

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentalpulse/rentalpulse/internal/platform/db"
)

// Repository persists correlation mappings and reads the two inventories
// being reconciled.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadEquipmentRefs reads the POS catalog slice the engine matches on.
func (r *Repository) LoadEquipmentRefs(ctx context.Context) ([]EquipmentRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_number, name FROM equipment_items WHERE NOT inactive ORDER BY item_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []EquipmentRef{}
	for rows.Next() {
		var ref EquipmentRef
		if err := rows.Scan(&ref.ItemNumber, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// LoadClassRefs reads distinct rental classes from the RFID inventory.
func (r *Repository) LoadClassRefs(ctx context.Context) ([]ClassRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT rental_class, MODE() WITHIN GROUP (ORDER BY common_name)
FROM rfid_items WHERE rental_class <> '' GROUP BY rental_class ORDER BY rental_class`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []ClassRef{}
	for rows.Next() {
		var ref ClassRef
		if err := rows.Scan(&ref.RentalClass, &ref.CommonName); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// LoadAllMappings returns every mapping grouped by item number, superseded
// rows included; the run logic needs the full history.
func (r *Repository) LoadAllMappings(ctx context.Context) (map[string][]Mapping, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_number, rental_class, method, confidence, superseded, verified, created_at, verified_at
FROM correlation_mappings ORDER BY item_number, confidence DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]Mapping)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.ItemNumber, &m.RentalClass, &m.Method, &m.Confidence, &m.Superseded, &m.Verified, &m.CreatedAt, &m.VerifiedAt); err != nil {
			return nil, err
		}
		out[m.ItemNumber] = append(out[m.ItemNumber], m)
	}
	return out, rows.Err()
}

// RunChanges is the write set one engine run produces.
type RunChanges struct {
	// Upserts are candidate rows to insert, or to refresh when the pair
	// already exists (higher confidence, superseded flag).
	Upserts []Mapping
	// SupersedeIDs are existing rows displaced by a better candidate.
	SupersedeIDs []int64
}

// ApplyRun writes one engine run atomically.
func (r *Repository) ApplyRun(ctx context.Context, changes RunChanges) error {
	if len(changes.Upserts) == 0 && len(changes.SupersedeIDs) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, id := range changes.SupersedeIDs {
			if _, err := tx.Exec(ctx, `UPDATE correlation_mappings SET superseded=TRUE WHERE id=$1 AND NOT verified`, id); err != nil {
				return err
			}
		}
		for _, m := range changes.Upserts {
			if _, err := tx.Exec(ctx, `INSERT INTO correlation_mappings (item_number, rental_class, method, confidence, superseded, verified, created_at)
VALUES ($1,$2,$3,$4,$5,FALSE,NOW())
ON CONFLICT (item_number, rental_class) DO UPDATE SET
method=EXCLUDED.method, confidence=EXCLUDED.confidence, superseded=EXCLUDED.superseded
WHERE NOT correlation_mappings.verified AND correlation_mappings.confidence <= EXCLUDED.confidence`,
				m.ItemNumber, m.RentalClass, string(m.Method), m.Confidence, m.Superseded); err != nil {
				return err
			}
		}
		return nil
	})
}

// ActiveForItem returns an item's mapping status: its verified mapping, a
// single active candidate, or the ambiguous candidate set.
func (r *Repository) ActiveForItem(ctx context.Context, itemNumber string) (ItemStatus, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_number, rental_class, method, confidence, superseded, verified, created_at, verified_at
FROM correlation_mappings WHERE item_number=$1 AND NOT superseded ORDER BY verified DESC, confidence DESC`, itemNumber)
	if err != nil {
		return ItemStatus{}, err
	}
	defer rows.Close()
	status := ItemStatus{ItemNumber: itemNumber, State: StateUnmatched}
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.ItemNumber, &m.RentalClass, &m.Method, &m.Confidence, &m.Superseded, &m.Verified, &m.CreatedAt, &m.VerifiedAt); err != nil {
			return ItemStatus{}, err
		}
		status.Candidates = append(status.Candidates, m)
	}
	if err := rows.Err(); err != nil {
		return ItemStatus{}, err
	}
	switch {
	case len(status.Candidates) == 0:
	case status.Candidates[0].Verified, len(status.Candidates) == 1:
		status.State = StateResolved
		status.Active = &status.Candidates[0]
	default:
		status.State = StateAmbiguous
	}
	return status, nil
}

// MappingsForClass returns every POS item actively mapped to a rental
// class. Bulk equipment legitimately runs many POS items to one class.
func (r *Repository) MappingsForClass(ctx context.Context, rentalClass string) ([]Mapping, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_number, rental_class, method, confidence, superseded, verified, created_at, verified_at
FROM correlation_mappings WHERE rental_class=$1 AND NOT superseded ORDER BY item_number`, rentalClass)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	mappings := []Mapping{}
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.ItemNumber, &m.RentalClass, &m.Method, &m.Confidence, &m.Superseded, &m.Verified, &m.CreatedAt, &m.VerifiedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// ListAmbiguous returns items with multiple active unverified candidates.
func (r *Repository) ListAmbiguous(ctx context.Context, limit int) ([]ItemStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.item_number, m.rental_class, m.method, m.confidence, m.superseded, m.verified, m.created_at, m.verified_at
FROM correlation_mappings m
JOIN (
  SELECT item_number FROM correlation_mappings
  WHERE NOT superseded AND NOT verified
  GROUP BY item_number HAVING COUNT(*) > 1
  ORDER BY item_number LIMIT $1
) ambiguous USING (item_number)
WHERE NOT m.superseded
ORDER BY m.item_number, m.confidence DESC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		statuses []ItemStatus
		current  *ItemStatus
	)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.ItemNumber, &m.RentalClass, &m.Method, &m.Confidence, &m.Superseded, &m.Verified, &m.CreatedAt, &m.VerifiedAt); err != nil {
			return nil, err
		}
		if current == nil || current.ItemNumber != m.ItemNumber {
			statuses = append(statuses, ItemStatus{ItemNumber: m.ItemNumber, State: StateAmbiguous})
			current = &statuses[len(statuses)-1]
		}
		current.Candidates = append(current.Candidates, m)
	}
	return statuses, rows.Err()
}

// CreateManual inserts an operator mapping: verified, confidence 1.0, and
// it supersedes every other active candidate for the item.
func (r *Repository) CreateManual(ctx context.Context, itemNumber, rentalClass string) (Mapping, error) {
	var mapping Mapping
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var verifiedExists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM correlation_mappings WHERE item_number=$1 AND verified AND rental_class <> $2)`,
			itemNumber, rentalClass).Scan(&verifiedExists); err != nil {
			return err
		}
		if verifiedExists {
			return ErrVerifiedConflict
		}
		if _, err := tx.Exec(ctx, `UPDATE correlation_mappings SET superseded=TRUE
WHERE item_number=$1 AND rental_class <> $2 AND NOT superseded`, itemNumber, rentalClass); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `INSERT INTO correlation_mappings (item_number, rental_class, method, confidence, superseded, verified, created_at, verified_at)
VALUES ($1,$2,$3,1.0,FALSE,TRUE,NOW(),NOW())
ON CONFLICT (item_number, rental_class) DO UPDATE SET
method=$3, confidence=1.0, superseded=FALSE, verified=TRUE, verified_at=NOW()
RETURNING id, item_number, rental_class, method, confidence, superseded, verified, created_at, verified_at`,
			itemNumber, rentalClass, string(MethodManual)).Scan(
			&mapping.ID, &mapping.ItemNumber, &mapping.RentalClass, &mapping.Method, &mapping.Confidence,
			&mapping.Superseded, &mapping.Verified, &mapping.CreatedAt, &mapping.VerifiedAt)
	})
	if err != nil {
		return Mapping{}, err
	}
	return mapping, nil
}

// Verify flags an existing mapping as the human-confirmed answer for its
// item and supersedes the other candidates.
func (r *Repository) Verify(ctx context.Context, id int64) (Mapping, error) {
	var mapping Mapping
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT id, item_number, rental_class, method, confidence, superseded, verified, created_at, verified_at
FROM correlation_mappings WHERE id=$1 FOR UPDATE`, id).Scan(
			&mapping.ID, &mapping.ItemNumber, &mapping.RentalClass, &mapping.Method, &mapping.Confidence,
			&mapping.Superseded, &mapping.Verified, &mapping.CreatedAt, &mapping.VerifiedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrMappingNotFound
			}
			return err
		}
		var verifiedExists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM correlation_mappings WHERE item_number=$1 AND verified AND id <> $2)`,
			mapping.ItemNumber, id).Scan(&verifiedExists); err != nil {
			return err
		}
		if verifiedExists {
			return ErrVerifiedConflict
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE correlation_mappings SET verified=TRUE, superseded=FALSE, verified_at=$2 WHERE id=$1`, id, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE correlation_mappings SET superseded=TRUE
WHERE item_number=$1 AND id <> $2 AND NOT superseded`, mapping.ItemNumber, id); err != nil {
			return err
		}
		mapping.Verified = true
		mapping.Superseded = false
		mapping.VerifiedAt = &now
		return nil
	})
	if err != nil {
		return Mapping{}, err
	}
	return mapping, nil
}
