package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentalpulse/rentalpulse/internal/platform/db"
)

// Repository persists import batches, period metrics and the equipment
// catalog in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateBatch inserts a new running batch.
func (r *Repository) CreateBatch(ctx context.Context, batch Batch) error {
	if r == nil {
		return errors.New("importer repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO import_batches (id, source_type, source_file, status, started_at)
VALUES ($1, $2, $3, $4, $5)`, batch.ID, string(batch.SourceType), batch.SourceFile, string(batch.Status), batch.StartedAt)
	return err
}

// FinishBatch records the terminal state of a batch together with its
// counters and the first skipped-row reasons.
func (r *Repository) FinishBatch(ctx context.Context, id string, status BatchStatus, counters Counters, lastError string, skips []RowSkip) error {
	skipJSON, err := json.Marshal(skips)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE import_batches
SET status=$2, completed_at=NOW(), processed=$3, inserted=$4, updated=$5, skipped=$6, last_error=$7, skip_details=$8
WHERE id=$1`, id, string(status), counters.Processed, counters.Inserted, counters.Updated, counters.Skipped, lastError, skipJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// GetBatch loads one batch by identifier.
func (r *Repository) GetBatch(ctx context.Context, id string) (Batch, error) {
	var (
		batch    Batch
		skipJSON []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT id, source_type, source_file, status, started_at, completed_at, processed, inserted, updated, skipped, last_error, skip_details
FROM import_batches WHERE id=$1`, id).Scan(
		&batch.ID, &batch.SourceType, &batch.SourceFile, &batch.Status, &batch.StartedAt, &batch.CompletedAt,
		&batch.Counters.Processed, &batch.Counters.Inserted, &batch.Counters.Updated, &batch.Counters.Skipped,
		&batch.LastError, &skipJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	if len(skipJSON) > 0 {
		if err := json.Unmarshal(skipJSON, &batch.SkipDetails); err != nil {
			return Batch{}, fmt.Errorf("importer: decode skip details: %w", err)
		}
	}
	return batch, nil
}

// ListBatches returns recent batches newest first plus the total count.
func (r *Repository) ListBatches(ctx context.Context, limit, offset int) ([]Batch, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_batches`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, source_type, source_file, status, started_at, completed_at, processed, inserted, updated, skipped, last_error
FROM import_batches ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var batch Batch
		if err := rows.Scan(&batch.ID, &batch.SourceType, &batch.SourceFile, &batch.Status, &batch.StartedAt, &batch.CompletedAt,
			&batch.Counters.Processed, &batch.Counters.Inserted, &batch.Counters.Updated, &batch.Counters.Skipped, &batch.LastError); err != nil {
			return nil, 0, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// HasCompletedBatchForFile reports whether a file name already imported
// successfully for a source type. Used by the drop-directory scanner.
func (r *Repository) HasCompletedBatchForFile(ctx context.Context, sourceType SourceType, sourceFile string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM import_batches WHERE source_type=$1 AND source_file=$2 AND status=$3)`,
		string(sourceType), sourceFile, string(BatchStatusCompleted)).Scan(&exists)
	return exists, err
}

// UpsertPeriod writes one period record using the idempotent upsert keyed
// by (source type, period-end date, location code). The uniqueness
// constraint in the schema backstops crashed or retried imports.
func (r *Repository) UpsertPeriod(ctx context.Context, record PeriodRecord) (UpsertResult, error) {
	result := UpsertUnchanged
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var existing Metrics
		err := tx.QueryRow(ctx, `SELECT revenue, rental_revenue, contract_count, reservation_total, payroll_cost, wage_hours
FROM period_metrics WHERE source_type=$1 AND period_ending=$2 AND location_code=$3 FOR UPDATE`,
			string(record.SourceType), record.PeriodEnding, record.LocationCode).Scan(
			&existing.Revenue, &existing.RentalRevenue, &existing.ContractCount,
			&existing.ReservationTotal, &existing.PayrollCost, &existing.WageHours)
		if errors.Is(err, pgx.ErrNoRows) {
			result = UpsertInserted
			m := record.Metrics
			_, err = tx.Exec(ctx, `INSERT INTO period_metrics
(source_type, period_ending, location_code, revenue, rental_revenue, contract_count, reservation_total, payroll_cost, wage_hours, batch_id, imported_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (source_type, period_ending, location_code) DO UPDATE SET
revenue=EXCLUDED.revenue, rental_revenue=EXCLUDED.rental_revenue, contract_count=EXCLUDED.contract_count,
reservation_total=EXCLUDED.reservation_total, payroll_cost=EXCLUDED.payroll_cost, wage_hours=EXCLUDED.wage_hours,
batch_id=EXCLUDED.batch_id, imported_at=NOW()`,
				string(record.SourceType), record.PeriodEnding, record.LocationCode,
				m.Revenue, m.RentalRevenue, m.ContractCount, m.ReservationTotal, m.PayrollCost, m.WageHours, record.BatchID)
			return err
		}
		if err != nil {
			return err
		}
		if existing.Equal(record.Metrics) {
			result = UpsertUnchanged
			return nil
		}
		result = UpsertUpdated
		m := record.Metrics
		_, err = tx.Exec(ctx, `UPDATE period_metrics SET
revenue=$4, rental_revenue=$5, contract_count=$6, reservation_total=$7, payroll_cost=$8, wage_hours=$9, batch_id=$10, imported_at=NOW()
WHERE source_type=$1 AND period_ending=$2 AND location_code=$3`,
			string(record.SourceType), record.PeriodEnding, record.LocationCode,
			m.Revenue, m.RentalRevenue, m.ContractCount, m.ReservationTotal, m.PayrollCost, m.WageHours, record.BatchID)
		return err
	})
	if err != nil {
		return UpsertUnchanged, err
	}
	return result, nil
}

// UpsertEquipment replaces the catalog snapshot for one item number.
func (r *Repository) UpsertEquipment(ctx context.Context, record EquipmentRecord) (UpsertResult, error) {
	result := UpsertUnchanged
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var existing EquipmentRecord
		err := tx.QueryRow(ctx, `SELECT name, category, sub_category, location_code, quantity, sell_price, rental_rate, inactive
FROM equipment_items WHERE item_number=$1 FOR UPDATE`, record.ItemNumber).Scan(
			&existing.Name, &existing.Category, &existing.SubCategory, &existing.LocationCode,
			&existing.Quantity, &existing.SellPrice, &existing.RentalRate, &existing.Inactive)
		if errors.Is(err, pgx.ErrNoRows) {
			result = UpsertInserted
			_, err = tx.Exec(ctx, `INSERT INTO equipment_items
(item_number, name, category, sub_category, location_code, quantity, sell_price, rental_rate, inactive, batch_id, imported_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (item_number) DO UPDATE SET
name=EXCLUDED.name, category=EXCLUDED.category, sub_category=EXCLUDED.sub_category, location_code=EXCLUDED.location_code,
quantity=EXCLUDED.quantity, sell_price=EXCLUDED.sell_price, rental_rate=EXCLUDED.rental_rate, inactive=EXCLUDED.inactive,
batch_id=EXCLUDED.batch_id, imported_at=NOW()`,
				record.ItemNumber, record.Name, record.Category, record.SubCategory, record.LocationCode,
				record.Quantity, record.SellPrice, record.RentalRate, record.Inactive, record.BatchID)
			return err
		}
		if err != nil {
			return err
		}
		if existing.Name == record.Name && existing.Category == record.Category && existing.SubCategory == record.SubCategory &&
			existing.LocationCode == record.LocationCode && existing.Quantity == record.Quantity &&
			existing.SellPrice == record.SellPrice && existing.RentalRate == record.RentalRate && existing.Inactive == record.Inactive {
			result = UpsertUnchanged
			return nil
		}
		result = UpsertUpdated
		_, err = tx.Exec(ctx, `UPDATE equipment_items SET
name=$2, category=$3, sub_category=$4, location_code=$5, quantity=$6, sell_price=$7, rental_rate=$8, inactive=$9, batch_id=$10, imported_at=NOW()
WHERE item_number=$1`,
			record.ItemNumber, record.Name, record.Category, record.SubCategory, record.LocationCode,
			record.Quantity, record.SellPrice, record.RentalRate, record.Inactive, record.BatchID)
		return err
	})
	if err != nil {
		return UpsertUnchanged, err
	}
	return result, nil
}

// RollbackBatch reverts all rows still owned by the batch and marks it
// rolled back. Rows re-imported later carry the later batch identifier and
// survive.
func (r *Repository) RollbackBatch(ctx context.Context, batchID string) (periodsDeleted, equipmentDeleted int64, err error) {
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM import_batches WHERE id=$1 FOR UPDATE`, batchID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBatchNotFound
			}
			return err
		}
		if BatchStatus(status) == BatchStatusRunning || BatchStatus(status) == BatchStatusRolledBack {
			return ErrBatchNotRollbackable
		}
		tag, err := tx.Exec(ctx, `DELETE FROM period_metrics WHERE batch_id=$1`, batchID)
		if err != nil {
			return err
		}
		periodsDeleted = tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM equipment_items WHERE batch_id=$1`, batchID)
		if err != nil {
			return err
		}
		equipmentDeleted = tag.RowsAffected()
		_, err = tx.Exec(ctx, `UPDATE import_batches SET status=$2 WHERE id=$1`, batchID, string(BatchStatusRolledBack))
		return err
	})
	return periodsDeleted, equipmentDeleted, err
}

// ListPeriods serves the dashboard query boundary.
func (r *Repository) ListPeriods(ctx context.Context, filter PeriodFilter) ([]PeriodRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT source_type, period_ending, location_code, revenue, rental_revenue, contract_count, reservation_total, payroll_cost, wage_hours, batch_id
FROM period_metrics
WHERE ($1 = '' OR source_type = $1)
  AND ($2 = '' OR location_code = $2)
  AND period_ending BETWEEN COALESCE(NULLIF($3, '0001-01-01')::date, '-infinity') AND COALESCE(NULLIF($4, '0001-01-01')::date, 'infinity')
ORDER BY period_ending ASC, location_code ASC
LIMIT $5`, string(filter.SourceType), filter.LocationCode, formatDate(filter.From), formatDate(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []PeriodRecord{}
	for rows.Next() {
		var record PeriodRecord
		if err := rows.Scan(&record.SourceType, &record.PeriodEnding, &record.LocationCode,
			&record.Metrics.Revenue, &record.Metrics.RentalRevenue, &record.Metrics.ContractCount,
			&record.Metrics.ReservationTotal, &record.Metrics.PayrollCost, &record.Metrics.WageHours, &record.BatchID); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "0001-01-01"
	}
	return t.Format("2006-01-02")
}

// IsTransientError classifies storage failures worth a bounded retry:
// serialization conflicts, deadlocks, lock waits and connection saturation.
func IsTransientError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "53300":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
