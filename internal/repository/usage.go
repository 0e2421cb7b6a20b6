package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xeo-systems/org-platform/internal/model"
)

// UsageRepository owns the usage_events and usage_rollups tables.
// Transactional methods take an explicit *sqlx.Tx so the ledger composes
// them into single atomic reserve/settle transactions.
type UsageRepository interface {
	SumRollupSince(ctx context.Context, tx *sqlx.Tx, tenantID int64, metric string, since time.Time) (int, error)
	UpsertRollup(ctx context.Context, tx *sqlx.Tx, tenantID int64, metric string, day time.Time, quantity int) error
	DecrementRollup(ctx context.Context, tx *sqlx.Tx, tenantID int64, metric string, day time.Time, quantity int) error
	InsertEvent(ctx context.Context, tx *sqlx.Tx, ev model.UsageEvent) error

	// Non-transactional reads for the usage surface and the key daily cap.
	RollupQuantity(ctx context.Context, tenantID int64, metric string, day time.Time) (int, error)
	SumSince(ctx context.Context, tenantID int64, metric string, since time.Time) (int, error)
}

type UsageRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsageRepository(db *sqlx.DB) *UsageRepositoryImpl {
	return &UsageRepositoryImpl{db: db}
}

var _ UsageRepository = (*UsageRepositoryImpl)(nil)

func (r *UsageRepositoryImpl) SumRollupSince(ctx context.Context, tx *sqlx.Tx, tenantID int64, metric string, since time.Time) (int, error) {
	var total int
	err := tx.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		  FROM usage_rollups
		 WHERE tenant_id = ? AND metric = ? AND day >= ?
	`, tenantID, metric, model.UTCDay(since)).Scan(&total)
	return total, err
}

// UpsertRollup creates the (tenant, metric, day) row with quantity, or adds
// quantity to an existing row.
func (r *UsageRepositoryImpl) UpsertRollup(ctx context.Context, tx *sqlx.Tx, tenantID int64, metric string, day time.Time, quantity int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_rollups (tenant_id, metric, day, quantity)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)
	`, tenantID, metric, model.UTCDay(day), quantity)
	return err
}

// DecrementRollup compensates a prior reservation. It is an exact inverse of
// the reserve-time increment, not clamped at zero, so reserve+settle on a
// fault nets to the pre-request value.
func (r *UsageRepositoryImpl) DecrementRollup(ctx context.Context, tx *sqlx.Tx, tenantID int64, metric string, day time.Time, quantity int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE usage_rollups
		   SET quantity = quantity - ?
		 WHERE tenant_id = ? AND metric = ? AND day = ?
	`, quantity, tenantID, metric, model.UTCDay(day))
	return err
}

func (r *UsageRepositoryImpl) InsertEvent(ctx context.Context, tx *sqlx.Tx, ev model.UsageEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (id, tenant_id, credential_id, metric, quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.TenantID, ev.CredentialID, ev.Metric, ev.Quantity, ev.CreatedAt.UTC())
	return err
}

func (r *UsageRepositoryImpl) RollupQuantity(ctx context.Context, tenantID int64, metric string, day time.Time) (int, error) {
	var q int
	err := r.db.QueryRowxContext(ctx, `
		SELECT quantity FROM usage_rollups
		 WHERE tenant_id = ? AND metric = ? AND day = ?
	`, tenantID, metric, model.UTCDay(day)).Scan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return q, err
}

func (r *UsageRepositoryImpl) SumSince(ctx context.Context, tenantID int64, metric string, since time.Time) (int, error) {
	var total int
	err := r.db.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		  FROM usage_rollups
		 WHERE tenant_id = ? AND metric = ? AND day >= ?
	`, tenantID, metric, model.UTCDay(since)).Scan(&total)
	return total, err
}
