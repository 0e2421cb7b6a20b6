package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type SubscriptionsRepository interface {
	// LatestPeriodStart returns the most recently created subscription's
	// current_period_start for a tenant, or nil when none exists. Called
	// inside the reserve transaction so the cycle is re-resolved on every
	// attempt, never cached.
	LatestPeriodStart(ctx context.Context, tx *sqlx.Tx, tenantID int64) (*time.Time, error)
}

type SubscriptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{db: db}
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

func (r *SubscriptionsRepositoryImpl) LatestPeriodStart(ctx context.Context, tx *sqlx.Tx, tenantID int64) (*time.Time, error) {
	var ts time.Time
	err := tx.QueryRowxContext(ctx, `
		SELECT current_period_start
		  FROM subscriptions
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1
	`, tenantID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
