package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/xeo-systems/org-platform/internal/model"
)

type TenantsRepository interface {
	// GetForUpdate loads a tenant under a row lock. This is what serializes
	// concurrent reservations for the same tenant: MySQL has no
	// transaction-scoped advisory lock, so the tenant row itself is the
	// lock. Returns nil when the tenant does not exist.
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Tenant, error)

	GetByID(ctx context.Context, id int64) (*model.Tenant, error)
	Insert(ctx context.Context, name, plan string, planLimit int) (int64, error)
	UpdatePlan(ctx context.Context, id int64, plan string, planLimit int) (bool, error)
}

type TenantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantsRepository(db *sqlx.DB) *TenantsRepositoryImpl {
	return &TenantsRepositoryImpl{db: db}
}

var _ TenantsRepository = (*TenantsRepositoryImpl)(nil)

func (r *TenantsRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Tenant, error) {
	var t model.Tenant
	err := tx.GetContext(ctx, &t, `
		SELECT id, name, plan, plan_limit, created_at, updated_at
		  FROM tenants
		 WHERE id = ?
		 FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.GetContext(ctx, &t, `
		SELECT id, name, plan, plan_limit, created_at, updated_at
		  FROM tenants
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantsRepositoryImpl) Insert(ctx context.Context, name, plan string, planLimit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (name, plan, plan_limit, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
	`, name, plan, planLimit)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *TenantsRepositoryImpl) UpdatePlan(ctx context.Context, id int64, plan string, planLimit int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenants
		   SET plan = ?, plan_limit = ?, updated_at = NOW()
		 WHERE id = ?
	`, plan, planLimit, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
