package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xeo-systems/org-platform/internal/model"
)

type CredentialsRepository interface {
	// FindForAuth returns the non-revoked candidates matching a lookup
	// prefix, scoped to the declared tenant. Scoping the query itself is
	// what makes cross-tenant use structurally impossible: a credential
	// issued under another tenant is simply never in the candidate set.
	FindForAuth(ctx context.Context, tenantID int64, prefix string) ([]model.Credential, error)

	Insert(ctx context.Context, c model.Credential) error
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type CredentialsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCredentialsRepository(db *sqlx.DB) *CredentialsRepositoryImpl {
	return &CredentialsRepositoryImpl{db: db}
}

var _ CredentialsRepository = (*CredentialsRepositoryImpl)(nil)

func (r *CredentialsRepositoryImpl) FindForAuth(ctx context.Context, tenantID int64, prefix string) ([]model.Credential, error) {
	var out []model.Credential
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, prefix, secret_hash, name, created_at, revoked_at, last_used_at
		  FROM credentials
		 WHERE tenant_id = ? AND prefix = ? AND revoked_at IS NULL
	`, tenantID, prefix)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CredentialsRepositoryImpl) Insert(ctx context.Context, c model.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, tenant_id, prefix, secret_hash, name, created_at)
		VALUES (?, ?, ?, ?, ?, NOW())
	`, c.ID, c.TenantID, c.Prefix, c.SecretHash, c.Name)
	return err
}

// Revoke is idempotent: a second call leaves the original timestamp.
func (r *CredentialsRepositoryImpl) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		   SET revoked_at = ?
		 WHERE id = ? AND revoked_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CredentialsRepositoryImpl) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET last_used_at = ? WHERE id = ?
	`, at.UTC(), id)
	return err
}
