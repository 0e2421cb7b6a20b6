package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/xeo-systems/org-platform/internal/config"
	"github.com/xeo-systems/org-platform/internal/db"
	"github.com/xeo-systems/org-platform/internal/model"
	"github.com/xeo-systems/org-platform/internal/secret"
	"github.com/xeo-systems/org-platform/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants and API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo tenants...")

		if err := seedTenants(sqlDB, cfg.Auth.SecretPrefix); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

type seedTenant struct {
	name      string
	plan      string
	planLimit int
}

// seedTenants inserts deterministic demo tenants (idempotent on name) and
// issues one API key each, printed exactly once.
func seedTenants(dbx *sqlx.DB, keyPrefix string) error {
	tenants := []seedTenant{
		{name: "Acme Corp", plan: "pro", planLimit: 5000},
		{name: "Foobar LLC", plan: "free", planLimit: 1000},
		{name: "Beta Testers", plan: "free", planLimit: 100},
		{name: "Enterprise Partner", plan: "enterprise", planLimit: 100000},
	}

	const upsertTenant = `
INSERT INTO tenants (name, plan, plan_limit, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    plan       = VALUES(plan),
    plan_limit = VALUES(plan_limit),
    updated_at = VALUES(updated_at)
`
	const insertKey = `
INSERT INTO credentials (id, tenant_id, prefix, secret_hash, name, created_at)
VALUES (?, ?, ?, ?, 'seed', ?)
`

	ctx := context.Background()
	now := time.Now()

	for _, t := range tenants {
		res, err := dbx.ExecContext(ctx, upsertTenant, t.name, t.plan, t.planLimit, now, now)
		if err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.name, err)
		}
		tenantID, err := res.LastInsertId()
		if err != nil || tenantID == 0 {
			// updated, not inserted: already seeded, keep the old key
			continue
		}

		issued, err := secret.Issue(keyPrefix)
		if err != nil {
			return fmt.Errorf("issue key for %q: %w", t.name, err)
		}
		if _, err := dbx.ExecContext(ctx, insertKey,
			util.NewULID(), tenantID, issued.Prefix, issued.Hash, now); err != nil {
			return fmt.Errorf("insert key for %q: %w", t.name, err)
		}
		log.Printf(">> tenant=%q id=%d metric=%s key=%s (store this now, it is not shown again)",
			t.name, tenantID, model.MetricAPIRequest, issued.Plaintext)
	}
	return nil
}
