package model

import "time"

// Subscription is read-only for this service: the billing collaborator owns
// it, the ledger only consumes the most recent period start.
type Subscription struct {
	ID                 int64     `db:"id"`
	TenantID           int64     `db:"tenant_id"`
	CurrentPeriodStart time.Time `db:"current_period_start"`
	CreatedAt          time.Time `db:"created_at"`
}
