package model

import "time"

// Tenant is an organization: the unit of isolation and billing.
type Tenant struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Plan      string    `db:"plan"`       // free|pro|enterprise
	PlanLimit int       `db:"plan_limit"` // metered requests per billing cycle
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
