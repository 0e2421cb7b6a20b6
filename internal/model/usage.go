package model

import "time"

// MetricAPIRequest is the tenant-wide billable metric.
const MetricAPIRequest = "api_request"

// CredentialMetric names the per-credential rollup metric. It feeds the
// key-level limit only and is never summed into billing totals.
func CredentialMetric(credentialID string) string {
	return "api_key:" + credentialID
}

// UsageEvent is an immutable fact: this credential consumed quantity units
// of metric at CreatedAt. Append-only; never updated or deleted.
type UsageEvent struct {
	ID           string    `db:"id"` // ULID
	TenantID     int64     `db:"tenant_id"`
	CredentialID string    `db:"credential_id"`
	Metric       string    `db:"metric"`
	Quantity     int       `db:"quantity"`
	CreatedAt    time.Time `db:"created_at"`
}

// UsageRollup is the mutable daily aggregate keyed by (tenant, metric, UTC day).
type UsageRollup struct {
	TenantID int64     `db:"tenant_id"`
	Metric   string    `db:"metric"`
	Day      time.Time `db:"day"`
	Quantity int       `db:"quantity"`
}

// UTCDay truncates t to UTC midnight, the bucketing used by every rollup
// read and write.
func UTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
