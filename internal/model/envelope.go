package model

import "time"

// Envelope is the payload published to Kafka (via the Debezium outbox SMT)
// for every settled usage event, consumed by the exporter worker.
type Envelope struct {
	ID           string    `json:"id"` // usage event ULID
	TenantID     int64     `json:"tenant_id"`
	CredentialID string    `json:"credential_id"`
	Metric       string    `json:"metric"`
	Quantity     int       `json:"quantity"`
	OccurredAt   time.Time `json:"occurred_at"`
}
