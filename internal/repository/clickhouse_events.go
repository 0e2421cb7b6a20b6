package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/xeo-systems/org-platform/internal/model"
)

// CHEventsRepository reads and batch-writes usage events in ClickHouse, the
// analytics sink fed by the exporter worker.
type CHEventsRepository interface {
	ListByTenant(ctx context.Context, tenantID int64, metric string, limit, offset int) ([]model.UsageEvent, error)
	InsertBatch(ctx context.Context, events []model.Envelope) error
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

func (r *chEventsRepository) ListByTenant(ctx context.Context, tenantID int64, metric string, limit, offset int) ([]model.UsageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, tenant_id, credential_id, metric, quantity, occurred_at AS created_at
		FROM orgpl.usage_events
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if metric != "" {
		q += " AND metric = ?"
		args = append(args, metric)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.UsageEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertBatch lands a batch of usage envelopes in a single statement.
// ClickHouse inserts are not transactional; the pipeline is at-least-once
// and the table deduplicates on the event ULID.
func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.Envelope) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(events)*6)

	sb.WriteString(`INSERT INTO orgpl.usage_events (id, tenant_id, credential_id, metric, quantity, occurred_at) VALUES `)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, ev.ID, ev.TenantID, ev.CredentialID, ev.Metric, ev.Quantity, ev.OccurredAt)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}
