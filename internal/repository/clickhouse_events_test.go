package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeo-systems/org-platform/internal/model"
)

// The ClickHouse table stores the event timestamp as occurred_at; both the
// listing and the batch insert must address that column.

func TestCHEvents_ListByTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCHEventsRepository(db)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`occurred_at AS created_at\s+FROM orgpl\.usage_events`).
		WithArgs(int64(42), 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "credential_id", "metric", "quantity", "created_at"}).
			AddRow("01JC0EVENT1", int64(42), "01JC0KEY", model.MetricAPIRequest, 1, at))

	out, err := repo.ListByTenant(context.Background(), 42, "", 50, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "01JC0EVENT1", out[0].ID)
	assert.Equal(t, at, out[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEvents_ListByTenant_MetricFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCHEventsRepository(db)

	mock.ExpectQuery(`FROM orgpl\.usage_events\s+WHERE tenant_id = \? AND metric = \? ORDER BY occurred_at DESC`).
		WithArgs(int64(42), model.MetricAPIRequest, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "credential_id", "metric", "quantity", "created_at"}))

	out, err := repo.ListByTenant(context.Background(), 42, model.MetricAPIRequest, 10, 20)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEvents_InsertBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCHEventsRepository(db)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	events := []model.Envelope{
		{ID: "01JC0EVENT1", TenantID: 42, CredentialID: "01JC0KEY", Metric: model.MetricAPIRequest, Quantity: 1, OccurredAt: at},
		{ID: "01JC0EVENT2", TenantID: 42, CredentialID: "01JC0KEY", Metric: model.MetricAPIRequest, Quantity: 1, OccurredAt: at},
	}

	mock.ExpectExec(`INSERT INTO orgpl\.usage_events \(id, tenant_id, credential_id, metric, quantity, occurred_at\) VALUES \(\?, \?, \?, \?, \?, \?\),\(\?, \?, \?, \?, \?, \?\)`).
		WithArgs(
			"01JC0EVENT1", int64(42), "01JC0KEY", model.MetricAPIRequest, 1, at,
			"01JC0EVENT2", int64(42), "01JC0KEY", model.MetricAPIRequest, 1, at,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.InsertBatch(context.Background(), events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEvents_InsertBatch_EmptyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCHEventsRepository(db)

	require.NoError(t, repo.InsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
