// Package ledger is the billing-accuracy-critical core: it owns quota
// reservation against the current billing cycle, settlement of completed
// requests, and compensation of reservations on server faults.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/model"
	"github.com/xeo-systems/org-platform/internal/repository"
	"github.com/xeo-systems/org-platform/internal/util"
)

const (
	// UsageTopic is the Kafka topic the outbox relay publishes usage
	// envelopes to.
	UsageTopic = "usage.events"

	outboxAggregate = "usage_event"
)

// Reservation reports the outcome of a quota reservation.
type Reservation struct {
	Reserved bool
	Used     int // cycle consumption before this reservation
	Limit    int
}

// Ledger composes the usage repositories into atomic reserve/settle
// operations. The relational store is the sole arbiter of quota
// correctness; nothing here is cached between calls.
type Ledger struct {
	db      *sqlx.DB
	tenants repository.TenantsRepository
	subs    repository.SubscriptionsRepository
	usage   repository.UsageRepository
	outbox  repository.OutboxRepository
	log     *zap.Logger

	now func() time.Time
}

func New(
	db *sqlx.DB,
	tenants repository.TenantsRepository,
	subs repository.SubscriptionsRepository,
	usage repository.UsageRepository,
	outbox repository.OutboxRepository,
	log *zap.Logger,
) *Ledger {
	return &Ledger{
		db:      db,
		tenants: tenants,
		subs:    subs,
		usage:   usage,
		outbox:  outbox,
		log:     log,
		now:     time.Now,
	}
}

// resolveCycleStart returns the authoritative quota window start: the most
// recently created subscription's period start, else start of the current
// UTC day for tenants with no subscription. Re-evaluated on every
// reservation because a subscription's period can change between calls.
func (l *Ledger) resolveCycleStart(ctx context.Context, tx *sqlx.Tx, tenantID int64) (time.Time, error) {
	start, err := l.subs.LatestPeriodStart(ctx, tx, tenantID)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve cycle start: %w", err)
	}
	if start == nil {
		return model.UTCDay(l.now()), nil
	}
	return start.UTC(), nil
}

// Reserve atomically checks the tenant's cycle consumption against its plan
// limit and pre-increments today's rollup. The tenant row is read FOR
// UPDATE, so concurrent reservations for one tenant serialize: at a quota
// boundary of N, exactly N-used concurrent requests are admitted and the
// rest observe the committed increments and are rejected.
//
// Failure modes surface as *apierror.Error: NOT_FOUND when the tenant is
// gone, RATE_LIMIT when the quota is exhausted. Anything else is a storage
// fault; the transaction rolls back and no reservation is left behind.
func (l *Ledger) Reserve(ctx context.Context, tenantID int64) (Reservation, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tenant, err := l.tenants.GetForUpdate(ctx, tx, tenantID)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve lock tenant: %w", err)
	}
	if tenant == nil {
		return Reservation{}, apierror.NotFound("tenant not found")
	}

	cycleStart, err := l.resolveCycleStart(ctx, tx, tenantID)
	if err != nil {
		return Reservation{}, err
	}

	used, err := l.usage.SumRollupSince(ctx, tx, tenantID, model.MetricAPIRequest, cycleStart)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve sum cycle: %w", err)
	}

	if used >= tenant.PlanLimit {
		// Rolls back: no reservation is made for a rejected request.
		return Reservation{Used: used, Limit: tenant.PlanLimit},
			apierror.RateLimit("usage limit exceeded", secondsToNextUTCDay(l.now()))
	}

	if err := l.usage.UpsertRollup(ctx, tx, tenantID, model.MetricAPIRequest, l.now(), 1); err != nil {
		return Reservation{}, fmt.Errorf("reserve rollup upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Reservation{}, fmt.Errorf("reserve commit: %w", err)
	}
	return Reservation{Reserved: true, Used: used, Limit: tenant.PlanLimit}, nil
}

// Settle finalizes a metered request after its response is known.
//
// A reservation followed by a server fault must not bill the tenant: the
// reserve-time increment is compensated and no event is recorded. Every
// other outcome appends one immutable usage event (plus an outbox envelope
// for the analytics pipeline) and, when no reservation preceded it, also
// increments the tenant-wide rollup. The per-credential rollup feeds only
// the key-level limit and moves on every non-fault outcome.
func (l *Ledger) Settle(ctx context.Context, tenantID int64, credentialID string, reserved bool, responseStatus int, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	now := l.now()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settle begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reserved && responseStatus >= 500 {
		if err := l.usage.DecrementRollup(ctx, tx, tenantID, model.MetricAPIRequest, now, quantity); err != nil {
			return fmt.Errorf("settle compensate: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("settle commit: %w", err)
		}
		return nil
	}

	ev := model.UsageEvent{
		ID:           util.NewULID(),
		TenantID:     tenantID,
		CredentialID: credentialID,
		Metric:       model.MetricAPIRequest,
		Quantity:     quantity,
		CreatedAt:    now.UTC(),
	}
	if err := l.usage.InsertEvent(ctx, tx, ev); err != nil {
		return fmt.Errorf("settle event insert: %w", err)
	}

	payload, err := json.Marshal(model.Envelope{
		ID:           ev.ID,
		TenantID:     tenantID,
		CredentialID: credentialID,
		Metric:       ev.Metric,
		Quantity:     quantity,
		OccurredAt:   ev.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("settle envelope marshal: %w", err)
	}
	if err := l.outbox.Insert(ctx, tx, outboxAggregate, ev.ID, UsageTopic, payload); err != nil {
		return fmt.Errorf("settle outbox insert: %w", err)
	}

	if !reserved {
		// Defensive: the gate always reserves first, but a settle without
		// a reservation still has to reach the billable rollup.
		if err := l.usage.UpsertRollup(ctx, tx, tenantID, model.MetricAPIRequest, now, quantity); err != nil {
			return fmt.Errorf("settle rollup upsert: %w", err)
		}
	}

	if err := l.usage.UpsertRollup(ctx, tx, tenantID, model.CredentialMetric(credentialID), now, quantity); err != nil {
		return fmt.Errorf("settle credential rollup upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settle commit: %w", err)
	}
	return nil
}

// CycleUsage reports current consumption for the usage surface: a plain
// read outside any lock, resolved against the same cycle rules as Reserve.
func (l *Ledger) CycleUsage(ctx context.Context, tenantID int64) (used, limit int, cycleStart time.Time, err error) {
	tenant, err := l.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	if tenant == nil {
		return 0, 0, time.Time{}, apierror.NotFound("tenant not found")
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cycleStart, err = l.resolveCycleStart(ctx, tx, tenantID)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	used, err = l.usage.SumRollupSince(ctx, tx, tenantID, model.MetricAPIRequest, cycleStart)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, time.Time{}, err
	}
	return used, tenant.PlanLimit, cycleStart, nil
}

// CredentialUsageToday reads the per-credential rollup for the current UTC
// day; the authenticator's optional daily cap consults this.
func (l *Ledger) CredentialUsageToday(ctx context.Context, tenantID int64, credentialID string) (int, error) {
	return l.usage.RollupQuantity(ctx, tenantID, model.CredentialMetric(credentialID), l.now())
}

func secondsToNextUTCDay(now time.Time) int {
	next := model.UTCDay(now).Add(24 * time.Hour)
	return int(next.Sub(now.UTC()).Seconds()) + 1
}
