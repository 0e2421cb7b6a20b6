package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/http/middleware"
	"github.com/xeo-systems/org-platform/internal/ledger"
	"github.com/xeo-systems/org-platform/internal/repository"
)

type usageSummary struct {
	TenantID   int64     `json:"tenant_id"`
	CycleStart time.Time `json:"cycle_start"`
	Used       int       `json:"used"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
}

// usageSummaryHandler reports current-cycle consumption from the rollups,
// behind a short redis TTL. The cache is a convenience for dashboards; the
// quota decision in the gate always reads the store directly.
func usageSummaryHandler(l *ledger.Ledger, rds *redis.Client, ttl time.Duration, log *zap.Logger) echo.HandlerFunc {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return func(c echo.Context) error {
		ident, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return apierror.Unauthorized("invalid API key")
		}

		cacheKey := "usage:summary:" + strconv.FormatInt(ident.TenantID, 10)
		if rds != nil {
			if cached, err := rds.Get(c.Request().Context(), cacheKey).Bytes(); err == nil {
				return c.JSONBlob(http.StatusOK, cached)
			}
		}

		used, limit, cycleStart, err := l.CycleUsage(c.Request().Context(), ident.TenantID)
		if err != nil {
			if apiErr, ok := err.(*apierror.Error); ok {
				return apiErr
			}
			log.Error("usage summary failed",
				zap.Int64("tenant_id", ident.TenantID), zap.Error(err))
			return apierror.Internal("usage unavailable")
		}

		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		out := usageSummary{
			TenantID:   ident.TenantID,
			CycleStart: cycleStart,
			Used:       used,
			Limit:      limit,
			Remaining:  remaining,
		}

		if rds != nil {
			if blob, err := json.Marshal(out); err == nil {
				_ = rds.Set(c.Request().Context(), cacheKey, blob, ttl).Err()
			}
		}
		return c.JSON(http.StatusOK, out)
	}
}

// listEventsHandler lists fine-grained usage events from ClickHouse.
func listEventsHandler(chRepo repository.CHEventsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return apierror.Unauthorized("invalid API key")
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		metric := strings.TrimSpace(c.QueryParam("metric"))

		events, err := chRepo.ListByTenant(c.Request().Context(), ident.TenantID, metric, limit, offset)
		if err != nil {
			log.Error("clickhouse event listing failed",
				zap.Int64("tenant_id", ident.TenantID), zap.Error(err))
			return apierror.Internal("event listing unavailable")
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
