package middleware

import (
	"context"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/ledger"
	"github.com/xeo-systems/org-platform/internal/metrics"
)

// UsageLedger is the gate's view of the ledger.
type UsageLedger interface {
	Reserve(ctx context.Context, tenantID int64) (ledger.Reservation, error)
	Settle(ctx context.Context, tenantID int64, credentialID string, reserved bool, responseStatus int, quantity int) error
}

// RequestGate composes the billable pipeline around the downstream handler:
// quota reservation before it runs, settlement after the response outcome
// is known. It runs after APIKeyAuth, so invalid credentials are rejected
// before quota is ever consulted.
//
// Requests without an API-credential identity (dashboard/admin traffic)
// bypass the gate entirely. The bypass keys off the identity, not the
// route, so newly added routes cannot drift into unbilled metering.
func RequestGate(l UsageLedger, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, ok := IdentityFromCtx(c)
			if !ok {
				return next(c)
			}

			res, err := l.Reserve(c.Request().Context(), ident.TenantID)
			if err != nil {
				var apiErr *apierror.Error
				if errors.As(err, &apiErr) {
					if apiErr.Code == apierror.CodeRateLimit {
						metrics.GateRequestsTotal.WithLabelValues("quota_rejected").Inc()
					}
					return apiErr
				}
				log.Error("usage reservation failed",
					zap.Int64("tenant_id", ident.TenantID), zap.Error(err))
				return apierror.Internal("usage accounting unavailable")
			}
			metrics.GateRequestsTotal.WithLabelValues("admitted").Inc()

			// Settlement is the response-lifecycle step: it fires whether
			// the handler returned, threw, or panicked, so failures that
			// skip past the handler still settle (a panic settles as 500
			// and compensates the reservation). The settle transaction is
			// detached from request cancellation: an aborted handler must
			// not also abort its own compensation. Settle failures are
			// logged and never reach the client, who already has a real
			// response.
			var handlerErr error
			defer func() {
				rec := recover()
				status := responseStatus(c, handlerErr)
				if rec != nil {
					status = http.StatusInternalServerError
				}
				ctx := context.WithoutCancel(c.Request().Context())
				if err := l.Settle(ctx, ident.TenantID, ident.CredentialID, res.Reserved, status, 1); err != nil {
					metrics.SettlementsTotal.WithLabelValues("error").Inc()
					log.Error("usage settlement failed",
						zap.Int64("tenant_id", ident.TenantID),
						zap.String("credential_id", ident.CredentialID),
						zap.Int("status", status),
						zap.Bool("reserved", res.Reserved),
						zap.Error(err))
				} else if res.Reserved && status >= 500 {
					metrics.SettlementsTotal.WithLabelValues("compensated").Inc()
				} else {
					metrics.SettlementsTotal.WithLabelValues("recorded").Inc()
				}
				if rec != nil {
					panic(rec)
				}
			}()

			handlerErr = next(c)
			return handlerErr
		}
	}
}

// responseStatus derives the status settlement will observe. When the
// handler returned an error the response is not committed yet, so the
// status comes from the error itself.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus()
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}
