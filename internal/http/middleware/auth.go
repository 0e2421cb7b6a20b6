package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/metrics"
	"github.com/xeo-systems/org-platform/internal/model"
	"github.com/xeo-systems/org-platform/internal/ratelimit"
	"github.com/xeo-systems/org-platform/internal/repository"
	"github.com/xeo-systems/org-platform/internal/secret"
)

// HeaderOrgID declares the tenant a request claims to act for. Credential
// lookup is scoped to it; a key issued under another tenant never matches.
const HeaderOrgID = "X-Org-ID"

const ctxIdentity = "orgpl_identity"

// Identity is the verified credential attached to a request by APIKeyAuth.
// Its presence is what makes a request billable: the gate and the usage
// handlers key off it, never off the route path.
type Identity struct {
	TenantID     int64
	CredentialID string
}

// IdentityFromCtx extracts the identity set by APIKeyAuth.
func IdentityFromCtx(c echo.Context) (Identity, bool) {
	id, ok := c.Get(ctxIdentity).(Identity)
	return id, ok
}

// SetIdentity attaches a verified identity to the request context.
func SetIdentity(c echo.Context, id Identity) {
	c.Set(ctxIdentity, id)
}

// KeyUsageReader is the ledger surface the authenticator consults for the
// optional per-credential daily cap. Read-only.
type KeyUsageReader interface {
	CredentialUsageToday(ctx context.Context, tenantID int64, credentialID string) (int, error)
}

// AuthConfig wires the key authenticator.
type AuthConfig struct {
	Credentials  repository.CredentialsRepository
	Limiter      *ratelimit.Limiter
	KeyUsage     KeyUsageReader
	SecretPrefix string
	// KeyLimit/KeyWindow bound the in-process fixed-window limit per
	// credential; KeyLimit <= 0 disables it.
	KeyLimit  int
	KeyWindow time.Duration
	// KeyDailyLimit caps a credential's daily rollup; <= 0 disables it.
	KeyDailyLimit int
	Log           *zap.Logger
}

// errInvalidKey is deliberately the one shape every authentication failure
// takes: missing header, malformed token, unknown key, revoked key and
// wrong-tenant key are indistinguishable to the caller. Every call site is a
// rejection, so the counter moves here.
func errInvalidKey() *apierror.Error {
	metrics.GateRequestsTotal.WithLabelValues("unauthorized").Inc()
	return apierror.Unauthorized("invalid API key")
}

// APIKeyAuth resolves a bearer credential to a verified tenant+key identity.
func APIKeyAuth(cfg AuthConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || !secret.WellFormed(token, cfg.SecretPrefix) {
				return errInvalidKey()
			}

			tenantID, err := strconv.ParseInt(strings.TrimSpace(c.Request().Header.Get(HeaderOrgID)), 10, 64)
			if err != nil || tenantID <= 0 {
				return errInvalidKey()
			}

			// Prefix lookup narrows to a small candidate set; the final
			// match is always the constant-time digest comparison.
			candidates, err := cfg.Credentials.FindForAuth(c.Request().Context(), tenantID, secret.Prefix(token))
			if err != nil {
				cfg.Log.Error("credential lookup failed",
					zap.Int64("tenant_id", tenantID), zap.Error(err))
				return apierror.Internal("authentication unavailable")
			}

			var matched *model.Credential
			for i := range candidates {
				if secret.Verify(token, candidates[i].SecretHash) {
					matched = &candidates[i]
					break
				}
			}
			if matched == nil {
				return errInvalidKey()
			}

			SetIdentity(c, Identity{TenantID: matched.TenantID, CredentialID: matched.ID})

			// Best-effort, off the critical path: a failure to record
			// last-used never fails authentication.
			go func(id string) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := cfg.Credentials.TouchLastUsed(ctx, id, time.Now()); err != nil {
					cfg.Log.Warn("last-used update failed",
						zap.String("credential_id", id), zap.Error(err))
				}
			}(matched.ID)

			if rlErr := cfg.Limiter.Enforce(
				ratelimit.ScopeAPIKey,
				[]string{strconv.FormatInt(matched.TenantID, 10), matched.ID},
				cfg.KeyLimit, cfg.KeyWindow,
				"API key rate limit exceeded",
			); rlErr != nil {
				metrics.GateRequestsTotal.WithLabelValues("throttled").Inc()
				return rlErr
			}

			if cfg.KeyDailyLimit > 0 && cfg.KeyUsage != nil {
				used, err := cfg.KeyUsage.CredentialUsageToday(c.Request().Context(), matched.TenantID, matched.ID)
				if err != nil {
					// Abuse guard only; billing-accurate quota is the
					// ledger's job. Log and admit.
					cfg.Log.Warn("key daily usage read failed",
						zap.String("credential_id", matched.ID), zap.Error(err))
				} else if used >= cfg.KeyDailyLimit {
					metrics.GateRequestsTotal.WithLabelValues("throttled").Inc()
					return apierror.RateLimit("API key daily limit exceeded", secondsToNextUTCDay(time.Now()))
				}
			}

			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func secondsToNextUTCDay(now time.Time) int {
	next := model.UTCDay(now).Add(24 * time.Hour)
	return int(next.Sub(now.UTC()).Seconds()) + 1
}
