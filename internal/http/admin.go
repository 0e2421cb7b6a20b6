package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/model"
	"github.com/xeo-systems/org-platform/internal/repository"
	"github.com/xeo-systems/org-platform/internal/secret"
	"github.com/xeo-systems/org-platform/internal/util"
)

type createTenantReq struct {
	Name      string `json:"name"`
	Plan      string `json:"plan"`
	PlanLimit int    `json:"plan_limit"`
}

func createTenantHandler(tenants repository.TenantsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTenantReq
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "bad request")
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || req.PlanLimit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
		if req.Plan == "" {
			req.Plan = "free"
		}

		id, err := tenants.Insert(c.Request().Context(), req.Name, req.Plan, req.PlanLimit)
		if err != nil {
			log.Error("create tenant failed", zap.String("name", req.Name), zap.Error(err))
			return apierror.Internal("tenant creation failed")
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"id":         id,
			"name":       req.Name,
			"plan":       req.Plan,
			"plan_limit": req.PlanLimit,
		})
	}
}

type updatePlanReq struct {
	Plan      string `json:"plan"`
	PlanLimit int    `json:"plan_limit"`
}

func updatePlanHandler(tenants repository.TenantsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
		}
		var req updatePlanReq
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "bad request")
		}
		if req.Plan == "" || req.PlanLimit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}

		ok, err := tenants.UpdatePlan(c.Request().Context(), id, req.Plan, req.PlanLimit)
		if err != nil {
			log.Error("update plan failed", zap.Int64("tenant_id", id), zap.Error(err))
			return apierror.Internal("plan update failed")
		}
		if !ok {
			return apierror.NotFound("tenant not found")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"id":         id,
			"plan":       req.Plan,
			"plan_limit": req.PlanLimit,
		})
	}
}

type issueKeyReq struct {
	Name string `json:"name"`
}

// issueKeyHandler mints a credential. The plaintext secret appears in this
// response and nowhere else, ever.
func issueKeyHandler(tenants repository.TenantsRepository, credentials repository.CredentialsRepository, keyPrefix string, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || tenantID <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
		}
		var req issueKeyReq
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "bad request")
		}

		tenant, err := tenants.GetByID(c.Request().Context(), tenantID)
		if err != nil {
			log.Error("tenant lookup failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
			return apierror.Internal("key issuance failed")
		}
		if tenant == nil {
			return apierror.NotFound("tenant not found")
		}

		issued, err := secret.Issue(keyPrefix)
		if err != nil {
			log.Error("secret issue failed", zap.Error(err))
			return apierror.Internal("key issuance failed")
		}

		cred := model.Credential{
			ID:         util.NewULID(),
			TenantID:   tenantID,
			Prefix:     issued.Prefix,
			SecretHash: issued.Hash,
			Name:       strings.TrimSpace(req.Name),
		}
		if err := credentials.Insert(c.Request().Context(), cred); err != nil {
			log.Error("credential insert failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
			return apierror.Internal("key issuance failed")
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"id":        cred.ID,
			"tenant_id": tenantID,
			"name":      cred.Name,
			"prefix":    cred.Prefix,
			"secret":    issued.Plaintext, // shown exactly once
		})
	}
}

func revokeKeyHandler(credentials repository.CredentialsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid key id")
		}

		ok, err := credentials.Revoke(c.Request().Context(), id, time.Now())
		if err != nil {
			log.Error("revoke failed", zap.String("credential_id", id), zap.Error(err))
			return apierror.Internal("key revocation failed")
		}
		if !ok {
			return apierror.NotFound("key not found")
		}
		return c.JSON(http.StatusOK, map[string]any{"id": id, "revoked": true})
	}
}
