package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/config"
	"github.com/xeo-systems/org-platform/internal/ledger"
	"github.com/xeo-systems/org-platform/internal/http/middleware"
	"github.com/xeo-systems/org-platform/internal/logger"
	"github.com/xeo-systems/org-platform/internal/metrics"
	"github.com/xeo-systems/org-platform/internal/ratelimit"
	"github.com/xeo-systems/org-platform/internal/repository"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	log := logger.L()

	// repos (MySQL)
	tenantsRepo := repository.NewTenantsRepository(mysqlDB)
	credentialsRepo := repository.NewCredentialsRepository(mysqlDB)
	subscriptionsRepo := repository.NewSubscriptionsRepository(mysqlDB)
	usageRepo := repository.NewUsageRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	// repos (ClickHouse)
	chEventsRepo := repository.NewCHEventsRepository(clickhouseDB)

	// core
	usageLedger := ledger.New(mysqlDB, tenantsRepo, subscriptionsRepo, usageRepo, outboxRepo, log)
	limiter := ratelimit.New(cfg.RateLimit.EvictThreshold)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.RequestID(), echoMid.Recover())
	e.HTTPErrorHandler = errorHandler(log)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyAuth(middleware.AuthConfig{
		Credentials:   credentialsRepo,
		Limiter:       limiter,
		KeyUsage:      usageLedger,
		SecretPrefix:  cfg.Auth.SecretPrefix,
		KeyLimit:      cfg.Auth.KeyLimit,
		KeyWindow:     cfg.Auth.KeyWindow,
		KeyDailyLimit: cfg.Auth.KeyDailyLimit,
		Log:           log,
	})
	gateMW := middleware.RequestGate(usageLedger, log)

	// metered API-key routes: authenticate, then reserve/settle
	v1 := e.Group("/v1", authMW, gateMW)
	v1.GET("/usage", usageSummaryHandler(usageLedger, rds, cfg.Redis.UsageTTL, log))
	v1.GET("/usage/events", listEventsHandler(chEventsRepo, log))

	// dashboard surface: admin token, never metered
	admin := e.Group("/admin", middleware.AdminTokenAuth(cfg.Auth.AdminToken))
	admin.POST("/tenants", createTenantHandler(tenantsRepo, log))
	admin.PUT("/tenants/:id/plan", updatePlanHandler(tenantsRepo, log))
	admin.POST("/tenants/:id/keys", issueKeyHandler(tenantsRepo, credentialsRepo, cfg.Auth.SecretPrefix, log))
	admin.DELETE("/keys/:id", revokeKeyHandler(credentialsRepo, log))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	logger.L().Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// errorHandler serializes the closed error taxonomy. RATE_LIMIT responses
// always carry a Retry-After transport header; internal detail never leaks
// into the body.
func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *apierror.Error
		if !errors.As(err, &apiErr) {
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				code := apierror.CodeInternal
				switch httpErr.Code {
				case http.StatusNotFound:
					code = apierror.CodeNotFound
				case http.StatusUnauthorized:
					code = apierror.CodeUnauthorized
				case http.StatusTooManyRequests:
					code = apierror.CodeRateLimit
				}
				apiErr = &apierror.Error{Code: code, Message: fmt.Sprint(httpErr.Message)}
			} else {
				log.Error("unhandled request error", zap.Error(err))
				apiErr = apierror.Internal("internal error")
			}
		}

		out := *apiErr
		out.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
		if out.Code == apierror.CodeRateLimit {
			c.Response().Header().Set("Retry-After", strconv.Itoa(out.RetryAfterSeconds))
		}
		if jsonErr := c.JSON(out.HTTPStatus(), out); jsonErr != nil {
			log.Error("error response write failed", zap.Error(jsonErr))
		}
	}
}
