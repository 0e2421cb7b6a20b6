package middleware

import (
	"crypto/subtle"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/xeo-systems/org-platform/internal/apierror"
)

// HeaderAdminToken authenticates the operator/dashboard surface. Requests
// authenticated this way carry no API-credential identity, so the request
// gate never meters them.
const HeaderAdminToken = "X-Admin-Token"

// AdminTokenAuth guards admin routes with a static shared token from
// config. An empty configured token disables the surface outright.
func AdminTokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return apierror.Unauthorized("admin access disabled")
			}
			got := strings.TrimSpace(c.Request().Header.Get(HeaderAdminToken))
			if len(got) != len(token) ||
				subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return apierror.Unauthorized("invalid admin token")
			}
			return next(c)
		}
	}
}
