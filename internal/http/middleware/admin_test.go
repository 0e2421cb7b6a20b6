package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeo-systems/org-platform/internal/apierror"
)

func adminRequest(t *testing.T, configured, sent string) (error, bool) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants", nil)
	if sent != "" {
		req.Header.Set(HeaderAdminToken, sent)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := AdminTokenAuth(configured)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(c)
	return err, called
}

func TestAdminTokenAuth(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		err, called := adminRequest(t, "s3cret", "s3cret")
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("wrong token", func(t *testing.T) {
		err, called := adminRequest(t, "s3cret", "nope")
		var apiErr *apierror.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, apierror.CodeUnauthorized, apiErr.Code)
		assert.False(t, called)
	})

	t.Run("missing header", func(t *testing.T) {
		err, called := adminRequest(t, "s3cret", "")
		require.Error(t, err)
		assert.False(t, called)
	})

	t.Run("empty config disables surface", func(t *testing.T) {
		// Even a matching empty header must not pass.
		err, called := adminRequest(t, "", "")
		var apiErr *apierror.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, apierror.CodeUnauthorized, apiErr.Code)
		assert.False(t, called)
	})
}
